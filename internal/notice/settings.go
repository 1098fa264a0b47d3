package notice

import (
	"fmt"
	"os/exec"
	"runtime"
)

// BluetoothSettingsTarget returns the deep link to the platform's Bluetooth
// settings for the given GOOS value.
func BluetoothSettingsTarget(goos string) string {
	switch goos {
	case "ios":
		return "App-Prefs:Bluetooth"
	case "android":
		return "android.settings.BLUETOOTH_SETTINGS"
	case "darwin":
		return "x-apple.systempreferences:com.apple.preferences.Bluetooth"
	case "windows":
		return "ms-settings:bluetooth"
	default:
		return "bluetooth"
	}
}

// BluetoothSettings returns the "Activate Bluetooth" action for goos.
func BluetoothSettings(goos string) Action {
	return Action{
		Label:  "Activate Bluetooth",
		Target: BluetoothSettingsTarget(goos),
	}
}

// Open runs the action: its callback if set, then its deep link if set.
func Open(a Action) error {
	if a.Run != nil {
		a.Run()
	}
	if a.Target == "" {
		return nil
	}
	cmd, err := openCommand(runtime.GOOS, a.Target)
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("notice: open %s: %w", a.Target, err)
	}
	// Release the child; the settings app outlives us.
	return cmd.Process.Release()
}

func openCommand(goos, target string) (*exec.Cmd, error) {
	switch goos {
	case "darwin":
		return exec.Command("open", target), nil
	case "windows":
		return exec.Command("cmd", "/c", "start", "", target), nil
	case "linux":
		if target == "bluetooth" {
			if path, err := exec.LookPath("gnome-control-center"); err == nil {
				return exec.Command(path, "bluetooth"), nil
			}
			if path, err := exec.LookPath("blueman-manager"); err == nil {
				return exec.Command(path), nil
			}
		}
		return exec.Command("xdg-open", target), nil
	default:
		return nil, fmt.Errorf("notice: cannot open %q on %s", target, goos)
	}
}
