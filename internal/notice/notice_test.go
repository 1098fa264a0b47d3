package notice

import "testing"

func TestNewTruncatesActions(t *testing.T) {
	n := New("t", "m", Action{Label: "a"}, Action{Label: "b"}, Action{Label: "c"})
	if len(n.Actions) != MaxActions {
		t.Fatalf("len(Actions) = %d, want %d", len(n.Actions), MaxActions)
	}
	if n.Actions[1].Label != "b" {
		t.Errorf("Actions[1].Label = %q, want %q", n.Actions[1].Label, "b")
	}
	if n.Time.IsZero() {
		t.Error("Time should be set")
	}
}

func TestCenterDelivers(t *testing.T) {
	c := NewCenter()
	ch, cancel := c.Subscribe()
	defer cancel()

	c.Notify(Notice{Title: "Scan Error", Message: "boom"})

	got := <-ch
	if got.Title != "Scan Error" || got.Message != "boom" {
		t.Errorf("got %+v", got)
	}
	if got.Time.IsZero() {
		t.Error("Notify should stamp a zero Time")
	}
}

func TestBluetoothSettingsTarget(t *testing.T) {
	tests := []struct {
		goos string
		want string
	}{
		{"ios", "App-Prefs:Bluetooth"},
		{"android", "android.settings.BLUETOOTH_SETTINGS"},
		{"darwin", "x-apple.systempreferences:com.apple.preferences.Bluetooth"},
		{"windows", "ms-settings:bluetooth"},
		{"linux", "bluetooth"},
	}
	for _, tt := range tests {
		t.Run(tt.goos, func(t *testing.T) {
			if got := BluetoothSettingsTarget(tt.goos); got != tt.want {
				t.Errorf("BluetoothSettingsTarget(%q) = %q, want %q", tt.goos, got, tt.want)
			}
		})
	}
}

func TestBluetoothSettingsAction(t *testing.T) {
	a := BluetoothSettings("android")
	if a.Label != "Activate Bluetooth" {
		t.Errorf("Label = %q", a.Label)
	}
	if a.Run != nil {
		t.Error("settings action should not carry a callback")
	}
}

func TestOpenRunsCallbackWithoutTarget(t *testing.T) {
	ran := false
	if err := Open(Action{Label: "Rescan", Run: func() { ran = true }}); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !ran {
		t.Error("Open should run the action callback")
	}
}

func TestOpenCommandUnsupported(t *testing.T) {
	if _, err := openCommand("plan9", "bluetooth"); err == nil {
		t.Error("openCommand should fail on unsupported platforms")
	}
}
