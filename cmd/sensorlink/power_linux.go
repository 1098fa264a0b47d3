package main

import (
	"log/slog"

	"github.com/chaz8081/sensorlink/internal/bluez"
)

// newPowerSource watches the BlueZ controller so rfkill and power toggles
// reach the state monitor.
func newPowerSource(adapterName string) powerSource {
	w, err := bluez.NewPowerWatcher(adapterName)
	if err != nil {
		slog.Warn("[BLE] BlueZ power watch unavailable, using adapter enable result", "error", err)
		return nil
	}
	return w
}
