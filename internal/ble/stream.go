package ble

import (
	"context"
	"log/slog"
)

// Stream keeps one subscription to the given characteristic on whatever
// connection is live, subscribing again after every connect. It blocks
// until ctx is done or the manager is closed.
func (m *Manager) Stream(ctx context.Context, serviceID, charID string, onData DataFunc) {
	events, cancel := m.Events()
	defer cancel()

	var last *Connection
	attach := func() {
		conn := m.Current()
		if conn == nil || conn == last {
			return
		}
		if m.Subscribe(serviceID, charID, onData) != nil {
			last = conn
		}
	}
	attach()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				slog.Debug("[BLE] stream ended", "char", charID)
				return
			}
			if ev.Kind == EventStateChanged && ev.State == ConnConnected {
				attach()
			}
		}
	}
}
