package ble

import (
	"context"
	"log/slog"
)

// AppState is the host application's foreground state.
type AppState int

const (
	AppActive AppState = iota
	AppInactive
	AppBackground
)

func (s AppState) String() string {
	switch s {
	case AppActive:
		return "active"
	case AppInactive:
		return "inactive"
	default:
		return "background"
	}
}

// LifecycleWatcher reconciles the connection when the app returns to the
// foreground: if the transport no longer reports the link as live, local
// state and the binding are cleared without alerting the user.
type LifecycleWatcher struct {
	m *Manager
}

// NewLifecycleWatcher creates a watcher for m.
func NewLifecycleWatcher(m *Manager) *LifecycleWatcher {
	return &LifecycleWatcher{m: m}
}

// HandleAppState reacts to one app state change. It reports whether a
// stale connection was cleared.
func (w *LifecycleWatcher) HandleAppState(next AppState) bool {
	if next != AppActive {
		return false
	}
	conn := w.m.Current()
	if conn == nil {
		return false
	}

	live, err := w.m.adapter.IsConnected(conn.DeviceID)
	if err != nil {
		slog.Debug("[BLE] liveness check failed", "id", conn.DeviceID, "error", err)
	}
	if err == nil && live {
		return false
	}
	return w.m.reconcile(conn)
}

// Run handles states until ctx is done or states is closed.
func (w *LifecycleWatcher) Run(ctx context.Context, states <-chan AppState) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-states:
			if !ok {
				return
			}
			w.HandleAppState(s)
		}
	}
}
