package ble

import (
	"fmt"
	"log/slog"
)

// BindingKey is the store key holding the last connected device ID.
const BindingKey = "deviceId"

// KV is the key-value persistence the binding lives in.
type KV interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Remove(key string) error
}

// Binding remembers the last connected device across restarts.
// Storage failures are logged and swallowed: losing the binding only costs
// the auto-reconnect.
type Binding struct {
	kv KV
}

// NewBinding creates a binding over kv. A nil kv stores nothing.
func NewBinding(kv KV) *Binding {
	return &Binding{kv: kv}
}

// Save records id as the bound device.
func (b *Binding) Save(id string) {
	if b == nil || b.kv == nil {
		return
	}
	if err := b.kv.Set(BindingKey, id); err != nil {
		slog.Warn("[BLE] failed to save device binding", "error", fmt.Errorf("%w: %w", ErrSaveBinding, err))
	}
}

// Load returns the bound device ID, if any.
func (b *Binding) Load() (string, bool) {
	if b == nil || b.kv == nil {
		return "", false
	}
	id, ok, err := b.kv.Get(BindingKey)
	if err != nil {
		slog.Warn("[BLE] failed to load device binding", "error", err)
		return "", false
	}
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// Clear forgets the bound device.
func (b *Binding) Clear() {
	if b == nil || b.kv == nil {
		return
	}
	if err := b.kv.Remove(BindingKey); err != nil {
		slog.Warn("[BLE] failed to clear device binding", "error", err)
	}
}
