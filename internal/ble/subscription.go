package ble

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/chaz8081/sensorlink/internal/notice"
)

// DataFunc receives decoded notification text and the characteristic it
// arrived on.
type DataFunc func(text, charID string)

type subKey struct {
	service string
	char    string
}

// SubscriptionHandle is an active characteristic subscription owned by a
// Connection.
type SubscriptionHandle struct {
	ID               string
	ServiceID        string
	CharacteristicID string

	conn      *Connection
	sub       Subscription
	once      sync.Once
	cancelled atomic.Bool
	reported  atomic.Bool
}

// Cancel removes the underlying listener. It is idempotent and safe to call
// after the owning Connection has ended.
func (h *SubscriptionHandle) Cancel() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		h.cancelled.Store(true)
		h.conn.forget(h)
		if h.sub != nil {
			h.sub.Remove()
		}
		slog.Debug("[BLE] subscription cancelled", "id", h.ID, "char", h.CharacteristicID)
	})
}

// Active reports whether the handle still delivers data.
func (h *SubscriptionHandle) Active() bool {
	return h != nil && !h.cancelled.Load()
}

// adopt registers h, returning the handle it replaces. ok is false when
// the connection already ended.
func (c *Connection) adopt(h *SubscriptionHandle) (prev *SubscriptionHandle, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		return nil, false
	}
	key := subKey{h.ServiceID, h.CharacteristicID}
	prev = c.subs[key]
	c.subs[key] = h
	return prev, true
}

func (c *Connection) lookup(key subKey) *SubscriptionHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[key]
}

func (c *Connection) forget(h *SubscriptionHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := subKey{h.ServiceID, h.CharacteristicID}
	if c.subs[key] == h {
		delete(c.subs, key)
	}
}

// Subscribe monitors a characteristic on the live connection and hands
// each decoded notification to onData in arrival order. It returns nil and
// notifies the user when there is no connection, an identifier is empty,
// or the transport refuses. Subscribing again to the same characteristic
// replaces the previous handle.
func (m *Manager) Subscribe(serviceID, charID string, onData DataFunc) *SubscriptionHandle {
	conn := m.Current()
	if conn == nil || serviceID == "" || charID == "" || onData == nil {
		slog.Warn("[BLE] subscribe rejected", "error", ErrSubscriptionInvalidArgs,
			"connected", conn != nil, "service", serviceID, "char", charID)
		m.notifier.Notify(notice.New("Subscription Error", "Invalid characteristic or service UUID"))
		return nil
	}

	// A transport keeps one listener per characteristic, so the old handle
	// must be gone before the new one registers.
	if prev := conn.lookup(subKey{serviceID, charID}); prev != nil {
		slog.Debug("[BLE] replacing subscription", "char", charID, "previous", prev.ID)
		prev.Cancel()
	}

	h := &SubscriptionHandle{
		ID:               uuid.NewString(),
		ServiceID:        serviceID,
		CharacteristicID: charID,
		conn:             conn,
	}

	sub, err := conn.peripheral.Monitor(serviceID, charID, func(value string, err error) {
		m.deliver(h, value, err, onData)
	})
	if err != nil {
		slog.Error("[BLE] monitor characteristic", "char", charID, "error", err)
		m.notifier.Notify(notice.New("Unexpected Error", fmt.Sprintf("An unexpected error occurred: %v", err)))
		return nil
	}
	h.sub = sub

	prev, ok := conn.adopt(h)
	if !ok {
		slog.Info("[BLE] connection ended during subscribe", "char", charID)
		h.Cancel()
		return nil
	}
	if prev != nil {
		prev.Cancel()
	}

	slog.Info("[BLE] subscribed", "id", h.ID, "service", serviceID, "char", charID)
	return h
}

// deliver decodes one notification for h. Transport errors are logged and
// leave the subscription in place.
func (m *Manager) deliver(h *SubscriptionHandle, value string, err error, onData DataFunc) {
	if h.cancelled.Load() {
		return
	}
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrSubscriptionTransport, err)
		slog.Warn("[BLE] subscription error", "char", h.CharacteristicID, "error", err)
		if h.reported.CompareAndSwap(false, true) {
			m.notifier.Notify(notice.New("Subscription Error", fmt.Sprintf("Failed to receive notifications: %v", err)))
		}
		return
	}
	if value == "" {
		return
	}

	text, err := DecodePayload(value)
	if err != nil {
		slog.Warn("[BLE] dropping undecodable payload", "char", h.CharacteristicID, "error", err)
		return
	}
	onData(text, h.CharacteristicID)
}

// DecodePayload turns a base64 notification value into UTF-8 text.
// Padding is optional and invalid UTF-8 sequences become U+FFFD.
func DecodePayload(value string) (string, error) {
	value = strings.TrimSpace(value)
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		var rawErr error
		raw, rawErr = base64.RawStdEncoding.DecodeString(strings.TrimRight(value, "="))
		if rawErr != nil {
			return "", fmt.Errorf("ble: decode payload: %w", err)
		}
	}
	return strings.ToValidUTF8(string(raw), "\uFFFD"), nil
}

// EncodePayload is the inverse of DecodePayload, used by transports that
// receive raw bytes from the radio.
func EncodePayload(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}
