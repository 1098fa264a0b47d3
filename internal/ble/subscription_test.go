package ble

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type collector struct {
	mu    sync.Mutex
	texts []string
}

func (c *collector) add(text, _ string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, text)
}

func (c *collector) got() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.texts...)
}

func connected(t *testing.T) (*harness, *mockPeripheral) {
	t.Helper()
	adapter := newMockAdapter(StatePoweredOn)
	p := adapter.preparePeripheral("AA", "Sensor")
	h := newHarness(t, adapter, DefaultManagerOptions())
	if err := h.manager.Connect(context.Background(), "AA"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return h, p
}

func TestSubscribeDeliversInOrder(t *testing.T) {
	h, p := connected(t)
	c := &collector{}

	sub := h.manager.Subscribe(TelemetryServiceUUID, TelemetryCharUUID, c.add)
	if sub == nil {
		t.Fatal("Subscribe() = nil")
	}
	if sub.ID == "" {
		t.Error("subscription has no ID")
	}

	for _, v := range []string{"first", "second", "third"} {
		p.SimulateNotification(TelemetryServiceUUID, TelemetryCharUUID, EncodePayload([]byte(v)))
	}
	// Empty values are skipped.
	p.SimulateNotification(TelemetryServiceUUID, TelemetryCharUUID, "")

	got := c.got()
	want := []string{"first", "second", "third"}
	if len(got) != len(want) {
		t.Fatalf("delivered %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delivered[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if n := h.manager.Current().Subscriptions(); n != 1 {
		t.Errorf("Subscriptions() = %d, want 1", n)
	}
}

func TestSubscribeRejectsInvalidArgs(t *testing.T) {
	h, p := connected(t)

	tests := []struct {
		name    string
		service string
		char    string
		fn      DataFunc
	}{
		{name: "empty characteristic", service: TelemetryServiceUUID, fn: func(string, string) {}},
		{name: "empty service", char: TelemetryCharUUID, fn: func(string, string) {}},
		{name: "nil callback", service: TelemetryServiceUUID, char: TelemetryCharUUID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := h.notifier.count("Subscription Error")
			if sub := h.manager.Subscribe(tt.service, tt.char, tt.fn); sub != nil {
				t.Error("Subscribe() returned a handle for invalid arguments")
			}
			if p.listeners() != 0 {
				t.Error("a listener was registered")
			}
			if h.notifier.count("Subscription Error") != before+1 {
				t.Error("no Subscription Error notice")
			}
		})
	}
}

func TestSubscribeWithoutConnection(t *testing.T) {
	h := newHarness(t, newMockAdapter(StatePoweredOn), DefaultManagerOptions())

	if sub := h.manager.Subscribe(TelemetryServiceUUID, TelemetryCharUUID, func(string, string) {}); sub != nil {
		t.Error("Subscribe() without a connection returned a handle")
	}
	for _, n := range h.notifier.all() {
		if n.Title == "Subscription Error" && n.Message == "Invalid characteristic or service UUID" {
			return
		}
	}
	t.Errorf("notices = %+v, want Subscription Error", h.notifier.all())
}

func TestSubscribeMonitorError(t *testing.T) {
	h, p := connected(t)
	p.mu.Lock()
	p.monitorErr = errors.New("not found")
	p.mu.Unlock()

	if sub := h.manager.Subscribe(TelemetryServiceUUID, TelemetryCharUUID, func(string, string) {}); sub != nil {
		t.Error("Subscribe() returned a handle after monitor failure")
	}
	if h.notifier.count("Unexpected Error") != 1 {
		t.Errorf("notices = %+v, want Unexpected Error", h.notifier.all())
	}
}

func TestSubscriptionCancelIsIdempotent(t *testing.T) {
	h, p := connected(t)
	c := &collector{}
	sub := h.manager.Subscribe(TelemetryServiceUUID, TelemetryCharUUID, c.add)

	sub.Cancel()
	sub.Cancel()

	if p.removals() != 1 {
		t.Errorf("listener removed %d times, want 1", p.removals())
	}
	if sub.Active() {
		t.Error("Active() after Cancel")
	}
	if n := h.manager.Current().Subscriptions(); n != 0 {
		t.Errorf("Subscriptions() = %d, want 0", n)
	}
	p.SimulateNotification(TelemetryServiceUUID, TelemetryCharUUID, EncodePayload([]byte("late")))
	if len(c.got()) != 0 {
		t.Error("data delivered after Cancel")
	}
}

func TestSubscriptionCancelAfterTeardown(t *testing.T) {
	h, p := connected(t)
	sub := h.manager.Subscribe(TelemetryServiceUUID, TelemetryCharUUID, func(string, string) {})

	if err := h.manager.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	sub.Cancel()

	if p.removals() != 1 {
		t.Errorf("listener removed %d times, want 1", p.removals())
	}

	var nilHandle *SubscriptionHandle
	nilHandle.Cancel()
}

func TestSubscribeReplacesSameCharacteristic(t *testing.T) {
	h, p := connected(t)
	first := &collector{}
	second := &collector{}

	a := h.manager.Subscribe(TelemetryServiceUUID, TelemetryCharUUID, first.add)
	b := h.manager.Subscribe(TelemetryServiceUUID, TelemetryCharUUID, second.add)

	if a.Active() {
		t.Error("replaced handle still active")
	}
	if !b.Active() {
		t.Error("new handle not active")
	}
	p.SimulateNotification(TelemetryServiceUUID, TelemetryCharUUID, EncodePayload([]byte("x")))
	if len(first.got()) != 0 || len(second.got()) != 1 {
		t.Errorf("first=%v second=%v, want only second to receive", first.got(), second.got())
	}
	if n := h.manager.Current().Subscriptions(); n != 1 {
		t.Errorf("Subscriptions() = %d, want 1", n)
	}
}

func TestSubscriptionTransportErrorKeepsListening(t *testing.T) {
	h, p := connected(t)
	c := &collector{}
	sub := h.manager.Subscribe(TelemetryServiceUUID, TelemetryCharUUID, c.add)

	p.SimulateError(TelemetryServiceUUID, TelemetryCharUUID, errors.New("crc"))
	p.SimulateError(TelemetryServiceUUID, TelemetryCharUUID, errors.New("crc"))
	p.SimulateNotification(TelemetryServiceUUID, TelemetryCharUUID, EncodePayload([]byte("ok")))

	if !sub.Active() {
		t.Error("transport error cancelled the subscription")
	}
	if got := c.got(); len(got) != 1 || got[0] != "ok" {
		t.Errorf("delivered %v, want [ok]", got)
	}
	if n := h.notifier.count("Subscription Error"); n != 1 {
		t.Errorf("Subscription Error notices = %d, want 1", n)
	}
}

func TestDecodePayload(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "padded", in: "aGVsbG8=", want: "hello"},
		{name: "unpadded", in: "aGk", want: "hi"},
		{name: "json", in: EncodePayload([]byte(`{"p":12}`)), want: `{"p":12}`},
		{name: "invalid utf8", in: "/w==", want: "\uFFFD"},
		{name: "empty", in: "", want: ""},
		{name: "not base64", in: "!!!", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodePayload(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodePayload(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("DecodePayload(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
