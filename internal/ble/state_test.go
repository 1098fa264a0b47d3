package ble

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStateMonitorInitialState(t *testing.T) {
	adapter := newMockAdapter(StatePoweredOn)
	m := NewStateMonitor(adapter, nil)
	m.Start()
	defer m.Stop()

	if got := m.Current(); got != StatePoweredOn {
		t.Errorf("Current() = %v, want PoweredOn", got)
	}

	ch, cancel := m.Subscribe()
	defer cancel()
	select {
	case s := <-ch:
		if s != StatePoweredOn {
			t.Errorf("first state = %v, want PoweredOn", s)
		}
	case <-time.After(time.Second):
		t.Fatal("no initial state delivered")
	}
}

func TestStateMonitorPoweredOffNotice(t *testing.T) {
	adapter := newMockAdapter(StatePoweredOn)
	n := &recordingNotifier{}
	m := NewStateMonitor(adapter, n)
	m.goos = "ios"
	m.Start()
	defer m.Stop()

	adapter.SetState(StatePoweredOff)
	adapter.SetState(StatePoweredOff)

	notices := n.all()
	if len(notices) != 1 {
		t.Fatalf("got %d notices, want 1: %+v", len(notices), notices)
	}
	got := notices[0]
	if got.Title != "Bluetooth is off" || got.Message != "Please turn on Bluetooth" {
		t.Errorf("notice = %q/%q", got.Title, got.Message)
	}
	if len(got.Actions) != 1 || got.Actions[0].Label != "Activate Bluetooth" {
		t.Fatalf("actions = %+v, want Activate Bluetooth", got.Actions)
	}
	if got.Actions[0].Target != "App-Prefs:Bluetooth" {
		t.Errorf("action target = %q", got.Actions[0].Target)
	}

	adapter.SetState(StatePoweredOn)
	if m.Current() != StatePoweredOn {
		t.Errorf("Current() = %v, want PoweredOn", m.Current())
	}
	adapter.SetState(StatePoweredOff)
	if len(n.all()) != 2 {
		t.Error("second power-off after power-on did not notify")
	}
}

func TestStateMonitorStopRemovesListener(t *testing.T) {
	adapter := newMockAdapter(StatePoweredOn)
	m := NewStateMonitor(adapter, nil)
	m.Start()
	m.Start()
	m.Stop()

	adapter.SetState(StatePoweredOff)
	if m.Current() != StatePoweredOn {
		t.Error("stopped monitor still tracks the adapter")
	}
}

func TestAdapterStateString(t *testing.T) {
	tests := []struct {
		s    AdapterState
		want string
	}{
		{StateUnknown, "Unknown"},
		{StateResetting, "Resetting"},
		{StateUnsupported, "Unsupported"},
		{StateUnauthorized, "Unauthorized"},
		{StatePoweredOff, "PoweredOff"},
		{StatePoweredOn, "PoweredOn"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestLifecycleReconcilesStaleLink(t *testing.T) {
	adapter := newMockAdapter(StatePoweredOn)
	h := newHarness(t, adapter, DefaultManagerOptions())
	if err := h.manager.Connect(context.Background(), "AA"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	sub := h.manager.Subscribe(TelemetryServiceUUID, TelemetryCharUUID, func(string, string) {})
	w := NewLifecycleWatcher(h.manager)

	if w.HandleAppState(AppActive) {
		t.Fatal("live link was reconciled")
	}

	adapter.setLive("AA", false)
	if w.HandleAppState(AppBackground) {
		t.Error("background transition reconciled")
	}
	if !w.HandleAppState(AppActive) {
		t.Fatal("stale link not reconciled")
	}

	if h.manager.State() != ConnIdle || h.manager.Current() != nil {
		t.Errorf("state = %v, want Idle with no connection", h.manager.State())
	}
	if sub.Active() {
		t.Error("subscription survived reconcile")
	}
	if got := h.bound(); got != "" {
		t.Errorf("binding = %q, want cleared", got)
	}
	if n := len(h.notifier.all()); n != 0 {
		t.Errorf("reconcile raised %d notices, want none", n)
	}
	if w.HandleAppState(AppActive) {
		t.Error("second reconcile reported a change")
	}
}

func TestLifecycleLivenessError(t *testing.T) {
	adapter := newMockAdapter(StatePoweredOn)
	h := newHarness(t, adapter, DefaultManagerOptions())
	if err := h.manager.Connect(context.Background(), "AA"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	adapter.mu.Lock()
	adapter.liveErr = errors.New("unknown device")
	adapter.mu.Unlock()

	if !NewLifecycleWatcher(h.manager).HandleAppState(AppActive) {
		t.Error("liveness error did not clear the connection")
	}
}

func TestLifecycleRun(t *testing.T) {
	adapter := newMockAdapter(StatePoweredOn)
	h := newHarness(t, adapter, DefaultManagerOptions())
	if err := h.manager.Connect(context.Background(), "AA"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	adapter.setLive("AA", false)

	states := make(chan AppState)
	done := make(chan struct{})
	go func() {
		NewLifecycleWatcher(h.manager).Run(context.Background(), states)
		close(done)
	}()
	states <- AppInactive
	states <- AppActive
	close(states)
	<-done

	if h.manager.Current() != nil {
		t.Error("Run did not reconcile on AppActive")
	}
}

func TestPermissionGate(t *testing.T) {
	tests := []struct {
		name      string
		goos      string
		requester PermissionRequester
		want      bool
	}{
		{name: "linux", goos: "linux", want: true},
		{name: "ios", goos: "ios", requester: fakeRequester{}, want: true},
		{name: "android without requester", goos: "android", want: true},
		{name: "android all granted", goos: "android", requester: fakeRequester{grant: map[Permission]bool{
			PermissionScan: true, PermissionConnect: true,
		}}, want: true},
		{name: "android one denied", goos: "android", requester: fakeRequester{grant: map[Permission]bool{
			PermissionScan: true,
		}}, want: false},
		{name: "android error", goos: "android", requester: fakeRequester{err: errors.New("no activity")}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := NewPermissionGate(tt.goos, tt.requester)
			if got := gate.RequestPermissions(context.Background()); got != tt.want {
				t.Errorf("RequestPermissions() = %v, want %v", got, tt.want)
			}
		})
	}
}

type fakeRequester struct {
	grant map[Permission]bool
	err   error
}

func (f fakeRequester) RequestPermissions(context.Context, []Permission) (map[Permission]bool, error) {
	return f.grant, f.err
}

func TestBinding(t *testing.T) {
	kv := newMemKV()
	b := NewBinding(kv)

	if _, ok := b.Load(); ok {
		t.Error("Load() on empty store reported a binding")
	}
	b.Save("AA")
	if id, ok := b.Load(); !ok || id != "AA" {
		t.Errorf("Load() = %q, %v; want AA, true", id, ok)
	}
	b.Clear()
	if _, ok := b.Load(); ok {
		t.Error("Load() after Clear reported a binding")
	}

	kv.setErr = errors.New("read-only")
	b.Save("BB")
	if _, ok := b.Load(); ok {
		t.Error("failed save left a binding")
	}

	var nilBinding *Binding
	nilBinding.Save("x")
	nilBinding.Clear()
	if _, ok := NewBinding(nil).Load(); ok {
		t.Error("nil store reported a binding")
	}
}

func TestOnceGate(t *testing.T) {
	calls := 0
	g := NewOnceGate(func() { calls++ })

	select {
	case <-g.Done():
		t.Fatal("Done closed before Release")
	default:
	}

	g.Release()
	g.Release()

	if calls != 1 {
		t.Errorf("gate func ran %d times, want 1", calls)
	}
	select {
	case <-g.Done():
	default:
		t.Error("Done not closed after Release")
	}
}
