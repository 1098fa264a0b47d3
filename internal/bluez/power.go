// Package bluez reports the Linux Bluetooth adapter power state from BlueZ
// over the system D-Bus. The tinygo stack can enable the radio but never
// says when the user switches it off; this fills that gap.
package bluez

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/chaz8081/sensorlink/internal/ble"
)

const (
	bluezBus          = "org.bluez"
	adapterIface      = "org.bluez.Adapter1"
	propertiesIface   = "org.freedesktop.DBus.Properties"
	propertiesChanged = propertiesIface + ".PropertiesChanged"
)

// AdapterPath returns the object path of the named controller ("hci0").
func AdapterPath(name string) dbus.ObjectPath {
	return dbus.ObjectPath("/org/bluez/" + name)
}

// StateFromProperties maps Adapter1 properties to an adapter state. ok is
// false when props carry no power information. PowerState (BlueZ 5.64+) is
// preferred over the Powered flag.
func StateFromProperties(props map[string]dbus.Variant) (state ble.AdapterState, ok bool) {
	if v, has := props["PowerState"]; has {
		if s, isStr := v.Value().(string); isStr {
			switch s {
			case "on":
				return ble.StatePoweredOn, true
			case "off", "off-blocked":
				return ble.StatePoweredOff, true
			case "off-enabling", "on-disabling":
				return ble.StateResetting, true
			}
		}
	}
	if v, has := props["Powered"]; has {
		if on, isBool := v.Value().(bool); isBool {
			if on {
				return ble.StatePoweredOn, true
			}
			return ble.StatePoweredOff, true
		}
	}
	return ble.StateUnknown, false
}

// PowerWatcher follows one adapter's power state. It implements
// ble.StateSource.
type PowerWatcher struct {
	conn *dbus.Conn
	path dbus.ObjectPath
	rule string

	mu     sync.Mutex
	state  ble.AdapterState
	fns    map[int]func(ble.AdapterState)
	nextID int

	sigCh    chan *dbus.Signal
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewPowerWatcher connects to the system bus, reads the current state of
// the named adapter and starts listening for changes. A missing adapter is
// reported as Unsupported rather than an error.
func NewPowerWatcher(adapterName string) (*PowerWatcher, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("bluez: connect to system D-Bus: %w", err)
	}

	w := newPowerWatcher(conn, AdapterPath(adapterName))
	w.state = w.read()

	if err := conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, w.rule).Err; err != nil {
		return nil, fmt.Errorf("bluez: add signal match: %w", err)
	}
	conn.Signal(w.sigCh)
	go w.run()

	slog.Info("[BLE] watching adapter power", "path", w.path, "state", w.state)
	return w, nil
}

func newPowerWatcher(conn *dbus.Conn, path dbus.ObjectPath) *PowerWatcher {
	return &PowerWatcher{
		conn: conn,
		path: path,
		rule: fmt.Sprintf(
			"type='signal',sender='%s',interface='%s',member='PropertiesChanged',path='%s'",
			bluezBus, propertiesIface, path,
		),
		fns:    make(map[int]func(ble.AdapterState)),
		sigCh:  make(chan *dbus.Signal, 16),
		stopCh: make(chan struct{}),
	}
}

func (w *PowerWatcher) read() ble.AdapterState {
	obj := w.conn.Object(bluezBus, w.path)
	props := make(map[string]dbus.Variant)
	for _, name := range []string{"PowerState", "Powered"} {
		v, err := obj.GetProperty(adapterIface + "." + name)
		if err != nil {
			continue
		}
		props[name] = v
	}
	s, ok := StateFromProperties(props)
	if !ok {
		slog.Warn("[BLE] no BlueZ adapter found", "path", w.path)
		return ble.StateUnsupported
	}
	return s
}

// State returns the last observed state.
func (w *PowerWatcher) State() ble.AdapterState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Watch registers fn for state changes.
func (w *PowerWatcher) Watch(fn func(ble.AdapterState)) (ble.Subscription, error) {
	w.mu.Lock()
	w.nextID++
	id := w.nextID
	w.fns[id] = fn
	w.mu.Unlock()

	return ble.SubscriptionFunc(func() {
		w.mu.Lock()
		delete(w.fns, id)
		w.mu.Unlock()
	}), nil
}

func (w *PowerWatcher) run() {
	for {
		select {
		case <-w.stopCh:
			return
		case sig, ok := <-w.sigCh:
			if !ok {
				return
			}
			w.handle(sig)
		}
	}
}

func (w *PowerWatcher) handle(sig *dbus.Signal) {
	if sig == nil || sig.Path != w.path || sig.Name != propertiesChanged || len(sig.Body) < 2 {
		return
	}
	if iface, _ := sig.Body[0].(string); iface != adapterIface {
		return
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}
	if s, ok := StateFromProperties(changed); ok {
		w.set(s)
	}
}

func (w *PowerWatcher) set(s ble.AdapterState) {
	w.mu.Lock()
	if w.state == s {
		w.mu.Unlock()
		return
	}
	prev := w.state
	w.state = s
	fns := make([]func(ble.AdapterState), 0, len(w.fns))
	for _, fn := range w.fns {
		fns = append(fns, fn)
	}
	w.mu.Unlock()

	slog.Debug("[BLE] adapter power changed", "state", s, "previous", prev)
	for _, fn := range fns {
		fn(s)
	}
}

// Close stops listening. The shared system bus connection stays open.
func (w *PowerWatcher) Close() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopCh)
		if w.conn == nil {
			return
		}
		w.conn.RemoveSignal(w.sigCh)
		err = w.conn.BusObject().Call("org.freedesktop.DBus.RemoveMatch", 0, w.rule).Err
	})
	return err
}

// Compile-time check that PowerWatcher implements ble.StateSource.
var _ ble.StateSource = (*PowerWatcher)(nil)
