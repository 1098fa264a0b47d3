// Package ble manages the link to a single wearable sensor over Bluetooth
// Low Energy: adapter power state, bounded discovery scans, connect with
// timeout, auto-reconnect to the bound device, characteristic
// subscriptions with payload decoding, and teardown on every exit path.
package ble

import (
	"context"
	"time"
)

// Sensor GATT UUIDs. The wearable exposes one telemetry service with a
// single notify characteristic carrying JSON game readings.
const (
	TelemetryServiceUUID = "4fafc201-1fb5-459e-8fcc-c5c9c331914b"
	TelemetryCharUUID    = "beb5483e-36e1-4688-b7f5-ea07361b26a8"
)

// AdapterState is the local radio's power/availability status.
type AdapterState int

const (
	StateUnknown AdapterState = iota
	StateResetting
	StateUnsupported
	StateUnauthorized
	StatePoweredOff
	StatePoweredOn
)

func (s AdapterState) String() string {
	switch s {
	case StateResetting:
		return "Resetting"
	case StateUnsupported:
		return "Unsupported"
	case StateUnauthorized:
		return "Unauthorized"
	case StatePoweredOff:
		return "PoweredOff"
	case StatePoweredOn:
		return "PoweredOn"
	default:
		return "Unknown"
	}
}

// Device represents a discovered BLE peripheral.
type Device struct {
	ID           string
	Name         string
	RSSI         int
	DiscoveredAt time.Time
}

// ScanFilter narrows discovery. Zero value matches every advertisement.
type ScanFilter struct {
	ServiceUUID string
	NamePrefix  string
}

// Subscription is a registered listener; Remove unregisters it.
// Remove must be safe to call more than once.
type Subscription interface {
	Remove()
}

// Peripheral is the transport handle of one established link.
type Peripheral interface {
	// ID returns the device identifier the link was opened with.
	ID() string
	// Name returns the advertised name, if known.
	Name() string
	// RequestMTU asks for mtu bytes and returns what the peer granted.
	RequestMTU(mtu int) (int, error)
	// DiscoverServices discovers all services and characteristics.
	DiscoverServices() error
	// Monitor registers for notifications on a characteristic. Values are
	// delivered base64 encoded; a non-nil err reports a transport fault.
	Monitor(serviceID, charID string, fn func(value string, err error)) (Subscription, error)
	// OnDisconnected registers fn for a peer-initiated drop of this link.
	OnDisconnected(fn func(err error)) Subscription
}

// Adapter abstracts the BLE radio for testing.
type Adapter interface {
	// State returns the current radio state.
	State() AdapterState
	// OnStateChange registers fn for radio state transitions.
	OnStateChange(fn func(AdapterState)) Subscription
	// Scan reports advertisements to fn until ctx is done or StopScan is
	// called. It returns a non-nil error only for radio faults.
	Scan(ctx context.Context, filter ScanFilter, fn func(Device)) error
	// StopScan ends a running scan.
	StopScan() error
	// Connect establishes a link to the device with the given identifier.
	// When it returns an error no link to the device may remain, including
	// one the radio completes after ctx is done.
	Connect(ctx context.Context, id string) (Peripheral, error)
	// CancelConnection tears down the link to id.
	CancelConnection(id string) error
	// IsConnected reports whether the link to id is still live.
	IsConnected(id string) (bool, error)
}

// SubscriptionFunc adapts a plain func to Subscription.
type SubscriptionFunc func()

// Remove calls f.
func (f SubscriptionFunc) Remove() { f() }
