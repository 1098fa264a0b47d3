package ble

import "errors"

// Error kinds surfaced by the core. Wrapped errors keep the transport's
// message; match them with errors.Is.
var (
	ErrPermissionDenied        = errors.New("ble: permission denied")
	ErrAdapterUnavailable      = errors.New("ble: adapter unavailable")
	ErrConnectTimeout          = errors.New("ble: connection timeout")
	ErrConnectFailure          = errors.New("ble: connect failed")
	ErrServiceDiscovery        = errors.New("ble: service discovery failed")
	ErrSubscriptionInvalidArgs = errors.New("ble: invalid characteristic or service UUID")
	ErrSubscriptionTransport   = errors.New("ble: subscription transport error")
	ErrDisconnectFailure       = errors.New("ble: disconnect failed")
	ErrSaveBinding             = errors.New("ble: save binding failed")
	ErrNotConnected            = errors.New("ble: no device connected")
)
