package ble

import (
	"context"
	"log/slog"
)

// Permission names a platform radio permission.
type Permission string

const (
	PermissionScan    Permission = "android.permission.BLUETOOTH_SCAN"
	PermissionConnect Permission = "android.permission.BLUETOOTH_CONNECT"
)

// PermissionRequester shows the platform prompt for perms in one request
// and returns the grant result per permission.
type PermissionRequester interface {
	RequestPermissions(ctx context.Context, perms []Permission) (map[Permission]bool, error)
}

// PermissionGate reports whether the radio may be used.
type PermissionGate interface {
	RequestPermissions(ctx context.Context) bool
}

// NewPermissionGate returns the gate for goos. Only android requires
// explicit runtime grants; every other platform is always allowed.
func NewPermissionGate(goos string, requester PermissionRequester) PermissionGate {
	if goos != "android" || requester == nil {
		return AllowAll{}
	}
	return &requestGate{
		requester: requester,
		perms:     []Permission{PermissionScan, PermissionConnect},
	}
}

// AllowAll is the gate for platforms without runtime radio permissions.
type AllowAll struct{}

// RequestPermissions always returns true.
func (AllowAll) RequestPermissions(context.Context) bool { return true }

type requestGate struct {
	requester PermissionRequester
	perms     []Permission
}

func (g *requestGate) RequestPermissions(ctx context.Context) bool {
	granted, err := g.requester.RequestPermissions(ctx, g.perms)
	if err != nil {
		slog.Warn("[BLE] permission request failed", "error", err)
		return false
	}
	for _, p := range g.perms {
		if !granted[p] {
			slog.Info("[BLE] permission not granted", "permission", p)
			return false
		}
	}
	return true
}
