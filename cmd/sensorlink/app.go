package main

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/chaz8081/sensorlink/internal/ble"
	"github.com/chaz8081/sensorlink/internal/config"
	"github.com/chaz8081/sensorlink/internal/notice"
	"github.com/chaz8081/sensorlink/internal/relay"
	"github.com/chaz8081/sensorlink/internal/store"
	"github.com/chaz8081/sensorlink/internal/telemetry"
)

// powerSource reports adapter power from outside the BLE stack.
type powerSource interface {
	ble.StateSource
	Close() error
}

// app is the wired set of services shared by the long-running commands.
type app struct {
	cfg *config.Config

	store     *store.File
	notices   *notice.Center
	power     powerSource
	adapter   *ble.TinygoAdapter
	monitor   *ble.StateMonitor
	scanner   *ble.Scanner
	manager   *ble.Manager
	lifecycle *ble.LifecycleWatcher
	pipeline  *telemetry.Pipeline

	hub    *relay.Hub
	server *relay.Server
}

// newApp opens the store and builds every service. Nothing touches the
// radio until start.
func newApp(cfg *config.Config) (*app, error) {
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, err
	}

	history, err := telemetry.OpenLog(st)
	if err != nil {
		return nil, err
	}
	if subject, trial := history.IDs(); subject == "" && trial == "" &&
		(cfg.Session.SubjectID != "" || cfg.Session.TrialID != "") {
		if err := history.SetIDs(cfg.Session.SubjectID, cfg.Session.TrialID); err != nil {
			slog.Warn("[STORE] failed to save session ids", "error", err)
		}
	}

	a := &app{cfg: cfg, store: st, notices: notice.NewCenter()}

	var sinks []telemetry.Sink
	if cfg.Relay.Listen != "" {
		a.hub = relay.NewHub()
		a.server = relay.NewServer(cfg.Relay.Listen, a.hub)
		sinks = append(sinks, a.hub)
	}
	if cfg.Relay.OSCAddr != "" {
		osc, err := relay.NewOSCSink(cfg.Relay.OSCAddr, cfg.Relay.OSCPrefix)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, osc)
	}
	a.pipeline = telemetry.NewPipeline(history, sinks...)

	a.power = newPowerSource(cfg.BLE.AdapterName)
	var source ble.StateSource
	if a.power != nil {
		source = a.power
	}
	a.adapter = ble.NewTinygoAdapter(source)
	a.monitor = ble.NewStateMonitor(a.adapter, a.notices)
	a.scanner = ble.NewScanner(a.adapter, a.monitor, ble.NewPermissionGate(runtime.GOOS, nil), a.notices, ble.ScannerOptions{
		Duration: cfg.BLE.ScanDuration,
		Filter: ble.ScanFilter{
			ServiceUUID: cfg.BLE.ServiceUUID,
			NamePrefix:  cfg.BLE.NameFilter,
		},
	})
	a.manager = ble.NewManager(a.adapter, a.monitor, a.scanner, ble.NewBinding(st), a.notices, ble.ManagerOptions{
		ConnectTimeout: cfg.BLE.ConnectTimeout,
		MTU:            cfg.BLE.MTU,
	})
	a.lifecycle = ble.NewLifecycleWatcher(a.manager)
	return a, nil
}

// start powers up the radio, starts the relay and begins streaming the
// telemetry characteristic on every connection.
func (a *app) start(ctx context.Context) error {
	a.monitor.Start()
	if err := a.adapter.Enable(); err != nil {
		// The monitor has already told the user; keep running so the
		// relay and history remain available.
		slog.Error("[BLE] adapter unavailable", "error", err)
	}

	if a.server != nil {
		if err := a.server.Start(); err != nil {
			return err
		}
		go a.forwardState(ctx)
	}

	go a.manager.Stream(ctx, a.cfg.BLE.ServiceUUID, a.cfg.BLE.CharacteristicUUID, a.pipeline.Handle)
	return nil
}

// reconnect runs the startup auto-reconnect when enabled and returns the
// gate that releases once it resolves, or nil when there is nothing to wait
// for.
func (a *app) reconnect(ctx context.Context) *ble.OnceGate {
	if !a.cfg.BLE.AutoReconnect {
		return nil
	}
	gate := ble.NewOnceGate(func() { slog.Info("[BLE] startup reconnect resolved") })
	go a.manager.AutoReconnect(ctx, gate)
	return gate
}

// forwardState relays connection and notice events to websocket clients.
func (a *app) forwardState(ctx context.Context) {
	events, cancelEvents := a.manager.Events()
	defer cancelEvents()
	notices, cancelNotices := a.notices.Subscribe()
	defer cancelNotices()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Kind != ble.EventStateChanged {
				continue
			}
			p := relay.StatePayload{State: ev.State.String(), DeviceID: ev.DeviceID}
			if ev.Err != nil {
				p.Error = ev.Err.Error()
			}
			a.hub.Broadcast(relay.Event{Type: relay.TypeState, Payload: p})
		case n, ok := <-notices:
			if !ok {
				return
			}
			a.hub.Broadcast(relay.Event{Type: relay.TypeNotice, Payload: relay.NoticePayload{Title: n.Title, Message: n.Message}})
		}
	}
}

// close releases everything in reverse order. The binding survives so the
// next start reconnects.
func (a *app) close() {
	if err := a.manager.Close(); err != nil {
		slog.Warn("[BLE] close connection", "error", err)
	}
	a.scanner.Close()
	a.monitor.Stop()
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("[RELAY] shutdown", "error", err)
		}
		cancel()
	}
	a.pipeline.Close()
	a.notices.Close()
	if a.power != nil {
		if err := a.power.Close(); err != nil {
			slog.Debug("[BLE] close power watcher", "error", err)
		}
	}
}

// describe renders one sample as a console line.
func describe(s telemetry.Sample) string {
	stamp := s.Received.Format("15:04:05.000")
	if s.IsReference() {
		return fmt.Sprintf("%s  t=%-8g reference", stamp, s.T)
	}
	return fmt.Sprintf("%s  t=%-8g %-12s %-12s score %.0f", stamp, s.T, s.TimingFeedback(), s.PositionFeedback(), s.Score())
}
