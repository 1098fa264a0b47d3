package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/chaz8081/sensorlink/internal/ble"
	"github.com/chaz8081/sensorlink/internal/config"
	"github.com/chaz8081/sensorlink/internal/store"
	"github.com/chaz8081/sensorlink/internal/telemetry"
	"github.com/chaz8081/sensorlink/internal/tui"
)

// TUICmd runs the interactive terminal UI.
type TUICmd struct {
	ExportDir string `type:"path" default:"." help:"Directory CSV exports are written to."`
}

func (c *TUICmd) Run(g *Globals) error {
	cfg, closeLog, err := prepare(g, true)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.start(ctx); err != nil {
		return err
	}

	deps := tui.Deps{
		Manager:   a.manager,
		Scanner:   a.scanner,
		Monitor:   a.monitor,
		Lifecycle: a.lifecycle,
		Pipeline:  a.pipeline,
		Notices:   a.notices,
		ExportDir: c.ExportDir,
	}
	if gate := a.reconnect(ctx); gate != nil {
		deps.Ready = gate.Done()
	}
	return tui.Run(deps)
}

// MonitorCmd streams readings to stdout and the configured relays.
type MonitorCmd struct{}

func (c *MonitorCmd) Run(g *Globals) error {
	cfg, closeLog, err := prepare(g, false)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.start(ctx); err != nil {
		return err
	}

	samples, cancelSamples := a.pipeline.Subscribe()
	defer cancelSamples()

	// Coming back from a job-control stop is the headless equivalent of
	// the app returning to the foreground.
	states := make(chan ble.AppState, 1)
	if sigs := resumeSignals(); len(sigs) > 0 {
		resumed := make(chan os.Signal, 1)
		signal.Notify(resumed, sigs...)
		defer signal.Stop(resumed)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-resumed:
					select {
					case states <- ble.AppActive:
					default:
					}
				}
			}
		}()
	}
	go a.lifecycle.Run(ctx, states)

	if a.reconnect(ctx) == nil {
		slog.Info("Auto-reconnect disabled; run `sensorlink tui` to pick a sensor")
	}
	if id, ok := a.manager.Binding().Load(); !ok {
		fmt.Fprintln(os.Stderr, "No bound sensor. Connect once from the TUI to bind one.")
	} else {
		fmt.Fprintf(os.Stderr, "Streaming from %s. Ctrl+C to quit.\n", id)
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("Shutting down")
			return nil
		case s, ok := <-samples:
			if !ok {
				return nil
			}
			fmt.Println(describe(s))
		}
	}
}

// ScanCmd runs one discovery scan and prints what it found.
type ScanCmd struct {
	Duration time.Duration `help:"Scan window (default from config)."`
}

func (c *ScanCmd) Run(g *Globals) error {
	cfg, closeLog, err := prepare(g, false)
	if err != nil {
		return err
	}
	defer closeLog()
	if c.Duration > 0 {
		cfg.BLE.ScanDuration = c.Duration
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()
	a.monitor.Start()
	if err := a.adapter.Enable(); err != nil {
		return err
	}

	events, cancel := a.scanner.Subscribe()
	defer cancel()
	a.scanner.Start(ctx)
	if !a.scanner.Scanning() {
		return fmt.Errorf("scan did not start: bluetooth is %s", a.monitor.Current())
	}

	fmt.Fprintf(os.Stderr, "Scanning for %s...\n", cfg.BLE.ScanDuration)
wait:
	for {
		select {
		case <-ctx.Done():
			a.scanner.Stop()
			break wait
		case ev, ok := <-events:
			if !ok || (ev.Kind == ble.ScanStateChanged && !ev.Scanning) {
				break wait
			}
		}
	}

	devices := a.scanner.Devices()
	if len(devices) == 0 {
		fmt.Println("No sensors found.")
		return nil
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("NAME", "ID", "RSSI")
	for _, d := range devices {
		t.Row(d.Name, d.ID, strconv.Itoa(d.RSSI))
	}
	fmt.Println(t)
	return nil
}

// ForgetCmd clears the bound device so startup no longer reconnects.
type ForgetCmd struct{}

func (c *ForgetCmd) Run(g *Globals) error {
	cfg, closeLog, err := prepare(g, false)
	if err != nil {
		return err
	}
	defer closeLog()

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	b := ble.NewBinding(st)
	id, ok := b.Load()
	if !ok {
		fmt.Println("No bound sensor.")
		return nil
	}
	b.Clear()
	fmt.Printf("Forgot %s.\n", id)
	return nil
}

// ExportCmd writes the reading history as CSV.
type ExportCmd struct {
	Dir     string `short:"d" type:"path" help:"Write a timestamped file into this directory instead of stdout."`
	Subject string `help:"Set the subject ID before exporting."`
	Trial   string `help:"Set the trial ID before exporting."`
	Clear   bool   `help:"Clear the history after a successful export."`
}

func (c *ExportCmd) Run(g *Globals) error {
	cfg, closeLog, err := prepare(g, false)
	if err != nil {
		return err
	}
	defer closeLog()

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	history, err := telemetry.OpenLog(st)
	if err != nil {
		return err
	}

	if c.Subject != "" || c.Trial != "" {
		subject, trial := history.IDs()
		if c.Subject != "" {
			subject = c.Subject
		}
		if c.Trial != "" {
			trial = c.Trial
		}
		if err := history.SetIDs(subject, trial); err != nil {
			return err
		}
	}

	if c.Dir == "" {
		if err := history.Export(os.Stdout); err != nil {
			return err
		}
	} else {
		path, err := history.ExportFile(c.Dir, time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Exported %d readings to %s\n", history.Len(), path)
	}

	if c.Clear {
		return history.Clear()
	}
	return nil
}

// ConfigCmd groups config file commands.
type ConfigCmd struct {
	Init ConfigInitCmd `cmd:"" help:"Write the default config file."`
	Path ConfigPathCmd `cmd:"" help:"Print the default config file path."`
}

// ConfigInitCmd writes the default config unless one exists.
type ConfigInitCmd struct{}

func (c *ConfigInitCmd) Run(*Globals) error {
	path, err := config.WriteDefault()
	if err != nil {
		return err
	}
	if path == "" {
		return errors.New("config already exists at " + config.DefaultConfigPath())
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

// ConfigPathCmd prints where the config is looked up.
type ConfigPathCmd struct{}

func (c *ConfigPathCmd) Run(*Globals) error {
	fmt.Println(config.DefaultConfigPath())
	return nil
}
