package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"

	"github.com/chaz8081/sensorlink/internal/config"
)

// Globals are flags shared by every command.
type Globals struct {
	ConfigPath string `name:"config" short:"c" type:"path" help:"Path to config file (default: ~/.config/sensorlink/config.yaml)."`
	Verbose    bool   `short:"v" help:"Enable debug logging."`
}

// CLI is the command tree.
type CLI struct {
	Globals

	TUI     TUICmd     `cmd:"" default:"1" help:"Interactive terminal UI (default)."`
	Monitor MonitorCmd `cmd:"" help:"Headless: reconnect to the bound sensor and stream readings."`
	Scan    ScanCmd    `cmd:"" help:"Scan for nearby sensors."`
	Forget  ForgetCmd  `cmd:"" help:"Forget the bound sensor."`
	Export  ExportCmd  `cmd:"" help:"Export the reading history as CSV."`
	Config  ConfigCmd  `cmd:"" help:"Manage the config file."`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("sensorlink"),
		kong.Description("Connects to a BLE motion sensor and records its readings."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli.Globals))
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults. It reports where the
// config came from for logging once the logger is set up.
func loadConfig(path string) (*config.Config, string, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, "", err
		}
		return cfg, path, cfg.Validate()
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, "", fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, defaultPath, cfg.Validate()
	}

	return config.Default(), "", nil
}

// setupLogging installs the default slog logger. The TUI owns the terminal,
// so in that mode logs go to the configured file or nowhere.
func setupLogging(cfg *config.Config, g *Globals, tui bool) (func(), error) {
	level := config.ParseLogLevel(cfg.LogLevel)
	if g.Verbose {
		level = slog.LevelDebug
	}

	var w io.Writer = os.Stderr
	closer := func() {}
	if tui {
		w = io.Discard
		if cfg.LogFile != "" {
			if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0755); err != nil {
				return nil, fmt.Errorf("creating log dir: %w", err)
			}
			f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				return nil, fmt.Errorf("opening log file: %w", err)
			}
			w = f
			closer = func() { f.Close() }
		}
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
	return closer, nil
}

// prepare loads the config and sets up logging for a command.
func prepare(g *Globals, tui bool) (*config.Config, func(), error) {
	cfg, source, err := loadConfig(g.ConfigPath)
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	closeLog, err := setupLogging(cfg, g, tui)
	if err != nil {
		return nil, nil, err
	}
	if source != "" {
		slog.Info("Config loaded", "path", source)
	} else {
		slog.Info("No config file found, using defaults")
	}
	return cfg, closeLog, nil
}
