package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cutcell/vesta/internal/cell"
	"github.com/cutcell/vesta/internal/config"
	"github.com/cutcell/vesta/internal/console"
	"github.com/cutcell/vesta/internal/control"
	"github.com/cutcell/vesta/internal/journal"
	"github.com/cutcell/vesta/internal/orders"
	"github.com/cutcell/vesta/internal/telemetry"
)

const (
	defaultConfigPath = "config/vesta.yaml"
	healthCheckPort   = "8080"
	healthBeaconEvery = 30 * time.Second
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// Setup structured logger. Logs go to stderr: in tui mode the
	// dashboard owns stdout.
	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting vesta cell daemon",
		"config", *configPath,
		"debug", *debug,
	)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Create context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Daemon-owned services around the controller
	book, err := orders.NewBook(cfg.Orders.Path)
	if err != nil {
		slog.Error("failed to load order book", "error", err)
		os.Exit(1)
	}

	jrnl, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		slog.Error("failed to open cycle journal", "error", err)
		os.Exit(1)
	}

	emitter := telemetry.NewEmitter(cfg.MQTT, cfg.InstanceID)
	if err := emitter.Connect(ctx); err != nil {
		slog.Warn("mqtt broker unreachable, telemetry degraded",
			"error", err,
			"action", "check mqtt.broker, the client keeps retrying in the background")
	}

	// Devices, simulated wherever the config leaves hardware out.
	// The dashboard's snapshot source is bound before tui.Start runs.
	var ctrl *cell.Controller
	snapshot := func() console.Snapshot {
		if ctrl == nil {
			return console.Snapshot{}
		}
		return ctrl.Snapshot()
	}

	col, tui, err := buildCollaborators(ctx, cfg, snapshot)
	if err != nil {
		slog.Error("failed to assemble cell devices", "error", err)
		os.Exit(1)
	}
	col.Orders = book
	col.Journal = jrnl
	col.Emitter = emitter
	if cfg.Orders.DemoOnEmpty {
		col.Demo = book
	}

	ctrl, err = cell.New(cfg, col)
	if err != nil {
		slog.Error("failed to create cell controller", "error", err)
		os.Exit(1)
	}

	// Zero the scale before any cutting; the tray must be empty here
	if err := ctrl.Tare(); err != nil {
		slog.Error("startup tare failed",
			"error", err,
			"action", "check the load cell wiring and clear the tray")
		os.Exit(1)
	}

	// Control plane is best-effort: the cell cuts with the broker away
	handler := control.NewHandler(cfg.MQTT, emitter.Client, control.CommandCallbacks{
		OnGetStatus: ctrl.GetStatus,
		OnAddOrder: func(name string, ingredients map[string]float64) (string, error) {
			o, err := book.Add(name, ingredients)
			if err != nil {
				return "", err
			}
			return o.ID, nil
		},
		OnTare:     ctrl.Tare,
		OnShutdown: func() error { ctrl.Stop(); return nil },
	})
	if err := handler.Start(ctx); err != nil {
		slog.Warn("control plane unavailable",
			"error", err,
			"action", "operators keep the console, MQTT commands are off until restart")
		handler = nil
	}

	// Start health check HTTP server (non-blocking)
	if err := ctrl.StartHealthServer(healthCheckPort); err != nil {
		slog.Error("failed to start health check server", "error", err)
		os.Exit(1)
	}

	if cfg.Orders.Watch {
		if err := book.Watch(ctx); err != nil {
			slog.Warn("order book watch failed",
				"error", err,
				"action", "file edits need a daemon restart to land")
		}
	}

	go publishHealth(ctx, ctrl, emitter)

	// Run controller in goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- ctrl.Run(ctx) // Always send, even if nil
	}()

	if tui != nil {
		tui.Start()
	}

	// Wait for shutdown signal, controller exit or console quit
	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errChan:
		if err != nil {
			slog.Error("cell controller error", "error", err)
		} else {
			slog.Info("cell controller stopped (control plane shutdown)")
		}
	case <-tuiDone(tui):
		slog.Info("console closed by operator")
		cancel()
	}

	// Graceful shutdown
	shutdownTimeout := ctrl.ShutdownTimeout()
	slog.Info("shutting down gracefully", "timeout", shutdownTimeout)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := ctrl.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "error", err)
		os.Exit(1)
	}

	if handler != nil {
		if err := handler.Stop(); err != nil {
			slog.Error("failed to stop control plane", "error", err)
		}
	}
	if err := book.Close(); err != nil {
		slog.Error("failed to close order book", "error", err)
	}
	if err := jrnl.Close(); err != nil {
		slog.Error("failed to close cycle journal", "error", err)
	}
	if err := emitter.Disconnect(); err != nil {
		slog.Error("failed to disconnect telemetry", "error", err)
	}

	slog.Info("vesta cell daemon stopped successfully")
}

// tuiDone adapts the optional dashboard's quit channel for the main
// select; in auto mode the nil channel never fires
func tuiDone(t *console.TUI) <-chan struct{} {
	if t == nil {
		return nil
	}
	return t.Done()
}

// publishHealth beacons the controller state for the line dashboard
func publishHealth(ctx context.Context, ctrl *cell.Controller, emitter *telemetry.Emitter) {
	ticker := time.NewTicker(healthBeaconEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			payload, err := json.Marshal(ctrl.HealthCheck())
			if err != nil {
				slog.Error("failed to marshal health status", "error", err)
				continue
			}
			if err := emitter.PublishHealth(payload); err != nil {
				slog.Debug("health publish failed", "error", err)
			}
		}
	}
}
