package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cutcell/vesta/internal/cell"
	"github.com/cutcell/vesta/internal/config"
	"github.com/cutcell/vesta/internal/console"
	"github.com/cutcell/vesta/internal/cutter"
	"github.com/cutcell/vesta/internal/scale"
	"github.com/cutcell/vesta/internal/turntable"
	"github.com/cutcell/vesta/internal/vision"
)

// buildCollaborators assembles the five devices behind the controller.
// Each one comes up simulated when its hardware section is unset, so
// the same binary runs the line and the bench. On failure everything
// already built is closed before returning.
func buildCollaborators(ctx context.Context, cfg *config.Config, snapshot console.SnapshotFunc) (cell.Collaborators, *console.TUI, error) {
	var col cell.Collaborators

	sensor, sim, err := buildScale(cfg)
	if err != nil {
		return col, nil, err
	}
	col.Scale = sensor

	cut, err := buildCutter(cfg, sim)
	if err != nil {
		sensor.Close()
		return col, nil, err
	}
	col.Cutter = cut

	table, err := buildTable(cfg)
	if err != nil {
		cut.Close()
		sensor.Close()
		return col, nil, err
	}
	col.Table = table

	scanner, err := buildScanner(ctx, cfg)
	if err != nil {
		table.Close()
		cut.Close()
		sensor.Close()
		return col, nil, err
	}
	col.Scanner = scanner

	cons, tui := buildConsole(cfg, snapshot)
	col.Console = cons

	slog.Info("cell devices assembled",
		"scale", deviceKind(cfg.Scale.DoutPin != 0),
		"cutter", deviceKind(cfg.Cutter.Broker != ""),
		"turntable", deviceKind(cfg.Turntable.StepPin != 0),
		"vision", deviceKind(cfg.Vision.WorkerCmd != ""),
		"console", cfg.Console.Mode,
	)

	return col, tui, nil
}

func deviceKind(hardware bool) string {
	if hardware {
		return "hardware"
	}
	return "sim"
}

// buildScale selects the HX711 when a data pin is configured. The sim
// handle comes back non-nil in sim mode so the cutter can drive it.
func buildScale(cfg *config.Config) (cell.MassSensor, *scale.Sim, error) {
	if cfg.Scale.DoutPin != 0 {
		hw, err := scale.NewHX711(scale.HX711Config{
			DoutPin:       cfg.Scale.DoutPin,
			SckPin:        cfg.Scale.SckPin,
			ReferenceUnit: cfg.Scale.ReferenceUnit,
			TareSamples:   cfg.Scale.TareSamples,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize scale: %w", err)
		}
		return hw, nil, nil
	}

	sim := scale.NewSim(cfg.Scale.SimRampG)
	return sim, sim, nil
}

// buildCutter selects the relay when a broker is configured. On the
// bench the mock cutter starts and stops the sim scale's material
// flow, closing the loop.
func buildCutter(cfg *config.Config, sim *scale.Sim) (cell.Actuator, error) {
	if cfg.Cutter.Broker != "" {
		sh := cutter.NewShelly(cutter.ShellyConfig{
			Broker:       cfg.Cutter.Broker,
			ClientID:     cfg.Cutter.ClientID,
			DevicePrefix: cfg.Cutter.DevicePrefix,
			SwitchID:     cfg.Cutter.SwitchID,
		})
		if err := sh.Connect(); err != nil {
			return nil, fmt.Errorf("failed to connect cutter relay: %w", err)
		}
		if cfg.Cutter.SelfTest {
			if err := sh.SelfTest(); err != nil {
				sh.Close()
				return nil, fmt.Errorf("cutter self test failed: %w", err)
			}
		}
		return sh, nil
	}

	mock := cutter.NewMock()
	if sim != nil {
		mock.OnSwitch = sim.SetFlowing
	}
	return mock, nil
}

// buildTable selects the stepper when a step pin is configured
func buildTable(cfg *config.Config) (cell.Indexer, error) {
	if cfg.Turntable.StepPin != 0 {
		st, err := turntable.NewStepper(turntable.StepperConfig{
			Positions:    cfg.Turntable.Positions,
			StepPin:      cfg.Turntable.StepPin,
			DirPin:       cfg.Turntable.DirPin,
			EnablePin:    cfg.Turntable.EnablePin,
			MoveDuration: time.Duration(cfg.Turntable.MoveDurationMs) * time.Millisecond,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize turntable: %w", err)
		}
		return st, nil
	}

	return turntable.NewMock(cfg.Turntable.Positions), nil
}

// buildScanner selects the camera and detector pipeline when a worker
// command is configured, and starts it
func buildScanner(ctx context.Context, cfg *config.Config) (cell.QualityScanner, error) {
	if cfg.Vision.WorkerCmd == "" {
		return vision.NewMockScanner(), nil
	}

	camera, err := vision.NewCamera(vision.CameraConfig{
		Device: cfg.Vision.Device,
		Width:  cfg.Vision.Width,
		Height: cfg.Vision.Height,
		FPS:    cfg.Vision.FPS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize camera: %w", err)
	}

	worker, err := vision.NewWorker(vision.WorkerConfig{
		Cmd:        cfg.Vision.WorkerCmd,
		Args:       cfg.Vision.WorkerArgs,
		Confidence: cfg.Vision.Confidence,
		InstanceID: cfg.InstanceID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize detector worker: %w", err)
	}

	scanner := vision.NewScanner(camera, worker, vision.ScannerConfig{
		ScanInterval: time.Duration(cfg.Vision.ScanIntervalMs) * time.Millisecond,
	})
	if err := scanner.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start quality scanner: %w", err)
	}
	return scanner, nil
}

// buildConsole selects the dashboard for attended lines and the
// auto-acking console for headless benches
func buildConsole(cfg *config.Config, snapshot console.SnapshotFunc) (cell.OperatorConsole, *console.TUI) {
	if cfg.Console.Mode == "auto" {
		return console.NewAuto(0), nil
	}
	tui := console.NewTUI(snapshot)
	return tui, tui
}
