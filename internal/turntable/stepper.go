package turntable

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// stepsPerRev matches the cell's stepper driver DIP setting:
// 200 full steps × 16 microsteps
const stepsPerRev = 3200

// StepperConfig describes the turntable drive
type StepperConfig struct {
	Positions    int           // tray stations on the table
	StepPin      int           // STEP pin, BCM numbering
	DirPin       int           // DIR pin, BCM numbering
	EnablePin    int           // ENABLE pin, active low; 0 when not wired
	MoveDuration time.Duration // time budget per single-station move
}

// Stepper indexes the turntable with a pulse-per-step GPIO driver.
// Moves block until the table arrives; there is no position feedback
// beyond counting commanded steps.
type Stepper struct {
	cfg    StepperConfig
	step   gpio.PinOut
	dir    gpio.PinOut
	enable gpio.PinOut

	mu  sync.Mutex
	pos int
}

// NewStepper initializes the GPIO host and claims the drive pins.
// The table is assumed parked at station 0.
func NewStepper(cfg StepperConfig) (*Stepper, error) {
	if cfg.Positions <= 0 {
		return nil, fmt.Errorf("turntable: positions must be positive, got %d", cfg.Positions)
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to init gpio host: %w", err)
	}

	step := gpioreg.ByName(fmt.Sprintf("GPIO%d", cfg.StepPin))
	if step == nil {
		return nil, fmt.Errorf("turntable: step pin GPIO%d not found", cfg.StepPin)
	}
	dir := gpioreg.ByName(fmt.Sprintf("GPIO%d", cfg.DirPin))
	if dir == nil {
		return nil, fmt.Errorf("turntable: dir pin GPIO%d not found", cfg.DirPin)
	}

	if err := step.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("failed to configure step pin: %w", err)
	}
	// Single rotation direction: the table only advances
	if err := dir.Out(gpio.High); err != nil {
		return nil, fmt.Errorf("failed to configure dir pin: %w", err)
	}

	s := &Stepper{cfg: cfg, step: step, dir: dir}

	if cfg.EnablePin != 0 {
		enable := gpioreg.ByName(fmt.Sprintf("GPIO%d", cfg.EnablePin))
		if enable == nil {
			return nil, fmt.Errorf("turntable: enable pin GPIO%d not found", cfg.EnablePin)
		}
		// Active low
		if err := enable.Out(gpio.Low); err != nil {
			return nil, fmt.Errorf("failed to enable stepper driver: %w", err)
		}
		s.enable = enable
	}

	slog.Info("turntable initialized",
		"driver", "stepper",
		"positions", cfg.Positions,
		"step_pin", cfg.StepPin,
		"dir_pin", cfg.DirPin,
	)
	return s, nil
}

// Positions returns the number of tray stations
func (s *Stepper) Positions() int {
	return s.cfg.Positions
}

// Position returns the station the table is parked at
func (s *Stepper) Position() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// MoveTo advances the table to the given station, always rotating
// forward. Blocks for the full move; a same-station move is a no-op.
func (s *Stepper) MoveTo(position int) error {
	if position < 0 || position >= s.cfg.Positions {
		return fmt.Errorf("turntable: position %d out of range [0, %d)", position, s.cfg.Positions)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stations := (position - s.pos + s.cfg.Positions) % s.cfg.Positions
	if stations == 0 {
		return nil
	}

	stepsPerStation := stepsPerRev / s.cfg.Positions
	steps := stations * stepsPerStation

	// Pace pulses so each station takes the configured move duration
	interval := s.cfg.MoveDuration / time.Duration(stepsPerStation)
	if interval < 20*time.Microsecond {
		interval = 20 * time.Microsecond
	}

	slog.Info("turntable moving",
		"from", s.pos,
		"to", position,
		"steps", steps,
	)

	started := time.Now()
	for i := 0; i < steps; i++ {
		if err := s.pulse(interval); err != nil {
			return fmt.Errorf("turntable move failed at step %d/%d: %w", i, steps, err)
		}
	}
	s.pos = position

	slog.Info("turntable arrived",
		"position", s.pos,
		"elapsed_ms", time.Since(started).Milliseconds(),
	)
	return nil
}

// Close disables the stepper driver so the table can be turned by hand
func (s *Stepper) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.enable != nil {
		if err := s.enable.Out(gpio.High); err != nil {
			return fmt.Errorf("failed to disable stepper driver: %w", err)
		}
	}
	slog.Info("turntable released")
	return nil
}

func (s *Stepper) pulse(interval time.Duration) error {
	if err := s.step.Out(gpio.High); err != nil {
		return err
	}
	time.Sleep(interval / 2)
	if err := s.step.Out(gpio.Low); err != nil {
		return err
	}
	time.Sleep(interval / 2)
	return nil
}
