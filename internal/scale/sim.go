package scale

import (
	"log/slog"
	"math"
	"sync"
)

// Reading is one scripted scale response
type Reading struct {
	Grams float64
	OK    bool
}

// Sim is a software scale for bench runs and tests.
//
// Two modes:
//   - ramp: while flow is on, every Read adds a fixed number of grams,
//     emulating material falling onto the tray (bench bring-up; the
//     sim cutter toggles the flow)
//   - scripted: Read returns queued readings in order and repeats the
//     final one when the script runs out (tests)
type Sim struct {
	mu      sync.Mutex
	closed  bool
	rampG   float64
	flowing bool
	current float64

	script []Reading
	idx    int

	reads int
}

// NewSim creates a ramp-mode sim that gains rampG grams per read
// while flow is on
func NewSim(rampG float64) *Sim {
	slog.Info("scale initialized", "driver", "sim", "ramp_g", rampG)
	return &Sim{rampG: rampG}
}

// NewSimScript creates a scripted sim that replays the given readings
func NewSimScript(script []Reading) *Sim {
	return &Sim{script: script}
}

// SetFlowing turns the simulated material flow on or off
func (s *Sim) SetFlowing(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flowing = on
}

// Read returns the next simulated weight. The samples argument is an
// averaging hint for hardware scales and is ignored here.
func (s *Sim) Read(samples int) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, false
	}
	s.reads++

	if s.script != nil {
		r := s.script[s.idx]
		if s.idx < len(s.script)-1 {
			s.idx++
		}
		return r.Grams, r.OK
	}

	if s.flowing {
		s.current += s.rampG
	}
	return math.Round(s.current*100) / 100, true
}

// Tare zeroes the simulated tray
func (s *Sim) Tare() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = 0
	return nil
}

// Close stops the sim; later reads report misses
func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Reads reports how many polls the sim has served
func (s *Sim) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}
