package cell

import (
	"sync"

	"github.com/cutcell/vesta/internal/console"
)

// Display phases, surfaced on the console and in status responses
const (
	PhaseIdle       = "idle"
	PhaseWaiting    = "waiting"
	PhasePlacing    = "placing"
	PhaseScanning   = "scanning"
	PhaseCutting    = "cutting"
	PhaseIndexing   = "indexing"
	PhaseSettling   = "settling"
	PhaseCollecting = "collecting"
)

// cellState is the mutable face of the controller: the demand and
// progress maps plus whatever the display needs. One mutex guards it
// all; readers get copies, never the maps.
//
// Demand is additive: when the same ingredient recurs across orders
// its required grams pile onto the same key, and progress catches up
// cycle by cycle.
type cellState struct {
	mu sync.Mutex

	order       string
	orderStatus string
	ingredient  string

	required map[string]float64
	progress map[string]float64

	liveG    float64
	phase    string
	position int

	cyclesDone   int
	cyclesFailed int
}

func newCellState() *cellState {
	return &cellState{
		required: make(map[string]float64),
		progress: make(map[string]float64),
		phase:    PhaseIdle,
	}
}

func (s *cellState) setOrder(name, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = name
	s.orderStatus = status
}

func (s *cellState) setIngredient(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ingredient = name
}

func (s *cellState) setPhase(phase string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = phase
}

func (s *cellState) setLive(grams float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.liveG = grams
}

func (s *cellState) addRequired(ingredient string, grams float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.required[ingredient] += grams
}

func (s *cellState) requiredFor(ingredient string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.required[ingredient]
}

func (s *cellState) setProgress(ingredient string, grams float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress[ingredient] = grams
}

func (s *cellState) progressFor(ingredient string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress[ingredient]
}

func (s *cellState) setPosition(position int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.position = position
}

func (s *cellState) getPosition() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

func (s *cellState) cycleDone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cyclesDone++
}

func (s *cellState) cycleFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cyclesFailed++
}

// snapshot captures the display state. Detections are filled in by
// the controller from the scanner's cache.
func (s *cellState) snapshot() console.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return console.Snapshot{
		Order:        s.order,
		OrderStatus:  s.orderStatus,
		Ingredient:   s.ingredient,
		TargetG:      s.required[s.ingredient],
		AccumulatedG: s.progress[s.ingredient],
		LiveWeightG:  s.liveG,
		Phase:        s.phase,
		CyclesDone:   s.cyclesDone,
		CyclesFailed: s.cyclesFailed,
	}
}

// totals copies both maps for status reporting
func (s *cellState) totals() (progress, required map[string]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	progress = make(map[string]float64, len(s.progress))
	for k, v := range s.progress {
		progress[k] = v
	}
	required = make(map[string]float64, len(s.required))
	for k, v := range s.required {
		required[k] = v
	}
	return progress, required
}
