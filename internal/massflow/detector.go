package massflow

// State is the detector's view of an in-flight cut cycle
type State int

const (
	// Running means the cycle should keep polling
	Running State = iota
	// Done means the accumulated mass reached the target. Terminal.
	Done
	// Stalled means material stopped flowing before the target.
	// Not terminal for the batch: after operator intervention the
	// caller seeds a fresh detector with the retained accumulated mass.
	Stalled
)

// String returns the state name for logging
func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Done:
		return "done"
	case Stalled:
		return "stalled"
	default:
		return "unknown"
	}
}

// Detector folds filtered deltas into accumulated yield and decides
// when a cut cycle has finished or starved.
//
// Every delta is credited to the accumulator: a trickle of shavings
// below the stability threshold still lands on the tray and counts
// toward yield. The threshold only decides whether flow has stopped,
// by gating the consecutive no-change counter.
type Detector struct {
	targetG    float64
	thresholdG float64
	limit      int

	accumulatedG float64
	noChange     int
	state        State
}

// NewDetector builds a detector for one cut cycle.
//
// accumulatedG seeds the accumulator with mass retained from an earlier
// stalled cycle of the same ingredient; pass 0 for a fresh batch.
func NewDetector(targetG, accumulatedG, stableThresholdG float64, noChangeLimit int) *Detector {
	return &Detector{
		targetG:      targetG,
		thresholdG:   stableThresholdG,
		limit:        noChangeLimit,
		accumulatedG: accumulatedG,
		state:        Running,
	}
}

// Feed consumes one filtered delta and returns the resulting state.
//
// Done is decided on the exact sample that reaches the target and takes
// priority over a simultaneous stall. Feeding a terminal detector is a
// no-op that returns the terminal state.
func (d *Detector) Feed(deltaG float64) State {
	if d.state != Running {
		return d.state
	}

	d.accumulatedG += deltaG
	if deltaG >= d.thresholdG {
		d.noChange = 0
	} else {
		d.noChange++
	}

	if d.accumulatedG >= d.targetG {
		d.state = Done
		return d.state
	}
	if d.noChange >= d.limit {
		d.state = Stalled
	}
	return d.state
}

// Accumulated returns total credited grams, including any seed
func (d *Detector) Accumulated() float64 {
	return d.accumulatedG
}

// Target returns the goal grams for this cycle
func (d *Detector) Target() float64 {
	return d.targetG
}

// State returns the current state without consuming a sample
func (d *Detector) State() State {
	return d.state
}
