package massflow

// Clamp classifies why a reading was rejected by the filter
type Clamp int

const (
	// ClampNone means the delta passed through unmodified
	ClampNone Clamp = iota
	// ClampNegative means the scale read below the previous baseline
	// (vibration, tray bump, material lifted off)
	ClampNegative
	// ClampJump means the delta exceeded the plausibility ceiling
	// (electrical spike, foreign object dropped on the tray)
	ClampJump
)

// String returns the clamp name for logging
func (c Clamp) String() string {
	switch c {
	case ClampNone:
		return "none"
	case ClampNegative:
		return "negative"
	case ClampJump:
		return "jump"
	default:
		return "unknown"
	}
}

// Filter rejects implausible scale movement between consecutive polls.
//
// The filter is pure: it holds no state beyond its configuration and
// never mutates its inputs. Callers keep the raw sample as the next
// baseline even when the delta is clamped, so sensor drift is tracked
// without being credited.
type Filter struct {
	// MaxJumpG is the largest single-poll increase accepted as real
	// material flow. Anything above it is discarded.
	MaxJumpG float64
}

// Accept computes the credited delta between the previous baseline and
// a new sample.
//
// Behavior:
//  1. sample below last → delta 0, ClampNegative
//  2. sample minus last above MaxJumpG → delta 0, ClampJump
//  3. otherwise → delta passes through exactly, ClampNone
//
// A missing reading is the caller's concern: substituting sample = last
// naturally yields delta 0, ClampNone.
func (f Filter) Accept(last, sample float64) (float64, Clamp) {
	delta := sample - last
	if delta < 0 {
		return 0, ClampNegative
	}
	if delta > f.MaxJumpG {
		return 0, ClampJump
	}
	return delta, ClampNone
}
