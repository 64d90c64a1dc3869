// Package massflow turns raw scale readings into credited yield.
//
// Two pieces cooperate per cut cycle:
//
//   - Filter rejects implausible movement between consecutive polls
//     (negative deltas from vibration, jumps from electrical spikes).
//   - Detector folds the surviving deltas into an accumulator and
//     decides when the cycle is Done (target reached) or Stalled
//     (flow stopped before the target).
//
// Both are pure state machines with no goroutines, timers or hardware
// knowledge. The cut-cycle executor owns the polling clock and feeds
// them one sample at a time.
package massflow
