// Package console provides the operator surface of the cut cell: a
// terminal dashboard for attended lines and a headless fallback for
// benches. Both deliver prompts and wait for acknowledgements.
package console

import "time"

// Snapshot is the cell state the dashboard renders on each refresh
type Snapshot struct {
	Order        string
	OrderStatus  string
	Ingredient   string
	TargetG      float64
	AccumulatedG float64
	LiveWeightG  float64
	Phase        string
	Detections   []string
	ScannedAt    time.Time
	CyclesDone   int
	CyclesFailed int
}

// SnapshotFunc supplies refresh data. It is called from the dashboard's
// own goroutine and must be safe for concurrent use.
type SnapshotFunc func() Snapshot
