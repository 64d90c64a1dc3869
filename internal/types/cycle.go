package types

import "time"

// CycleRecord is the audit record of one cut cycle
type CycleRecord struct {
	// TraceID is a unique identifier for tracing the cycle across the pipeline
	TraceID string `json:"trace_id"`
	// OrderID and OrderName identify the order being filled
	OrderID   string `json:"order_id"`
	OrderName string `json:"order_name"`
	// Ingredient is the material processed during the cycle
	Ingredient string `json:"ingredient"`
	// TargetG is the required grams at cycle start
	TargetG float64 `json:"target_g"`
	// AccumulatedG is the total grams credited when the cycle ended
	AccumulatedG float64 `json:"accumulated_g"`
	// Outcome is the terminal state: done, stalled, cancelled or faulted
	Outcome string `json:"outcome"`
	// Samples is the number of scale polls consumed by the cycle
	Samples int `json:"samples"`
	// Clamps is the number of implausible readings discarded
	Clamps int `json:"clamps"`
	// StartedAt is when the actuator was first activated
	StartedAt time.Time `json:"started_at"`
	// DurationMs is the wall-clock length of the cycle
	DurationMs int64 `json:"duration_ms"`
}
