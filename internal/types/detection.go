package types

import "time"

// Detection represents a single object reported by the detector worker
type Detection struct {
	// Label is the detected class name (e.g., "potato")
	Label string `json:"label" msgpack:"label"`
	// Confidence is the detection confidence score [0.0, 1.0]
	Confidence float64 `json:"confidence" msgpack:"confidence"`
	// ClassID is the numeric class index from the model
	ClassID int `json:"class_id" msgpack:"class_id"`
	// BBox is the bounding box as [x1, y1, x2, y2] in pixels
	BBox [4]float64 `json:"bbox" msgpack:"bbox"`
}

// ScanResult is one capture-and-detect pass over the staging area
type ScanResult struct {
	// TraceID is a unique identifier for tracing the scan across the pipeline
	TraceID string `json:"trace_id"`
	// Detections are all objects found in the capture (empty is a valid result)
	Detections []Detection `json:"detections"`
	// CapturedAt is when the frame was captured
	CapturedAt time.Time `json:"captured_at"`
	// ElapsedMs is the total capture+inference time
	ElapsedMs float64 `json:"elapsed_ms"`
}
