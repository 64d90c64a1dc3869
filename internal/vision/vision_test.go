package vision_test

import (
	"context"
	"errors"
	"testing"

	"github.com/cutcell/vesta/internal/types"
	"github.com/cutcell/vesta/internal/vision"
)

// TestMockScannerDefaultHealthy verifies an unscripted scanner reports
// a single confident item, the shape a cycle sees over a clean tray.
func TestMockScannerDefaultHealthy(t *testing.T) {
	m := vision.NewMockScanner()

	detections, err := m.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(detections) != 1 {
		t.Fatalf("Expected 1 detection, got %d", len(detections))
	}
	if detections[0].Label != "item" || detections[0].Confidence != 0.99 {
		t.Errorf("Expected a healthy item at 0.99, got %+v", detections[0])
	}
	if m.Scans() != 1 {
		t.Errorf("Expected 1 counted scan, got %d", m.Scans())
	}
}

// TestMockScannerScriptReplay verifies scripted detection lists play in
// order and the last list repeats once the script runs out.
func TestMockScannerScriptReplay(t *testing.T) {
	m := vision.NewMockScanner(
		[]types.Detection{{Label: "unhealthy_potato", Confidence: 0.8}},
		[]types.Detection{{Label: "potato", Confidence: 0.95}},
	)

	want := []string{"unhealthy_potato", "potato", "potato"}
	for i, label := range want {
		detections, err := m.Scan(context.Background())
		if err != nil {
			t.Fatalf("Scan %d failed: %v", i, err)
		}
		if len(detections) != 1 || detections[0].Label != label {
			t.Errorf("Scan %d: expected %q, got %+v", i, label, detections)
		}
	}
}

// TestMockScannerFailNextScan verifies the scripted fault consumes
// itself and failed scans stay out of the success counter.
func TestMockScannerFailNextScan(t *testing.T) {
	m := vision.NewMockScanner()
	scanErr := errors.New("camera gone")
	m.FailNextScan(scanErr)

	if _, err := m.Scan(context.Background()); !errors.Is(err, scanErr) {
		t.Fatalf("Expected the scripted scan error, got %v", err)
	}
	if m.Scans() != 0 {
		t.Errorf("Expected the failed scan to go uncounted, got %d", m.Scans())
	}
	if _, ok := m.LatestScan(); ok {
		t.Error("Expected no cached result after a failed scan")
	}

	if _, err := m.Scan(context.Background()); err != nil {
		t.Fatalf("Scan after the fault cleared failed: %v", err)
	}
	if m.Scans() != 1 {
		t.Errorf("Expected 1 counted scan, got %d", m.Scans())
	}
}

// TestMockScannerLatestScan verifies the cache carries the newest
// result with a trace id and capture time for the journal.
func TestMockScannerLatestScan(t *testing.T) {
	m := vision.NewMockScanner([]types.Detection{{Label: "potato", Confidence: 0.9}})

	if _, ok := m.LatestScan(); ok {
		t.Fatal("Expected no cached result before the first scan")
	}

	if _, err := m.Scan(context.Background()); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	result, ok := m.LatestScan()
	if !ok {
		t.Fatal("Expected a cached result after scanning")
	}
	if result.TraceID == "" {
		t.Error("Expected a trace id on the cached result")
	}
	if result.CapturedAt.IsZero() {
		t.Error("Expected a capture timestamp on the cached result")
	}
	if len(result.Detections) != 1 || result.Detections[0].Label != "potato" {
		t.Errorf("Expected the cached potato detection, got %+v", result.Detections)
	}
}
