package vision

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cutcell/vesta/internal/types"
)

// MockScanner replaces the camera+worker pair on benches without video
// hardware. Each Scan consumes the next scripted detection list; the
// last entry repeats once the script runs out.
type MockScanner struct {
	mu      sync.Mutex
	script  [][]types.Detection
	idx     int
	failErr error
	latest  types.ScanResult
	hasScan bool
	scans   int
}

// NewMockScanner builds a scanner that plays back the given detection
// lists in order. With no script every Scan reports a single healthy
// item.
func NewMockScanner(script ...[]types.Detection) *MockScanner {
	return &MockScanner{script: script}
}

// FailNextScan makes the next Scan return err instead of a result
func (m *MockScanner) FailNextScan(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// Scan returns the next scripted detection list
func (m *MockScanner) Scan(_ context.Context) ([]types.Detection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failErr != nil {
		err := m.failErr
		m.failErr = nil
		return nil, err
	}

	var detections []types.Detection
	switch {
	case len(m.script) == 0:
		detections = []types.Detection{{Label: "item", Confidence: 0.99}}
	case m.idx < len(m.script):
		detections = m.script[m.idx]
		m.idx++
	default:
		detections = m.script[len(m.script)-1]
	}

	m.latest = types.ScanResult{
		TraceID:    uuid.New().String(),
		Detections: detections,
		CapturedAt: time.Now(),
	}
	m.hasScan = true
	m.scans++
	return detections, nil
}

// LatestScan returns the most recent scripted result
func (m *MockScanner) LatestScan() (types.ScanResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest, m.hasScan
}

// Scans reports how many Scan calls succeeded
func (m *MockScanner) Scans() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scans
}

// Close is a no-op for the mock
func (m *MockScanner) Close() error {
	return nil
}
