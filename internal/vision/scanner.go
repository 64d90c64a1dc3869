package vision

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cutcell/vesta/internal/types"
)

// ScannerConfig contains quality scan settings
type ScannerConfig struct {
	ScanInterval time.Duration // continuous scan period
	ScanTimeout  time.Duration // cap for one capture+detect pass
}

// Scanner runs quality checks over the staging area. A continuous loop
// keeps LatestScan fresh for the console; the controller's on-demand
// Scan shares the same single-flight pass so the worker only ever sees
// one frame in flight.
type Scanner struct {
	camera *Camera
	worker *Worker
	cfg    ScannerConfig

	// passMu serializes capture+detect passes; both the continuous
	// loop and on-demand scans read the worker's result stream, and
	// only the pass holder may consume it.
	passMu sync.Mutex

	mu        sync.RWMutex
	latest    types.ScanResult
	hasLatest bool
	started   bool

	scans  uint64
	misses uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScanner ties a camera to a detector worker
func NewScanner(camera *Camera, worker *Worker, cfg ScannerConfig) *Scanner {
	if cfg.ScanTimeout <= 0 {
		cfg.ScanTimeout = 5 * time.Second
	}
	return &Scanner{camera: camera, worker: worker, cfg: cfg}
}

// Start brings up the camera, the worker and the continuous scan loop
func (s *Scanner) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("scanner already started")
	}
	s.started = true
	s.mu.Unlock()

	if err := s.camera.Start(ctx); err != nil {
		return fmt.Errorf("failed to start camera: %w", err)
	}
	if err := s.worker.Start(ctx); err != nil {
		s.camera.Stop()
		return fmt.Errorf("failed to start detector worker: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.continuousLoop(loopCtx)

	slog.Info("quality scanner started", "scan_interval", s.cfg.ScanInterval)
	return nil
}

// Scan runs one fresh capture+detect pass and returns its detections.
// An empty slice is a valid result: it means the tray looks empty.
func (s *Scanner) Scan(ctx context.Context) ([]types.Detection, error) {
	result, err := s.scanOnce(ctx)
	if err != nil {
		return nil, err
	}
	return result.Detections, nil
}

// LatestScan returns the most recent result from any pass
func (s *Scanner) LatestScan() (types.ScanResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.hasLatest
}

// Close stops the loop, the worker and the camera
func (s *Scanner) Close() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	if err := s.worker.Stop(); err != nil {
		slog.Warn("detector worker stop failed", "error", err)
	}
	if err := s.camera.Stop(); err != nil {
		slog.Warn("camera stop failed", "error", err)
	}

	slog.Info("quality scanner stopped",
		"scans", atomic.LoadUint64(&s.scans),
		"misses", atomic.LoadUint64(&s.misses),
	)
	return nil
}

// Stats returns scanner counters plus the worker's health metrics
func (s *Scanner) Stats() (scans, misses uint64, worker WorkerMetrics) {
	return atomic.LoadUint64(&s.scans), atomic.LoadUint64(&s.misses), s.worker.Metrics()
}

// scanOnce captures a fresh frame, ships it to the worker and waits for
// the matching result
func (s *Scanner) scanOnce(ctx context.Context) (types.ScanResult, error) {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	passCtx, cancel := context.WithTimeout(ctx, s.cfg.ScanTimeout)
	defer cancel()

	frame, err := s.camera.Capture(passCtx)
	if err != nil {
		atomic.AddUint64(&s.misses, 1)
		return types.ScanResult{}, fmt.Errorf("capture failed: %w", err)
	}
	frame.TraceID = uuid.New().String()

	if err := s.worker.SendFrame(frame); err != nil {
		atomic.AddUint64(&s.misses, 1)
		return types.ScanResult{}, fmt.Errorf("send to worker failed: %w", err)
	}

	for {
		select {
		case <-passCtx.Done():
			atomic.AddUint64(&s.misses, 1)
			return types.ScanResult{}, fmt.Errorf("no detector result for trace %s: %w", frame.TraceID, passCtx.Err())

		case result, ok := <-s.worker.Results():
			if !ok {
				atomic.AddUint64(&s.misses, 1)
				return types.ScanResult{}, fmt.Errorf("detector worker stopped")
			}
			if result.TraceID != frame.TraceID {
				// Leftover from a timed-out pass
				slog.Debug("discarding stale detector result",
					"trace_id", result.TraceID,
					"want", frame.TraceID,
				)
				continue
			}

			s.mu.Lock()
			s.latest = result
			s.hasLatest = true
			s.mu.Unlock()
			atomic.AddUint64(&s.scans, 1)

			slog.Debug("scan complete",
				"trace_id", result.TraceID,
				"detections", len(result.Detections),
				"elapsed_ms", result.ElapsedMs,
			)
			return result, nil
		}
	}
}

// continuousLoop keeps the latest result fresh for the console
func (s *Scanner) continuousLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.scanOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Debug("continuous scan missed", "error", err)
			}
		}
	}
}
