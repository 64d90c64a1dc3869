package vision

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/cutcell/vesta/internal/types"
)

// Worker wraps a detector subprocess. Frames go down stdin, detection
// results come back on stdout, both as length-prefixed msgpack
// (4 bytes big-endian + payload) so either side can find message
// boundaries in the stream.
type Worker struct {
	cfg WorkerConfig

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	input   chan Frame
	results chan types.ScanResult

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	isActive atomic.Bool

	// Stats
	frameCount     uint64
	resultCount    uint64
	totalLatencyMS uint64
	framesDropped  uint64
	lastSeenAt     atomic.Value // time.Time
}

// WorkerConfig contains detector subprocess settings
type WorkerConfig struct {
	Cmd        string
	Args       []string
	Confidence float64
	InstanceID string
}

// WorkerMetrics contains health metrics for the detector subprocess
type WorkerMetrics struct {
	FramesProcessed uint64    `json:"frames_processed"`
	FramesDropped   uint64    `json:"frames_dropped"`
	ResultsEmitted  uint64    `json:"results_emitted"`
	AvgLatencyMS    float64   `json:"avg_latency_ms"`
	LastSeenAt      time.Time `json:"last_seen_at"`
}

type workerRequest struct {
	FrameData []byte     `msgpack:"frame_data"`
	Width     int        `msgpack:"width"`
	Height    int        `msgpack:"height"`
	Meta      workerMeta `msgpack:"meta"`
}

type workerMeta struct {
	InstanceID string `msgpack:"instance_id"`
	TraceID    string `msgpack:"trace_id"`
	Seq        uint64 `msgpack:"seq"`
	Timestamp  string `msgpack:"timestamp"`
}

type workerResult struct {
	TraceID    string            `msgpack:"trace_id"`
	Detections []types.Detection `msgpack:"detections"`
	Timing     workerTiming      `msgpack:"timing"`
}

type workerTiming struct {
	TotalMs     float64 `msgpack:"total_ms"`
	InferenceMs float64 `msgpack:"inference_ms"`
}

// NewWorker creates a detector worker
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Cmd == "" {
		return nil, fmt.Errorf("worker command is required")
	}
	if cfg.Confidence <= 0 {
		cfg.Confidence = 0.5
	}

	w := &Worker{
		cfg:     cfg,
		input:   make(chan Frame, 5),
		results: make(chan types.ScanResult, 10),
	}

	slog.Info("detector worker created",
		"cmd", cfg.Cmd,
		"confidence", cfg.Confidence,
	)
	return w, nil
}

// Start spawns the subprocess and its reader goroutines
func (w *Worker) Start(ctx context.Context) error {
	if w.isActive.Load() {
		return fmt.Errorf("worker already started")
	}

	// Recreate channels if a previous Stop closed them
	w.input = make(chan Frame, 5)
	w.results = make(chan types.ScanResult, 10)

	w.ctx, w.cancel = context.WithCancel(ctx)

	if err := w.spawnProcess(); err != nil {
		return fmt.Errorf("failed to spawn detector process: %w", err)
	}

	w.isActive.Store(true)
	w.lastSeenAt.Store(time.Now())

	w.wg.Add(1)
	go w.processFrames()

	w.wg.Add(1)
	go w.logStderr()

	slog.Info("detector worker started", "cmd", w.cfg.Cmd)
	return nil
}

// SendFrame queues a frame for detection (non-blocking)
func (w *Worker) SendFrame(frame Frame) (err error) {
	// A restart can close the channel under us
	defer func() {
		if r := recover(); r != nil {
			atomic.AddUint64(&w.framesDropped, 1)
			err = fmt.Errorf("worker channel closed (restart in progress)")
		}
	}()

	if !w.isActive.Load() {
		atomic.AddUint64(&w.framesDropped, 1)
		return fmt.Errorf("worker not active")
	}

	select {
	case w.input <- frame:
		return nil
	default:
		atomic.AddUint64(&w.framesDropped, 1)
		return fmt.Errorf("worker input buffer full")
	}
}

// Results returns the detection results channel
func (w *Worker) Results() <-chan types.ScanResult {
	return w.results
}

// Metrics returns current worker health metrics
func (w *Worker) Metrics() WorkerMetrics {
	resultsEmitted := atomic.LoadUint64(&w.resultCount)
	totalLatencyMS := atomic.LoadUint64(&w.totalLatencyMS)

	var avgLatencyMS float64
	if resultsEmitted > 0 {
		avgLatencyMS = float64(totalLatencyMS) / float64(resultsEmitted)
	}

	var lastSeen time.Time
	if val := w.lastSeenAt.Load(); val != nil {
		lastSeen = val.(time.Time)
	}

	return WorkerMetrics{
		FramesProcessed: atomic.LoadUint64(&w.frameCount),
		FramesDropped:   atomic.LoadUint64(&w.framesDropped),
		ResultsEmitted:  resultsEmitted,
		AvgLatencyMS:    avgLatencyMS,
		LastSeenAt:      lastSeen,
	}
}

// Stop shuts the subprocess down, force-killing it after 2s
func (w *Worker) Stop() error {
	if !w.isActive.Load() {
		return nil
	}
	// Flip first so concurrent Stop calls cannot double-close
	w.isActive.Store(false)

	slog.Info("stopping detector worker")

	if w.cancel != nil {
		w.cancel()
	}

	// Closing stdin tells the worker to exit gracefully
	if w.stdin != nil {
		w.stdin.Close()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("detector worker goroutines stopped cleanly")
	case <-time.After(2 * time.Second):
		slog.Warn("detector worker stop timeout, force killing process")
		if w.cmd != nil && w.cmd.Process != nil {
			if err := w.cmd.Process.Kill(); err != nil {
				slog.Error("failed to kill detector process", "error", err)
			}
		}
	}

	safeCloseFrames := func(ch chan Frame) {
		defer func() { recover() }()
		close(ch)
	}
	safeCloseResults := func(ch chan types.ScanResult) {
		defer func() { recover() }()
		close(ch)
	}
	safeCloseFrames(w.input)
	safeCloseResults(w.results)

	slog.Info("detector worker stopped",
		"frames_processed", atomic.LoadUint64(&w.frameCount),
		"results", atomic.LoadUint64(&w.resultCount),
	)
	return nil
}

func (w *Worker) spawnProcess() error {
	args := append([]string{}, w.cfg.Args...)
	args = append(args, "--confidence", fmt.Sprintf("%.2f", w.cfg.Confidence))

	w.cmd = exec.CommandContext(w.ctx, w.cfg.Cmd, args...)

	stdin, err := w.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	w.stdin = stdin

	stdout, err := w.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	w.stdout = stdout

	stderr, err := w.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	w.stderr = stderr

	if err := w.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start detector process: %w", err)
	}

	slog.Info("detector process spawned", "pid", w.cmd.Process.Pid)

	w.wg.Add(1)
	go w.readResults()

	w.wg.Add(1)
	go w.waitProcess()

	return nil
}

// processFrames forwards queued frames to the subprocess
func (w *Worker) processFrames() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return

		case frame, ok := <-w.input:
			if !ok {
				return
			}

			atomic.AddUint64(&w.frameCount, 1)

			select {
			case <-w.ctx.Done():
				return
			default:
			}

			if err := w.sendFrame(frame); err != nil {
				slog.Error("failed to send frame to detector worker",
					"frame_seq", frame.Seq,
					"trace_id", frame.TraceID,
					"error", err,
					"action", "worker may be hung, check health metrics")
			}
		}
	}
}

// sendFrame writes one length-prefixed msgpack request with a timeout
func (w *Worker) sendFrame(frame Frame) error {
	request := workerRequest{
		FrameData: frame.Data,
		Width:     frame.Width,
		Height:    frame.Height,
		Meta: workerMeta{
			InstanceID: w.cfg.InstanceID,
			TraceID:    frame.TraceID,
			Seq:        frame.Seq,
			Timestamp:  frame.CapturedAt.Format(time.RFC3339Nano),
		},
	}

	payload, err := msgpack.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	writeErr := make(chan error, 1)
	go func() {
		lengthPrefix := make([]byte, 4)
		binary.BigEndian.PutUint32(lengthPrefix, uint32(len(payload)))

		if _, err := w.stdin.Write(lengthPrefix); err != nil {
			writeErr <- fmt.Errorf("failed to write length prefix: %w", err)
			return
		}
		if _, err := w.stdin.Write(payload); err != nil {
			writeErr <- fmt.Errorf("failed to write payload: %w", err)
			return
		}
		writeErr <- nil
	}()

	select {
	case err := <-writeErr:
		if err != nil {
			return fmt.Errorf("failed to write to stdin: %w", err)
		}
		return nil
	case <-time.After(2 * time.Second):
		return fmt.Errorf("stdin write timeout (detector worker may be hung)")
	case <-w.ctx.Done():
		return fmt.Errorf("worker context cancelled during write")
	}
}

// readResults decodes length-prefixed msgpack results from stdout
func (w *Worker) readResults() {
	defer w.wg.Done()

	lengthBuf := make([]byte, 4)

	for {
		if _, err := io.ReadFull(w.stdout, lengthBuf); err != nil {
			if err == io.EOF {
				slog.Debug("detector worker stdout closed (EOF)")
				return
			}
			slog.Error("failed to read length prefix from detector worker", "error", err)
			return
		}

		msgLength := binary.BigEndian.Uint32(lengthBuf)
		payload := make([]byte, msgLength)
		if _, err := io.ReadFull(w.stdout, payload); err != nil {
			slog.Error("failed to read result from detector worker",
				"error", err,
				"expected_length", msgLength,
			)
			return
		}

		var result workerResult
		if err := msgpack.Unmarshal(payload, &result); err != nil {
			slog.Error("failed to unmarshal detector result",
				"error", err,
				"data_length", len(payload),
				"action", "check detector worker logs in stderr")
			continue
		}

		scan := types.ScanResult{
			TraceID:    result.TraceID,
			Detections: result.Detections,
			CapturedAt: time.Now(),
			ElapsedMs:  result.Timing.TotalMs,
		}

		select {
		case w.results <- scan:
			atomic.AddUint64(&w.resultCount, 1)
			w.lastSeenAt.Store(time.Now())
			atomic.AddUint64(&w.totalLatencyMS, uint64(result.Timing.TotalMs))
		default:
			slog.Warn("dropping detector result, channel full", "trace_id", result.TraceID)
		}
	}
}

// logStderr maps the worker's log lines onto slog levels
func (w *Worker) logStderr() {
	defer w.wg.Done()

	scanner := bufio.NewScanner(w.stderr)
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case strings.Contains(line, "[ERROR]") || strings.Contains(line, "[CRITICAL]"):
			slog.Error("detector worker error", "log", line)
		case strings.Contains(line, "[WARNING]") || strings.Contains(line, "[WARN]"):
			slog.Warn("detector worker warning", "log", line)
		default:
			slog.Debug("detector worker log", "log", line)
		}
	}

	if err := scanner.Err(); err != nil {
		slog.Error("error reading detector stderr", "error", err)
	}
}

// waitProcess reaps the subprocess so it never zombies
func (w *Worker) waitProcess() {
	defer w.wg.Done()

	if w.cmd == nil || w.cmd.Process == nil {
		return
	}

	err := w.cmd.Wait()
	if err != nil {
		select {
		case <-w.ctx.Done():
			slog.Debug("detector process exited (shutdown)", "pid", w.cmd.Process.Pid)
		default:
			slog.Error("detector process exited unexpectedly",
				"pid", w.cmd.Process.Pid,
				"error", err,
			)
		}
		return
	}
	slog.Info("detector process exited cleanly", "pid", w.cmd.Process.Pid)
}
