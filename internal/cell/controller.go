package cell

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cutcell/vesta/internal/config"
	"github.com/cutcell/vesta/internal/console"
	"github.com/cutcell/vesta/internal/types"
)

// Controller is the cut cell orchestrator
type Controller struct {
	cfg *config.Config

	scale   MassSensor
	cutter  Actuator
	table   Indexer
	scanner QualityScanner
	console OperatorConsole
	orders  OrderSource
	demo    OrderSink
	journal CycleJournal
	emitter EventEmitter

	state *cellState

	// Lifecycle management
	started   time.Time
	mu        sync.RWMutex
	isRunning bool
	runDone   chan struct{}
	cancelCtx context.CancelFunc // for control-plane shutdown and console quit
}

// New wires a controller. A missing required collaborator is a
// construction error; construction is the only fatal path.
func New(cfg *config.Config, col Collaborators) (*Controller, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	missing := ""
	switch {
	case col.Scale == nil:
		missing = "scale"
	case col.Cutter == nil:
		missing = "cutter"
	case col.Table == nil:
		missing = "table"
	case col.Scanner == nil:
		missing = "scanner"
	case col.Console == nil:
		missing = "console"
	case col.Orders == nil:
		missing = "orders"
	}
	if missing != "" {
		return nil, fmt.Errorf("collaborator %s is required", missing)
	}

	return &Controller{
		cfg:     cfg,
		scale:   col.Scale,
		cutter:  col.Cutter,
		table:   col.Table,
		scanner: col.Scanner,
		console: col.Console,
		orders:  col.Orders,
		demo:    col.Demo,
		journal: col.Journal,
		emitter: col.Emitter,
		state:   newCellState(),
	}, nil
}

// Run drives the cell until ctx is cancelled or Stop is called
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.isRunning {
		c.mu.Unlock()
		return fmt.Errorf("controller is already running")
	}
	c.isRunning = true
	c.started = time.Now()
	done := make(chan struct{})
	c.runDone = done
	c.mu.Unlock()
	defer close(done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	c.cancelCtx = cancel
	c.mu.Unlock()

	slog.Info("cell controller running",
		"instance_id", c.cfg.InstanceID,
		"line_id", c.cfg.LineID,
		"positions", c.table.Positions(),
	)

	idle := false
	for ctx.Err() == nil {
		order := c.nextOrder()
		if order == nil {
			if !idle {
				idle = true
				c.enterIdle()
			}
			c.waitForOrders(ctx)
			continue
		}
		idle = false

		if err := c.processOrder(ctx, order); err != nil {
			if ctx.Err() != nil {
				break
			}
			slog.Error("order aborted",
				"order_id", order.ID,
				"order", order.Name,
				"error", err,
				"action", "fix the order book entry, the order stays in-progress")
		}
	}

	slog.Info("cell controller run loop exiting")
	return nil
}

// nextOrder returns the oldest pending order, or nil
func (c *Controller) nextOrder() *types.Order {
	pending := c.orders.Pending()
	if len(pending) == 0 {
		return nil
	}
	return pending[0]
}

// enterIdle announces an empty book, once per empty transition
func (c *Controller) enterIdle() {
	c.state.setOrder("", "")
	c.state.setIngredient("")
	c.state.setPhase(PhaseWaiting)

	if c.demo != nil {
		c.console.Show("Waiting for orders... press enter to queue the demo order.")
	} else {
		c.console.Show("Waiting for orders...")
	}
	slog.Info("order book empty, waiting",
		"poll_ms", c.cfg.Orders.PollMs,
		"demo_on_empty", c.demo != nil,
	)
}

// waitForOrders parks the run loop for one poll interval. With the
// demo sink wired the poll doubles as an ack window: an operator
// acknowledgement enqueues the demo order, recreating the bench
// bring-up flow.
func (c *Controller) waitForOrders(ctx context.Context) {
	poll := time.Duration(c.cfg.Orders.PollMs) * time.Millisecond

	if c.demo == nil {
		select {
		case <-ctx.Done():
		case <-time.After(poll):
		}
		return
	}

	if c.console.WaitForAck(ctx, poll) {
		o, err := c.demo.AddDemo()
		if err != nil {
			slog.Error("failed to enqueue demo order", "error", err)
			return
		}
		slog.Info("demo order enqueued", "order_id", o.ID, "order", o.Name)
	}
}

// Stop cancels the run loop from outside the controller goroutine
// (control-plane shutdown, console quit). Safe before Run and safe to
// repeat.
func (c *Controller) Stop() {
	c.mu.RLock()
	cancel := c.cancelCtx
	c.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// Shutdown stops the run loop and closes every collaborator.
// Each device closes independently: one failure never blocks the rest.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return nil
	}
	runDone := c.runDone
	c.mu.Unlock()

	slog.Info("shutting down cell controller")

	// 1. Stop the run loop: it owns the actuator and must let go first
	c.Stop()
	select {
	case <-runDone:
		slog.Info("run loop stopped")
	case <-ctx.Done():
		slog.Warn("run loop did not stop in time",
			"action", "closing hardware anyway")
	}

	// 2. Close collaborators independently
	if err := c.scanner.Close(); err != nil {
		slog.Error("failed to close scanner", "error", err)
	}
	if err := c.cutter.Close(); err != nil {
		slog.Error("failed to close cutter", "error", err)
	}
	if err := c.scale.Close(); err != nil {
		slog.Error("failed to close scale", "error", err)
	}
	if err := c.table.Close(); err != nil {
		slog.Error("failed to close turntable", "error", err)
	}
	if err := c.console.Close(); err != nil {
		slog.Error("failed to close console", "error", err)
	}

	c.mu.Lock()
	uptime := time.Since(c.started)
	c.isRunning = false
	c.mu.Unlock()

	slog.Info("cell controller shutdown complete", "uptime", uptime)
	return nil
}

// Snapshot returns the display state for the console refresh ticker
func (c *Controller) Snapshot() console.Snapshot {
	snap := c.state.snapshot()
	if res, ok := c.scanner.LatestScan(); ok {
		labels := make([]string, 0, len(res.Detections))
		for _, d := range res.Detections {
			labels = append(labels, fmt.Sprintf("%s %.2f", d.Label, d.Confidence))
		}
		snap.Detections = labels
		snap.ScannedAt = res.CapturedAt
	}
	return snap
}

// GetStatus answers the control plane's get_status command
func (c *Controller) GetStatus() map[string]interface{} {
	c.mu.RLock()
	started := c.started
	running := c.isRunning
	c.mu.RUnlock()

	snap := c.state.snapshot()
	progress, required := c.state.totals()

	return map[string]interface{}{
		"instance_id":   c.cfg.InstanceID,
		"line_id":       c.cfg.LineID,
		"uptime_s":      time.Since(started).Seconds(),
		"running":       running,
		"phase":         snap.Phase,
		"order":         snap.Order,
		"order_status":  snap.OrderStatus,
		"ingredient":    snap.Ingredient,
		"live_weight_g": snap.LiveWeightG,
		"position":      c.state.getPosition(),
		"cycles_done":   snap.CyclesDone,
		"cycles_failed": snap.CyclesFailed,
		"progress_g":    progress,
		"required_g":    required,
	}
}

// Tare re-zeroes the scale. Exposed to the control plane; safe while
// idle, and between cycles the baseline is re-read anyway.
func (c *Controller) Tare() error {
	if err := c.scale.Tare(); err != nil {
		return fmt.Errorf("tare failed: %w", err)
	}
	c.state.setLive(0)
	slog.Info("scale re-zeroed")
	return nil
}

// ShutdownTimeout returns the configured graceful shutdown timeout,
// defaulting to 5 seconds
func (c *Controller) ShutdownTimeout() time.Duration {
	timeout := time.Duration(c.cfg.ShutdownTimeoutS) * time.Second
	if timeout == 0 {
		return 5 * time.Second
	}
	return timeout
}

// publishEvent emits telemetry when an emitter is wired. Failures are
// logged at debug: the cell keeps cutting while the broker is away.
func (c *Controller) publishEvent(kind string, v interface{}) {
	if c.emitter == nil {
		return
	}
	if err := c.emitter.PublishEvent(kind, v); err != nil {
		slog.Debug("telemetry publish failed", "kind", kind, "error", err)
	}
}
