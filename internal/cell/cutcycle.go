package cell

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/cutcell/vesta/internal/massflow"
	"github.com/cutcell/vesta/internal/types"
)

// cycleOutcome is the terminal state of one cut cycle
type cycleOutcome string

const (
	outcomeDone      cycleOutcome = "done"
	outcomeStalled   cycleOutcome = "stalled"
	outcomeCancelled cycleOutcome = "cancelled"
	outcomeFaulted   cycleOutcome = "faulted"
)

// runCutCycle runs the cutter until the ingredient's required grams are
// on the tray or material stops flowing.
//
// The detector is seeded with the grams already accumulated for this
// ingredient, so a cycle restarted after a stall picks up where the
// last one left off. On Done the actuator is deactivated exactly once,
// the turntable advances one station, and the settle phase clears
// stragglers. On Stalled the actuator is deactivated and the sequencer
// decides what to tell the operator. Cancellation exits within one
// poll interval with the actuator deactivated and no Done/Stalled
// transition.
func (c *Controller) runCutCycle(ctx context.Context, order *types.Order, ingredient string) cycleOutcome {
	traceID := uuid.New().String()
	target := c.state.requiredFor(ingredient)
	seed := c.state.progressFor(ingredient)

	filter := massflow.Filter{MaxJumpG: c.cfg.Dispense.MaxPlausibleJumpG}
	det := massflow.NewDetector(target, seed, c.cfg.Dispense.StableThresholdG, c.cfg.Dispense.NoChangeLimit)

	c.state.setPhase(PhaseCutting)
	c.console.Show(fmt.Sprintf("Processing %s...", ingredient))

	slog.Info("cut cycle starting",
		"trace_id", traceID,
		"order_id", order.ID,
		"ingredient", ingredient,
		"target_g", target,
		"seed_g", seed,
	)

	started := time.Now()
	rec := types.CycleRecord{
		TraceID:    traceID,
		OrderID:    order.ID,
		OrderName:  order.Name,
		Ingredient: ingredient,
		TargetG:    target,
		StartedAt:  started,
	}

	if err := c.cutter.Activate(); err != nil {
		slog.Error("failed to activate cutter",
			"trace_id", traceID,
			"error", err,
			"action", "check relay power and broker reachability")
		rec.AccumulatedG = seed
		rec.Outcome = string(outcomeFaulted)
		rec.DurationMs = time.Since(started).Milliseconds()
		c.finishCycle(rec)
		return outcomeFaulted
	}

	// Every exit path below must switch the motor off exactly once
	deactivated := false
	deactivate := func() {
		if deactivated {
			return
		}
		deactivated = true
		if err := c.cutter.Deactivate(); err != nil {
			slog.Error("failed to deactivate cutter",
				"trace_id", traceID,
				"error", err,
				"action", "cut relay power manually before opening the cell")
		}
	}
	defer deactivate()

	last, ok := c.scale.Read(c.cfg.Scale.ReadSamples)
	if !ok {
		last = 0
	}
	c.state.setLive(last)

	poll := time.Duration(c.cfg.Dispense.PollIntervalMs) * time.Millisecond
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	// One weight sample per second is plenty for the line dashboard
	weightEvery := int(time.Second / poll)
	if weightEvery < 1 {
		weightEvery = 1
	}

	for {
		select {
		case <-ctx.Done():
			deactivate()
			rec.AccumulatedG = det.Accumulated()
			rec.Outcome = string(outcomeCancelled)
			rec.DurationMs = time.Since(started).Milliseconds()
			c.finishCycle(rec)
			slog.Info("cut cycle cancelled",
				"trace_id", traceID,
				"accumulated_g", det.Accumulated(),
				"samples", rec.Samples,
			)
			return outcomeCancelled
		case <-ticker.C:
		}

		w, ok := c.scale.Read(1)
		rec.Samples++
		if !ok {
			w = last // transient miss, continue on last known
		} else {
			c.state.setLive(w)
		}

		delta, clamp := filter.Accept(last, w)
		switch clamp {
		case massflow.ClampNegative:
			rec.Clamps++
			slog.Debug("negative delta discarded",
				"trace_id", traceID,
				"delta_g", w-last,
			)
		case massflow.ClampJump:
			rec.Clamps++
			slog.Warn("implausible weight jump discarded",
				"trace_id", traceID,
				"delta_g", w-last,
				"max_jump_g", c.cfg.Dispense.MaxPlausibleJumpG,
				"action", "check the tray for foreign objects")
		}
		last = w // raw sample is always the next baseline

		state := det.Feed(delta)
		c.state.setProgress(ingredient, det.Accumulated())

		if rec.Samples%weightEvery == 0 {
			c.publishEvent("weight", map[string]interface{}{
				"trace_id":      traceID,
				"ingredient":    ingredient,
				"grams":         w,
				"accumulated_g": det.Accumulated(),
			})
		}

		switch state {
		case massflow.Done:
			deactivate()
			rec.AccumulatedG = det.Accumulated()
			rec.Outcome = string(outcomeDone)
			rec.DurationMs = time.Since(started).Milliseconds()
			slog.Info("cut cycle done",
				"trace_id", traceID,
				"ingredient", ingredient,
				"accumulated_g", det.Accumulated(),
				"target_g", target,
				"samples", rec.Samples,
				"clamps", rec.Clamps,
			)
			c.finishCycle(rec)
			c.advanceTable()
			c.settle(ctx, traceID)
			return outcomeDone

		case massflow.Stalled:
			deactivate()
			rec.AccumulatedG = det.Accumulated()
			rec.Outcome = string(outcomeStalled)
			rec.DurationMs = time.Since(started).Milliseconds()
			slog.Warn("cut cycle stalled",
				"trace_id", traceID,
				"ingredient", ingredient,
				"accumulated_g", det.Accumulated(),
				"target_g", target,
				"samples", rec.Samples,
				"action", "operator must add material")
			c.finishCycle(rec)
			return outcomeStalled
		}
	}
}

// advanceTable indexes the turntable one station so the finished tray
// leaves the cutting area. A move failure is logged and the position
// stands; the next completed batch retries from there.
func (c *Controller) advanceTable() {
	c.state.setPhase(PhaseIndexing)
	c.console.Show("Rotating turntable...")

	next := (c.state.getPosition() + 1) % c.table.Positions()
	if err := c.table.MoveTo(next); err != nil {
		slog.Error("turntable move failed",
			"position", next,
			"error", err,
			"action", "check stepper wiring, table may need manual homing")
		return
	}
	c.state.setPosition(next)
	slog.Info("turntable advanced", "position", next)
}

// settle runs the cutter briefly after the table advance until the
// tray weight stops moving, so stragglers still in the chute land on
// the new tray before the next batch starts.
func (c *Controller) settle(ctx context.Context, traceID string) {
	c.state.setPhase(PhaseSettling)
	c.console.Show("Finalizing... please wait.")

	if err := c.cutter.Activate(); err != nil {
		slog.Error("failed to activate cutter for settle",
			"trace_id", traceID,
			"error", err)
		return
	}
	defer func() {
		if err := c.cutter.Deactivate(); err != nil {
			slog.Error("failed to deactivate cutter after settle",
				"trace_id", traceID,
				"error", err,
				"action", "cut relay power manually before opening the cell")
		}
	}()

	last, ok := c.scale.Read(c.cfg.Scale.ReadSamples)
	if !ok {
		last = 0
	}
	c.state.setLive(last)

	poll := time.Duration(c.cfg.Dispense.PollIntervalMs) * time.Millisecond
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	stable := 0
	for stable < c.cfg.Dispense.SettleChecks {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		w, ok := c.scale.Read(1)
		if !ok {
			w = last
		} else {
			c.state.setLive(w)
		}

		// Any movement restarts the stability count
		if math.Abs(w-last) < c.cfg.Dispense.StableThresholdG {
			stable++
		} else {
			stable = 0
		}
		last = w
	}

	slog.Debug("output settled", "trace_id", traceID, "checks", c.cfg.Dispense.SettleChecks)
}

// finishCycle journals the outcome and emits the cycle report.
// Journal and telemetry failures are logged and never disturb the
// sequence.
func (c *Controller) finishCycle(rec types.CycleRecord) {
	switch rec.Outcome {
	case string(outcomeDone):
		c.state.cycleDone()
	case string(outcomeStalled), string(outcomeFaulted):
		c.state.cycleFailed()
	}

	if c.journal != nil {
		if err := c.journal.Record(rec); err != nil {
			slog.Error("failed to journal cycle",
				"trace_id", rec.TraceID,
				"error", err)
		}
	}
	c.publishEvent("cycle_report", rec)
}
