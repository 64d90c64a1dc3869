package cell

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/cutcell/vesta/internal/types"
)

// processOrder fills one order end to end.
//
// The order moves to in-progress before any metal moves. A failed
// ingredient fetch aborts this order only: it stays in-progress for
// the operator to resolve and the run loop moves on to the next.
func (c *Controller) processOrder(ctx context.Context, order *types.Order) error {
	slog.Info("order starting", "order_id", order.ID, "order", order.Name)
	c.orders.SetStatus(order, types.OrderInProgress)
	c.state.setOrder(order.Name, string(types.OrderInProgress))
	c.publishEvent("order_status", map[string]interface{}{
		"order_id": order.ID,
		"order":    order.Name,
		"status":   string(types.OrderInProgress),
	})

	required, err := c.orders.Ingredients(order)
	if err != nil {
		return fmt.Errorf("failed to fetch ingredients for order %s: %w", order.ID, err)
	}

	// Deterministic processing order; map iteration would shuffle it
	names := make([]string, 0, len(required))
	for name := range required {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		c.state.addRequired(name, required[name])
	}

	for _, name := range names {
		if err := c.runIngredient(ctx, order, name); err != nil {
			return err
		}
	}

	c.orders.SetStatus(order, types.OrderCompleted)
	c.state.setOrder(order.Name, string(types.OrderCompleted))
	c.publishEvent("order_status", map[string]interface{}{
		"order_id": order.ID,
		"order":    order.Name,
		"status":   string(types.OrderCompleted),
	})
	slog.Info("order completed", "order_id", order.ID, "order", order.Name)
	c.console.Show(fmt.Sprintf("Order completed: %s", order.Name))
	return nil
}

// runIngredient drives the operator and the machine through as many
// cut cycles as it takes to put the ingredient's required grams on
// trays.
//
// Stalls and faults keep the accumulated grams: the operator adds or
// fixes material and the next cycle's detector is seeded with what is
// already there. The batch ends with a collect prompt reporting the
// net grams processed for this order.
func (c *Controller) runIngredient(ctx context.Context, order *types.Order, ingredient string) error {
	preBatch := c.state.progressFor(ingredient)
	c.state.setIngredient(ingredient)

	for c.state.progressFor(ingredient) < c.state.requiredFor(ingredient) {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if !c.promptPlace(ctx, ingredient) {
			return ctx.Err()
		}
		if !c.qualityGate(ctx, ingredient) {
			continue // material replaced, gate runs again
		}

		switch c.runCutCycle(ctx, order, ingredient) {
		case outcomeCancelled:
			return ctx.Err()
		case outcomeStalled:
			if !c.promptAck(ctx, fmt.Sprintf("No weight increase detected. Please add more %s and press enter.", ingredient)) {
				return ctx.Err()
			}
		case outcomeFaulted:
			if !c.promptAck(ctx, "Cutter fault. Please check the machine and press enter.") {
				return ctx.Err()
			}
		}
	}

	grams := c.state.progressFor(ingredient) - preBatch
	c.publishEvent("ingredient_done", map[string]interface{}{
		"order_id":   order.ID,
		"ingredient": ingredient,
		"grams":      grams,
	})
	slog.Info("ingredient finished", "ingredient", ingredient, "grams", grams)

	c.state.setPhase(PhaseCollecting)
	if !c.promptAck(ctx, fmt.Sprintf("%s processed: %.1fg. Please collect it and press enter.", ingredient, grams)) {
		return ctx.Err()
	}
	return nil
}

// promptPlace asks the operator to load material and waits for the ack
func (c *Controller) promptPlace(ctx context.Context, ingredient string) bool {
	c.state.setPhase(PhasePlacing)
	return c.promptAck(ctx, fmt.Sprintf("Please place %s in the chamber and press enter.", ingredient))
}

// promptAck shows a prompt and blocks until the operator acknowledges
// it. An ack timeout re-shows the prompt and keeps waiting; only ctx
// cancellation gives up, so an unattended line never wedges shutdown.
func (c *Controller) promptAck(ctx context.Context, msg string) bool {
	timeout := time.Duration(c.cfg.Console.AckTimeoutS) * time.Second
	for {
		c.console.Show(msg)
		if c.console.WaitForAck(ctx, timeout) {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		slog.Warn("operator ack timed out, re-prompting",
			"prompt", msg,
			"timeout_s", c.cfg.Console.AckTimeoutS,
		)
		// Brief pause so a closed console cannot spin the loop hot
		select {
		case <-ctx.Done():
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// qualityGate scans the loaded material and loops the operator
// through replacements until the verdict is healthy. A scan failure
// rejects: the gate never passes without a fresh verdict.
//
// Returns false both on rejection (caller re-prompts placement) and
// on cancellation (caller checks ctx).
func (c *Controller) qualityGate(ctx context.Context, ingredient string) bool {
	c.state.setPhase(PhaseScanning)
	c.console.Show("Analyzing material quality...")

	detections, err := c.scanner.Scan(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		slog.Error("quality scan failed",
			"ingredient", ingredient,
			"error", err,
			"action", "check camera and detector worker")
	}

	if err == nil && EvaluateScan(detections, c.cfg.Vision.RejectLabels) {
		slog.Info("quality gate passed",
			"ingredient", ingredient,
			"detections", len(detections))
		return true
	}

	slog.Warn("quality gate rejected material",
		"ingredient", ingredient,
		"detections", len(detections))
	c.promptAck(ctx, fmt.Sprintf("%s appears unhealthy. Please replace it and press enter.", ingredient))
	return false
}

// EvaluateScan decides whether scanned material may be processed.
//
// No detections rejects: either the staging area is empty or the
// detector is blind, and both need an operator. Any label containing
// one of the reject markers rejects. Everything else passes.
func EvaluateScan(detections []types.Detection, rejectLabels []string) bool {
	if len(detections) == 0 {
		return false
	}
	for _, d := range detections {
		label := strings.ToLower(d.Label)
		for _, marker := range rejectLabels {
			if strings.Contains(label, strings.ToLower(marker)) {
				return false
			}
		}
	}
	return true
}
