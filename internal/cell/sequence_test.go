package cell

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cutcell/vesta/internal/scale"
	"github.com/cutcell/vesta/internal/types"
	"github.com/cutcell/vesta/internal/vision"
)

// --- Test 1: stall, operator intervention, resume ---

// TestIngredientStallResumeToDone validates the stall recovery loop.
//
// Contract:
//   - a stalled cycle keeps its accumulated grams
//   - the sequencer prompts for more material, then re-prompts
//     placement, and the next cycle's detector is seeded with the
//     retained mass
//
// Scenario:
//  1. 50g of potato required; flow dries up at 13g (limit 3)
//  2. Operator acks "add more", then the placement prompt
//  3. Second cycle starts at 13g and rides 20g deltas to 53g
func TestIngredientStallResumeToDone(t *testing.T) {
	cfg := testConfig(t)
	cfg.Dispense.NoChangeLimit = 3
	b := newBench(t, cfg, []scale.Reading{
		{Grams: 0, OK: true},
		{Grams: 5, OK: true},
		{Grams: 8, OK: true},
		{Grams: 13, OK: true}, // stall: three sub-threshold deltas
		{Grams: 13, OK: true}, // second cycle baseline
		{Grams: 33, OK: true},
		{Grams: 53, OK: true}, // 53 ≥ 50, done
	})
	b.ctrl.state.addRequired("potato", 50)
	order := testOrder("Small Fries", map[string]float64{"potato": 50})

	for i := 0; i < 4; i++ { // place, add-more, place, collect
		b.console.Ack()
	}

	if err := b.ctrl.runIngredient(context.Background(), order, "potato"); err != nil {
		t.Fatalf("runIngredient() failed: %v", err)
	}

	if got := b.ctrl.state.progressFor("potato"); got != 53 {
		t.Errorf("Expected 53g progress after resume, got %v", got)
	}

	recs := b.journal.records()
	if len(recs) != 2 {
		t.Fatalf("Expected 2 cycle records (stalled, done), got %d", len(recs))
	}
	if recs[0].Outcome != "stalled" || recs[0].AccumulatedG != 13 {
		t.Errorf("First cycle: expected stalled at 13g, got %s at %v", recs[0].Outcome, recs[0].AccumulatedG)
	}
	if recs[1].Outcome != "done" || recs[1].AccumulatedG != 53 {
		t.Errorf("Second cycle: expected done at 53g, got %s at %v", recs[1].Outcome, recs[1].AccumulatedG)
	}

	prompts := strings.Join(b.console.Prompts(), "\n")
	if !strings.Contains(prompts, "add more potato") {
		t.Errorf("Missing add-more prompt, got:\n%s", prompts)
	}
	if !strings.Contains(prompts, "collect it") {
		t.Errorf("Missing collect prompt, got:\n%s", prompts)
	}
	if n := strings.Count(prompts, "Please place potato"); n != 2 {
		t.Errorf("Expected 2 placement prompts (initial + after stall), got %d", n)
	}

	t.Logf("✅ stall at 13g, resume to done at 53g with placement re-prompt")
}

// --- Test 2: quality gate rejects then passes ---

// TestQualityGateRejectThenPass validates the replace loop.
//
// Contract:
//   - an unhealthy verdict prompts replacement and re-runs the gate
//     without advancing to the cut
//   - the replacement is re-scanned before any cutting starts
func TestQualityGateRejectThenPass(t *testing.T) {
	cfg := testConfig(t)
	b := newBench(t, cfg, []scale.Reading{
		{Grams: 0, OK: true},
		{Grams: 30, OK: true},
		{Grams: 60, OK: true},
	})
	b.scanner = vision.NewMockScanner(
		[]types.Detection{{Label: "unhealthy_potato", Confidence: 0.8}},
		[]types.Detection{{Label: "potato", Confidence: 0.9}},
	)
	b.ctrl.scanner = b.scanner
	b.ctrl.state.addRequired("potato", 50)
	order := testOrder("Small Fries", map[string]float64{"potato": 50})

	for i := 0; i < 4; i++ { // place, replace, place, collect
		b.console.Ack()
	}

	if err := b.ctrl.runIngredient(context.Background(), order, "potato"); err != nil {
		t.Fatalf("runIngredient() failed: %v", err)
	}

	if got := b.scanner.Scans(); got != 2 {
		t.Errorf("Expected 2 scans (reject + pass), got %d", got)
	}
	recs := b.journal.records()
	if len(recs) != 1 || recs[0].Outcome != "done" {
		t.Fatalf("Expected exactly one done cycle after the gate passed, got %+v", recs)
	}

	prompts := strings.Join(b.console.Prompts(), "\n")
	if !strings.Contains(prompts, "appears unhealthy") {
		t.Errorf("Missing replace prompt, got:\n%s", prompts)
	}

	t.Logf("✅ gate rejected once, passed on replacement, one cut cycle ran")
}

// --- Test 3: scan failure rejects ---

// TestQualityGateScanFailureRejects validates that the gate never
// passes without a fresh verdict: a camera fault is treated like
// unhealthy material.
func TestQualityGateScanFailureRejects(t *testing.T) {
	cfg := testConfig(t)
	b := newBench(t, cfg, []scale.Reading{
		{Grams: 0, OK: true},
		{Grams: 30, OK: true},
		{Grams: 60, OK: true},
	})
	b.scanner.FailNextScan(errors.New("camera offline"))
	b.ctrl.state.addRequired("potato", 50)
	order := testOrder("Small Fries", map[string]float64{"potato": 50})

	for i := 0; i < 4; i++ { // place, replace, place, collect
		b.console.Ack()
	}

	if err := b.ctrl.runIngredient(context.Background(), order, "potato"); err != nil {
		t.Fatalf("runIngredient() failed: %v", err)
	}

	if got := b.scanner.Scans(); got != 1 {
		t.Errorf("Expected 1 successful scan after the failure, got %d", got)
	}
	if got := b.cutter.Activations(); got != 2 { // cut + settle
		t.Errorf("Expected cutting to start only after the retry scan, got %d activations", got)
	}
}

// --- Test 4: scan verdict rules ---

// TestEvaluateScan validates the quality verdict in isolation.
//
// Contract:
//   - no detections rejects (empty staging area or blind detector)
//   - any label containing a reject marker rejects, case-insensitive
//   - everything else passes
func TestEvaluateScan(t *testing.T) {
	markers := []string{"unhealthy"}

	cases := []struct {
		name       string
		detections []types.Detection
		markers    []string
		want       bool
	}{
		{"no detections", nil, markers, false},
		{"healthy item", []types.Detection{{Label: "potato"}}, markers, true},
		{"marked item", []types.Detection{{Label: "unhealthy_potato"}}, markers, false},
		{"case insensitive", []types.Detection{{Label: "Unhealthy_Potato"}}, markers, false},
		{"one bad among good", []types.Detection{{Label: "potato"}, {Label: "unhealthy_leaf"}}, markers, false},
		{"custom markers", []types.Detection{{Label: "moldy_carrot"}}, []string{"rot", "mold"}, false},
		{"no markers configured", []types.Detection{{Label: "potato"}}, nil, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := EvaluateScan(tc.detections, tc.markers); got != tc.want {
				t.Errorf("EvaluateScan(%v, %v) = %v, want %v", tc.detections, tc.markers, got, tc.want)
			}
		})
	}
}

// --- Test 5: full order ---

// TestProcessOrderCompletes validates the order sequencer end to end.
//
// Contract:
//   - status walks pending → in-progress → completed
//   - telemetry reports both transitions plus the ingredient and
//     cycle events
func TestProcessOrderCompletes(t *testing.T) {
	cfg := testConfig(t)
	b := newBench(t, cfg, []scale.Reading{
		{Grams: 0, OK: true},
		{Grams: 50, OK: true},
		{Grams: 100, OK: true},
	})
	order := b.book.add("Small Fries", map[string]float64{"potato": 100})

	b.console.Ack() // place
	b.console.Ack() // collect

	if err := b.ctrl.processOrder(context.Background(), order); err != nil {
		t.Fatalf("processOrder() failed: %v", err)
	}

	if got := b.book.status(order); got != types.OrderCompleted {
		t.Errorf("Expected order completed, got %s", got)
	}
	if n := b.emitter.kindCount("order_status"); n != 2 {
		t.Errorf("Expected 2 order_status events (in-progress, completed), got %d", n)
	}
	if n := b.emitter.kindCount("ingredient_done"); n != 1 {
		t.Errorf("Expected 1 ingredient_done event, got %d", n)
	}

	snap := b.ctrl.Snapshot()
	if snap.Order != "Small Fries" || snap.OrderStatus != string(types.OrderCompleted) {
		t.Errorf("Snapshot out of date: %+v", snap)
	}

	t.Logf("✅ order completed with full telemetry trail")
}

// --- Test 6: ingredient fetch failure ---

// TestProcessOrderFetchFailureAbortsOrderOnly validates the abort
// contract: a broken order burns nothing but itself.
//
// Contract:
//   - the error is returned (the run loop logs it and moves on)
//   - the order stays in-progress, never completed
//   - no hardware was touched
func TestProcessOrderFetchFailureAbortsOrderOnly(t *testing.T) {
	cfg := testConfig(t)
	b := newBench(t, cfg, []scale.Reading{{Grams: 0, OK: true}})
	order := b.book.add("Broken Order", map[string]float64{"potato": 100})
	b.book.fetchErr = errors.New("book corrupted")

	err := b.ctrl.processOrder(context.Background(), order)
	if err == nil {
		t.Fatal("Expected processOrder to fail on a fetch error")
	}
	if !strings.Contains(err.Error(), "failed to fetch ingredients") {
		t.Errorf("Unexpected error: %v", err)
	}

	if got := b.book.status(order); got != types.OrderInProgress {
		t.Errorf("Expected order left in-progress for the operator, got %s", got)
	}
	if got := b.cutter.Activations(); got != 0 {
		t.Errorf("Expected no cutter activity on an aborted order, got %d", got)
	}
}

// --- Test 7: additive demand across orders ---

// TestOrderDemandIsAdditiveAcrossOrders validates the totals map.
//
// Contract:
//   - a recurring ingredient adds to the same demand key
//   - the second order's cycle is seeded with the first order's
//     progress and only cuts the difference
func TestOrderDemandIsAdditiveAcrossOrders(t *testing.T) {
	cfg := testConfig(t)
	b := newBench(t, cfg, []scale.Reading{
		{Grams: 0, OK: true},
		{Grams: 25, OK: true},
		{Grams: 50, OK: true}, // order A done at 50g
		{Grams: 50, OK: true}, // settle
		{Grams: 50, OK: true},
		{Grams: 50, OK: true},
		{Grams: 50, OK: true}, // order B cycle baseline
		{Grams: 65, OK: true},
		{Grams: 80, OK: true}, // 80 ≥ 80, done
	})
	orderA := b.book.add("Order A", map[string]float64{"potato": 50})
	orderB := b.book.add("Order B", map[string]float64{"potato": 30})

	for i := 0; i < 4; i++ { // place+collect twice
		b.console.Ack()
	}

	if err := b.ctrl.processOrder(context.Background(), orderA); err != nil {
		t.Fatalf("processOrder(A) failed: %v", err)
	}
	if err := b.ctrl.processOrder(context.Background(), orderB); err != nil {
		t.Fatalf("processOrder(B) failed: %v", err)
	}

	if got := b.ctrl.state.requiredFor("potato"); got != 80 {
		t.Errorf("Expected additive demand 80g, got %v", got)
	}
	if got := b.ctrl.state.progressFor("potato"); got != 80 {
		t.Errorf("Expected progress 80g, got %v", got)
	}

	recs := b.journal.records()
	if len(recs) != 2 {
		t.Fatalf("Expected 2 cycles, got %d", len(recs))
	}
	if recs[1].TargetG != 80 || recs[1].AccumulatedG != 80 {
		t.Errorf("Second cycle should target the additive total: %+v", recs[1])
	}
	if moves := b.table.Moves(); len(moves) != 2 || moves[0] != 1 || moves[1] != 2 {
		t.Errorf("Expected table to advance to 1 then 2, got %v", moves)
	}

	t.Logf("✅ demand added across orders, second cycle cut only the 30g difference")
}
