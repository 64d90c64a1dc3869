package cell

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/cutcell/vesta/internal/scale"
)

// --- Test 1: target reached (scenario A) ---

// TestCutCycleReachesTarget validates the happy path of one cut cycle.
//
// Contract:
//   - readings 0→15→35→65→105 against target 100 finish on the 4th
//     poll (105 ≥ 100), never later
//   - the actuator is deactivated exactly once before the table moves
//   - the settle phase re-activates and stops after the configured
//     consecutive stable reads
//
// Scenario:
//  1. Script the scale with a clean ramp
//  2. Run one cut cycle for 100g of potato
//  3. Assert outcome, hardware event order and the journal record
func TestCutCycleReachesTarget(t *testing.T) {
	cfg := testConfig(t)
	b := newBench(t, cfg, []scale.Reading{
		{Grams: 0, OK: true},
		{Grams: 15, OK: true},
		{Grams: 35, OK: true},
		{Grams: 65, OK: true},
		{Grams: 105, OK: true},
	})
	b.ctrl.state.addRequired("potato", 100)
	order := testOrder("Small Fries", map[string]float64{"potato": 100})

	outcome := b.ctrl.runCutCycle(context.Background(), order, "potato")

	if outcome != outcomeDone {
		t.Fatalf("Expected outcome done, got %s", outcome)
	}

	want := []string{"cutter on", "cutter off", "move 1", "cutter on", "cutter off"}
	if got := b.log.all(); !reflect.DeepEqual(got, want) {
		t.Errorf("Hardware event order mismatch:\n got:  %v\n want: %v", got, want)
	}

	recs := b.journal.records()
	if len(recs) != 1 {
		t.Fatalf("Expected 1 journal record, got %d", len(recs))
	}
	rec := recs[0]
	if rec.Outcome != "done" {
		t.Errorf("Expected journal outcome done, got %s", rec.Outcome)
	}
	if rec.Samples != 4 {
		t.Errorf("Expected Done on the 4th sample, got %d", rec.Samples)
	}
	if rec.AccumulatedG != 105 {
		t.Errorf("Expected 105g accumulated, got %v", rec.AccumulatedG)
	}
	if rec.Clamps != 0 {
		t.Errorf("Expected no clamps on a clean ramp, got %d", rec.Clamps)
	}
	if rec.TraceID == "" || rec.OrderID != order.ID || rec.Ingredient != "potato" {
		t.Errorf("Journal record incomplete: %+v", rec)
	}

	if got := b.ctrl.state.progressFor("potato"); got != 105 {
		t.Errorf("Expected progress 105g, got %v", got)
	}
	if moves := b.table.Moves(); len(moves) != 1 || moves[0] != 1 {
		t.Errorf("Expected one table move to station 1, got %v", moves)
	}
	if n := b.emitter.kindCount("cycle_report"); n != 1 {
		t.Errorf("Expected 1 cycle_report event, got %d", n)
	}

	t.Logf("✅ cycle done on sample 4 with 105g, deactivate before move, settle ran")
}

// --- Test 2: stall retains accumulated mass (scenario B) ---

// TestCutCycleStallRetainsAccumulated validates stall detection.
//
// Contract:
//   - three consecutive sub-threshold deltas (limit 3) stall the cycle
//   - every credited gram is retained: deltas 5, 3, 5 leave 13g
//   - the table never moves on a stall
func TestCutCycleStallRetainsAccumulated(t *testing.T) {
	cfg := testConfig(t)
	cfg.Dispense.NoChangeLimit = 3
	b := newBench(t, cfg, []scale.Reading{
		{Grams: 0, OK: true},
		{Grams: 5, OK: true},
		{Grams: 8, OK: true},
		{Grams: 13, OK: true},
	})
	b.ctrl.state.addRequired("potato", 50)
	order := testOrder("Small Fries", map[string]float64{"potato": 50})

	outcome := b.ctrl.runCutCycle(context.Background(), order, "potato")

	if outcome != outcomeStalled {
		t.Fatalf("Expected outcome stalled, got %s", outcome)
	}
	if got := b.ctrl.state.progressFor("potato"); got != 13 {
		t.Errorf("Expected 13g retained after stall, got %v", got)
	}

	recs := b.journal.records()
	if len(recs) != 1 || recs[0].Outcome != "stalled" {
		t.Fatalf("Expected one stalled record, got %+v", recs)
	}
	if recs[0].Samples != 3 {
		t.Errorf("Expected stall exactly at the no-change limit (3 samples), got %d", recs[0].Samples)
	}

	want := []string{"cutter on", "cutter off"}
	if got := b.log.all(); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected deactivate and no table move, got %v", got)
	}

	t.Logf("✅ stalled after 3 quiet polls with 13g retained")
}

// --- Test 3: implausible readings are clamped (scenario C) ---

// TestCutCycleClampsImplausibleReadings validates the filter wiring.
//
// Contract:
//   - readings 100→95→130 with MaxJump 25 credit nothing: the
//     negative delta and the 35g jump both clamp to 0
//   - the raw sample still becomes the next baseline (drift tracked,
//     not credited)
func TestCutCycleClampsImplausibleReadings(t *testing.T) {
	cfg := testConfig(t)
	cfg.Dispense.MaxPlausibleJumpG = 25
	cfg.Dispense.NoChangeLimit = 2
	b := newBench(t, cfg, []scale.Reading{
		{Grams: 100, OK: true},
		{Grams: 95, OK: true},
		{Grams: 130, OK: true},
	})
	b.ctrl.state.addRequired("potato", 1000)
	order := testOrder("Big Batch", map[string]float64{"potato": 1000})

	outcome := b.ctrl.runCutCycle(context.Background(), order, "potato")

	if outcome != outcomeStalled {
		t.Fatalf("Expected stall once the clamped polls exhaust the limit, got %s", outcome)
	}

	recs := b.journal.records()
	if len(recs) != 1 {
		t.Fatalf("Expected 1 journal record, got %d", len(recs))
	}
	if recs[0].Clamps != 2 {
		t.Errorf("Expected 2 clamped readings, got %d", recs[0].Clamps)
	}
	if recs[0].AccumulatedG != 0 {
		t.Errorf("Expected 0g credited from clamped readings, got %v", recs[0].AccumulatedG)
	}

	t.Logf("✅ negative and jump readings clamped, 0g credited")
}

// --- Test 4: cancellation ---

// TestCutCycleCancellation validates the shutdown contract of a
// running cycle.
//
// Contract:
//   - cancelling mid-cycle exits within one poll interval
//   - the actuator ends deactivated
//   - no Done/Stalled transition is recorded
func TestCutCycleCancellation(t *testing.T) {
	cfg := testConfig(t)
	cfg.Dispense.NoChangeLimit = 100000 // flat readings must not stall first
	b := newBench(t, cfg, []scale.Reading{{Grams: 0, OK: true}})
	b.ctrl.state.addRequired("potato", 100)
	order := testOrder("Small Fries", map[string]float64{"potato": 100})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan cycleOutcome, 1)
	go func() { done <- b.ctrl.runCutCycle(ctx, order, "potato") }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	cancelled := time.Now()

	select {
	case outcome := <-done:
		if outcome != outcomeCancelled {
			t.Fatalf("Expected outcome cancelled, got %s", outcome)
		}
		if elapsed := time.Since(cancelled); elapsed > 100*time.Millisecond {
			t.Errorf("Cycle took %v to exit after cancel (expected within one poll)", elapsed)
		}
	case <-time.After(time.Second):
		t.Fatal("Cut cycle did not exit after cancellation")
	}

	if b.cutter.Active() {
		t.Error("Cutter still active after cancellation")
	}
	if moves := b.table.Moves(); len(moves) != 0 {
		t.Errorf("Table moved on a cancelled cycle: %v", moves)
	}
	recs := b.journal.records()
	if len(recs) != 1 || recs[0].Outcome != "cancelled" {
		t.Fatalf("Expected one cancelled record, got %+v", recs)
	}

	t.Logf("✅ cancelled cycle exited promptly with the cutter off")
}

// --- Test 5: actuator fault ---

// TestCutCycleActivateFailureFaults validates that a dead actuator
// aborts the cycle before any polling starts.
func TestCutCycleActivateFailureFaults(t *testing.T) {
	cfg := testConfig(t)
	b := newBench(t, cfg, []scale.Reading{{Grams: 0, OK: true}})
	b.ctrl.state.addRequired("potato", 100)
	b.cutter.FailNextActivate()
	order := testOrder("Small Fries", map[string]float64{"potato": 100})

	outcome := b.ctrl.runCutCycle(context.Background(), order, "potato")

	if outcome != outcomeFaulted {
		t.Fatalf("Expected outcome faulted, got %s", outcome)
	}
	recs := b.journal.records()
	if len(recs) != 1 || recs[0].Outcome != "faulted" {
		t.Fatalf("Expected one faulted record, got %+v", recs)
	}
	if recs[0].Samples != 0 {
		t.Errorf("Expected 0 samples on an activate fault, got %d", recs[0].Samples)
	}
	if len(b.log.all()) != 0 {
		t.Errorf("Expected no hardware events after a failed activate, got %v", b.log.all())
	}
	if got := b.ctrl.state.snapshot().CyclesFailed; got != 1 {
		t.Errorf("Expected 1 failed cycle counted, got %d", got)
	}
}

// --- Test 6: transient read misses ---

// TestCutCycleMissedReadsContinueOnLast validates the miss policy.
//
// Contract:
//   - a failed read substitutes the last known weight (delta 0),
//     never aborts the cycle and never credits anything
func TestCutCycleMissedReadsContinueOnLast(t *testing.T) {
	cfg := testConfig(t)
	b := newBench(t, cfg, []scale.Reading{
		{Grams: 0, OK: true},
		{Grams: 0, OK: false},
		{Grams: 0, OK: false},
		{Grams: 50, OK: true},
		{Grams: 100, OK: true},
	})
	b.ctrl.state.addRequired("potato", 100)
	order := testOrder("Small Fries", map[string]float64{"potato": 100})

	outcome := b.ctrl.runCutCycle(context.Background(), order, "potato")

	if outcome != outcomeDone {
		t.Fatalf("Expected done despite two missed reads, got %s", outcome)
	}
	recs := b.journal.records()
	if recs[0].Samples != 4 {
		t.Errorf("Expected 4 samples (2 misses + 2 reads), got %d", recs[0].Samples)
	}
	if recs[0].Clamps != 0 {
		t.Errorf("Misses must not count as clamps, got %d", recs[0].Clamps)
	}
	if recs[0].AccumulatedG != 100 {
		t.Errorf("Expected 100g accumulated, got %v", recs[0].AccumulatedG)
	}

	t.Logf("✅ two missed reads bridged on last known weight")
}

// --- Test 7: settle restarts on instability ---

// TestSettleRestartsOnInstability validates the settle phase's
// consecutive-stability requirement.
//
// Scenario:
//  1. Cut finishes at 105g, settle baseline reads 105
//  2. A 15g straggler lands (unstable, counter resets)
//  3. Two quiet polls follow, settle exits
//  4. Assert by exact read count: 5 cut reads + 4 settle reads
func TestSettleRestartsOnInstability(t *testing.T) {
	cfg := testConfig(t)
	b := newBench(t, cfg, []scale.Reading{
		{Grams: 0, OK: true},
		{Grams: 15, OK: true},
		{Grams: 35, OK: true},
		{Grams: 65, OK: true},
		{Grams: 105, OK: true},
		{Grams: 105, OK: true}, // settle baseline
		{Grams: 120, OK: true}, // straggler lands, counter resets
		{Grams: 121, OK: true},
		{Grams: 121, OK: true},
	})
	b.ctrl.state.addRequired("potato", 100)
	order := testOrder("Small Fries", map[string]float64{"potato": 100})

	outcome := b.ctrl.runCutCycle(context.Background(), order, "potato")

	if outcome != outcomeDone {
		t.Fatalf("Expected done, got %s", outcome)
	}
	if got := b.scale.Reads(); got != 9 {
		t.Errorf("Expected exactly 9 scale reads (settle counter reset once), got %d", got)
	}
	if b.cutter.Active() {
		t.Error("Cutter still active after settle")
	}
}
