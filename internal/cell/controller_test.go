package cell

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/cutcell/vesta/internal/console"
	"github.com/cutcell/vesta/internal/cutter"
	"github.com/cutcell/vesta/internal/scale"
	"github.com/cutcell/vesta/internal/turntable"
	"github.com/cutcell/vesta/internal/types"
	"github.com/cutcell/vesta/internal/vision"
)

// --- Test 1: full lifecycle on the software bench ---

// TestControllerLifecycle validates the whole machine loop without
// hardware: the mock cutter's switch hook drives the sim scale's
// material flow, and the auto console acks every prompt.
//
// Contract:
//   - a queued order is picked up, cut, and marked completed
//   - Shutdown stops the run loop and leaves no goroutines
//   - the cutter ends deactivated and the table advanced one station
func TestControllerLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig(t)
	// Ramp 15g per read; threshold 20 keeps the settle phase stable
	// while the sim is still flowing
	cfg.Dispense.StableThresholdG = 20
	cfg.Scale.SimRampG = 15

	sim := scale.NewSim(cfg.Scale.SimRampG)
	cut := cutter.NewMock()
	cut.OnSwitch = sim.SetFlowing
	table := turntable.NewMock(cfg.Turntable.Positions)
	scanner := vision.NewMockScanner()
	cons := console.NewAuto(time.Millisecond)
	book := &fakeBook{}
	journal := &recordingJournal{}

	order := book.add("Bench Order", map[string]float64{"potato": 30})

	ctrl, err := New(cfg, Collaborators{
		Scale:   sim,
		Cutter:  cut,
		Table:   table,
		Scanner: scanner,
		Console: cons,
		Orders:  book,
		Journal: journal,
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	errChan := make(chan error, 1)
	go func() { errChan <- ctrl.Run(context.Background()) }()

	waitFor(t, 5*time.Second, func() bool {
		return book.status(order) == types.OrderCompleted
	}, "order completion")

	if health := ctrl.HealthCheck(); health.Status != "healthy" {
		t.Errorf("Expected healthy while running, got %s", health.Status)
	}
	status := ctrl.GetStatus()
	if status["instance_id"] != "cell-test" || status["running"] != true {
		t.Errorf("GetStatus() incomplete: %v", status)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ctrl.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() failed: %v", err)
	}

	select {
	case err := <-errChan:
		if err != nil {
			t.Fatalf("Run() returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after shutdown")
	}

	if cut.Active() {
		t.Error("Cutter still active after shutdown")
	}
	if moves := table.Moves(); len(moves) != 1 || moves[0] != 1 {
		t.Errorf("Expected one move to station 1, got %v", moves)
	}
	recs := journal.records()
	if len(recs) != 1 || recs[0].Outcome != "done" {
		t.Fatalf("Expected one done cycle, got %+v", recs)
	}
	if health := ctrl.HealthCheck(); health.Status != "unhealthy" {
		t.Errorf("Expected unhealthy after shutdown, got %s", health.Status)
	}

	t.Logf("✅ bench order cut end to end: %.1fg in %d samples", recs[0].AccumulatedG, recs[0].Samples)
}

// --- Test 2: Stop releases a pending ack wait ---

// TestControllerStopReleasesAckWait validates the cancellable-wait
// contract: a controller parked on an operator prompt lets go as soon
// as the run context is cancelled, long before the ack timeout.
func TestControllerStopReleasesAckWait(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig(t)
	b := newBench(t, cfg, []scale.Reading{{Grams: 0, OK: true}})
	b.book.add("Stuck Order", map[string]float64{"potato": 100})
	// No acks queued: the run loop parks on the placement prompt

	errChan := make(chan error, 1)
	go func() { errChan <- b.ctrl.Run(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	b.ctrl.Stop()

	select {
	case err := <-errChan:
		if err != nil {
			t.Fatalf("Run() returned error: %v", err)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Run() still blocked on the ack wait after Stop()")
	}

	if got := b.cutter.Activations(); got != 0 {
		t.Errorf("Cutter ran despite the pending placement prompt: %d activations", got)
	}

	t.Logf("✅ Stop() released the ack wait immediately")
}

// --- Test 3: demo order on an idle line ---

// TestControllerDemoOrderOnAck validates the bench bring-up flow.
//
// Scenario:
//  1. Empty book, demo sink wired, three acks pre-queued
//  2. First ack lands in the idle window and enqueues the demo order
//  3. The remaining acks walk it through place and collect
//  4. No further acks: exactly one demo order exists afterwards
func TestControllerDemoOrderOnAck(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig(t)
	cfg.Dispense.StableThresholdG = 20
	cfg.Scale.SimRampG = 15

	sim := scale.NewSim(cfg.Scale.SimRampG)
	cut := cutter.NewMock()
	cut.OnSwitch = sim.SetFlowing
	table := turntable.NewMock(cfg.Turntable.Positions)
	scanner := vision.NewMockScanner()
	cons := console.NewMock()
	book := &fakeBook{}

	ctrl, err := New(cfg, Collaborators{
		Scale:   sim,
		Cutter:  cut,
		Table:   table,
		Scanner: scanner,
		Console: cons,
		Orders:  book,
		Demo:    book,
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	cons.Ack() // idle window: enqueue demo
	cons.Ack() // place
	cons.Ack() // collect

	errChan := make(chan error, 1)
	go func() { errChan <- ctrl.Run(context.Background()) }()

	waitFor(t, 5*time.Second, func() bool {
		return book.len() == 1 && book.completed() == 1
	}, "demo order completion")

	ctrl.Stop()
	select {
	case <-errChan:
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after Stop()")
	}

	if book.len() != 1 {
		t.Errorf("Expected exactly one demo order, got %d", book.len())
	}

	t.Logf("✅ idle ack enqueued and completed the demo order")
}

// --- Test 4: teardown independence ---

// failCloseScanner fails its Close to prove teardown keeps going
type failCloseScanner struct {
	QualityScanner
	log *eventLog
}

func (f *failCloseScanner) Close() error {
	f.log.add("scanner closed")
	return errors.New("scanner close failed")
}

type closeTrackingScale struct {
	MassSensor
	log *eventLog
}

func (s *closeTrackingScale) Close() error {
	s.log.add("scale closed")
	return s.MassSensor.Close()
}

type closeTrackingTable struct {
	Indexer
	log *eventLog
}

func (t *closeTrackingTable) Close() error {
	t.log.add("table closed")
	return t.Indexer.Close()
}

type closeTrackingConsole struct {
	OperatorConsole
	log *eventLog
}

func (c *closeTrackingConsole) Close() error {
	c.log.add("console closed")
	return c.OperatorConsole.Close()
}

type closeTrackingCutter struct {
	Actuator
	log *eventLog
}

func (c *closeTrackingCutter) Close() error {
	c.log.add("cutter closed")
	return c.Actuator.Close()
}

// TestControllerShutdownClosesEverythingDespiteFailures validates that
// one collaborator failing to close never blocks the rest.
func TestControllerShutdownClosesEverythingDespiteFailures(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig(t)
	log := &eventLog{}

	ctrl, err := New(cfg, Collaborators{
		Scale:   &closeTrackingScale{MassSensor: scale.NewSimScript([]scale.Reading{{Grams: 0, OK: true}}), log: log},
		Cutter:  &closeTrackingCutter{Actuator: cutter.NewMock(), log: log},
		Table:   &closeTrackingTable{Indexer: turntable.NewMock(6), log: log},
		Scanner: &failCloseScanner{QualityScanner: vision.NewMockScanner(), log: log},
		Console: &closeTrackingConsole{OperatorConsole: console.NewMock(), log: log},
		Orders:  &fakeBook{},
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	errChan := make(chan error, 1)
	go func() { errChan <- ctrl.Run(context.Background()) }()
	time.Sleep(20 * time.Millisecond) // idle on the empty book

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ctrl.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() must tolerate close failures, got: %v", err)
	}
	<-errChan

	closed := log.all()
	want := []string{"scanner closed", "cutter closed", "scale closed", "table closed", "console closed"}
	for _, name := range want {
		found := false
		for _, ev := range closed {
			if ev == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Missing close call: %s (got %v)", name, closed)
		}
	}

	t.Logf("✅ all five collaborators closed despite the scanner failure")
}

// --- Test 5: construction guards ---

// TestNewRequiresCollaborators validates that a missing required
// collaborator fails construction, the only fatal path.
func TestNewRequiresCollaborators(t *testing.T) {
	cfg := testConfig(t)

	full := func() Collaborators {
		return Collaborators{
			Scale:   scale.NewSimScript([]scale.Reading{{Grams: 0, OK: true}}),
			Cutter:  cutter.NewMock(),
			Table:   turntable.NewMock(6),
			Scanner: vision.NewMockScanner(),
			Console: console.NewMock(),
			Orders:  &fakeBook{},
		}
	}

	if _, err := New(nil, full()); err == nil {
		t.Error("New(nil config) succeeded, want error")
	}
	if _, err := New(cfg, full()); err != nil {
		t.Errorf("New() with all collaborators failed: %v", err)
	}

	cases := []struct {
		name  string
		strip func(*Collaborators)
	}{
		{"scale", func(c *Collaborators) { c.Scale = nil }},
		{"cutter", func(c *Collaborators) { c.Cutter = nil }},
		{"table", func(c *Collaborators) { c.Table = nil }},
		{"scanner", func(c *Collaborators) { c.Scanner = nil }},
		{"console", func(c *Collaborators) { c.Console = nil }},
		{"orders", func(c *Collaborators) { c.Orders = nil }},
	}
	for _, tc := range cases {
		col := full()
		tc.strip(&col)
		if _, err := New(cfg, col); err == nil {
			t.Errorf("New() without %s succeeded, want error", tc.name)
		}
	}
}

// --- Test 6: double Run ---

// TestControllerRunTwice validates that a second Run call fails fast
// instead of racing the first.
func TestControllerRunTwice(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig(t)
	b := newBench(t, cfg, []scale.Reading{{Grams: 0, OK: true}})

	errChan := make(chan error, 1)
	go func() { errChan <- b.ctrl.Run(context.Background()) }()
	time.Sleep(20 * time.Millisecond)

	if err := b.ctrl.Run(context.Background()); err == nil {
		t.Error("Second Run() succeeded, want already-running error")
	}

	b.ctrl.Stop()
	select {
	case <-errChan:
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after Stop()")
	}
}
