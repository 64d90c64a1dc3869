package cell

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/cutcell/vesta/internal/config"
	"github.com/cutcell/vesta/internal/console"
	"github.com/cutcell/vesta/internal/cutter"
	"github.com/cutcell/vesta/internal/scale"
	"github.com/cutcell/vesta/internal/turntable"
	"github.com/cutcell/vesta/internal/types"
	"github.com/cutcell/vesta/internal/vision"
)

// testConfig builds a validated config with millisecond loops so
// scenarios finish fast
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		InstanceID: "cell-test",
		LineID:     "line-a",
		MQTT:       config.MQTTConfig{Broker: "127.0.0.1:1883"},
	}
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}
	cfg.Dispense.PollIntervalMs = 1
	cfg.Dispense.SettleChecks = 2
	cfg.Console.AckTimeoutS = 1
	cfg.Orders.PollMs = 5
	return cfg
}

// eventLog records hardware actions in order, so tests can assert
// sequencing across devices (cutter off before the table moves).
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(ev string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.events))
	copy(out, l.events)
	return out
}

// loggingTable lands turntable moves in the shared event log
type loggingTable struct {
	*turntable.Mock
	log *eventLog
}

func (t *loggingTable) MoveTo(position int) error {
	t.log.add(fmt.Sprintf("move %d", position))
	return t.Mock.MoveTo(position)
}

// fakeBook is an in-memory OrderSource for controller tests
type fakeBook struct {
	mu       sync.Mutex
	orders   []*types.Order
	fetchErr error
}

func (b *fakeBook) add(name string, ingredients map[string]float64) *types.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	o := &types.Order{
		ID:          uuid.NewString(),
		Name:        name,
		Ingredients: ingredients,
		Status:      types.OrderPending,
		CreatedAt:   time.Now(),
	}
	b.orders = append(b.orders, o)
	return o
}

func (b *fakeBook) Pending() []*types.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*types.Order
	for _, o := range b.orders {
		if o.Status == types.OrderPending {
			out = append(out, o)
		}
	}
	return out
}

func (b *fakeBook) Ingredients(o *types.Order) (map[string]float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fetchErr != nil {
		return nil, b.fetchErr
	}
	out := make(map[string]float64, len(o.Ingredients))
	for k, v := range o.Ingredients {
		out[k] = v
	}
	return out, nil
}

func (b *fakeBook) SetStatus(o *types.Order, status types.OrderStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o.Status = status
}

func (b *fakeBook) AddDemo() (*types.Order, error) {
	return b.add("Demo Batch", map[string]float64{"potato": 30}), nil
}

func (b *fakeBook) status(o *types.Order) types.OrderStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return o.Status
}

func (b *fakeBook) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.orders)
}

func (b *fakeBook) completed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, o := range b.orders {
		if o.Status == types.OrderCompleted {
			n++
		}
	}
	return n
}

// recordingJournal captures cycle records in memory
type recordingJournal struct {
	mu   sync.Mutex
	recs []types.CycleRecord
}

func (j *recordingJournal) Record(rec types.CycleRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.recs = append(j.recs, rec)
	return nil
}

func (j *recordingJournal) records() []types.CycleRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]types.CycleRecord, len(j.recs))
	copy(out, j.recs)
	return out
}

// recordingEmitter captures telemetry kinds in publish order
type recordingEmitter struct {
	mu    sync.Mutex
	kinds []string
}

func (e *recordingEmitter) PublishEvent(kind string, v interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.kinds = append(e.kinds, kind)
	return nil
}

func (e *recordingEmitter) kindCount(kind string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, k := range e.kinds {
		if k == kind {
			n++
		}
	}
	return n
}

// bench bundles a controller with the mocks behind it. The scale
// replays the given script; everything else is a plain mock.
type bench struct {
	ctrl    *Controller
	cfg     *config.Config
	scale   *scale.Sim
	cutter  *cutter.Mock
	table   *loggingTable
	scanner *vision.MockScanner
	console *console.Mock
	book    *fakeBook
	journal *recordingJournal
	emitter *recordingEmitter
	log     *eventLog
}

func newBench(t *testing.T, cfg *config.Config, readings []scale.Reading) *bench {
	t.Helper()

	log := &eventLog{}
	sim := scale.NewSimScript(readings)
	cut := cutter.NewMock()
	cut.OnSwitch = func(on bool) {
		if on {
			log.add("cutter on")
		} else {
			log.add("cutter off")
		}
	}
	table := &loggingTable{Mock: turntable.NewMock(cfg.Turntable.Positions), log: log}
	scanner := vision.NewMockScanner()
	cons := console.NewMock()
	book := &fakeBook{}
	journal := &recordingJournal{}
	emitter := &recordingEmitter{}

	ctrl, err := New(cfg, Collaborators{
		Scale:   sim,
		Cutter:  cut,
		Table:   table,
		Scanner: scanner,
		Console: cons,
		Orders:  book,
		Journal: journal,
		Emitter: emitter,
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	return &bench{
		ctrl:    ctrl,
		cfg:     cfg,
		scale:   sim,
		cutter:  cut,
		table:   table,
		scanner: scanner,
		console: cons,
		book:    book,
		journal: journal,
		emitter: emitter,
		log:     log,
	}
}

// testOrder builds an order without touching the book
func testOrder(name string, ingredients map[string]float64) *types.Order {
	return &types.Order{
		ID:          uuid.NewString(),
		Name:        name,
		Ingredients: ingredients,
		Status:      types.OrderPending,
		CreatedAt:   time.Now(),
	}
}

// waitFor polls cond until it holds or the deadline passes
func waitFor(t *testing.T, d time.Duration, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out after %v waiting for %s", d, what)
}
