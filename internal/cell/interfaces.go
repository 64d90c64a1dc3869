package cell

import (
	"context"
	"time"

	"github.com/cutcell/vesta/internal/types"
)

// MassSensor reads the tray weight from the load cell
type MassSensor interface {
	// Read returns averaged grams and whether the read succeeded.
	// Transient misses are not errors; the caller continues on the
	// last known reading.
	Read(samples int) (grams float64, ok bool)
	// Tare zeroes the sensor against the current tray weight
	Tare() error
	// Close releases the sensor
	Close() error
}

// Actuator switches the cutter motor
type Actuator interface {
	// Activate energizes the cutter
	Activate() error
	// Deactivate de-energizes the cutter. Idempotent.
	Deactivate() error
	// Close switches off and releases the actuator
	Close() error
}

// Indexer advances trays through the cutting area
type Indexer interface {
	// Positions returns the number of tray stations
	Positions() int
	// MoveTo rotates the table to a station, blocking until it arrives
	MoveTo(position int) error
	// Close releases the indexer
	Close() error
}

// QualityScanner inspects material in the staging area
type QualityScanner interface {
	// Scan captures a fresh frame and returns its detections.
	// An empty list is a valid result.
	Scan(ctx context.Context) ([]types.Detection, error)
	// LatestScan returns the most recent cached result, if any
	LatestScan() (types.ScanResult, bool)
	// Close stops the scanner
	Close() error
}

// OperatorConsole delivers prompts and collects acknowledgements
type OperatorConsole interface {
	// Show replaces the current operator prompt. Fire-and-forget.
	Show(text string)
	// WaitForAck blocks until an acknowledgement, the timeout, or ctx
	WaitForAck(ctx context.Context, timeout time.Duration) bool
	// Close tears down the console
	Close() error
}

// OrderSource supplies queued orders
type OrderSource interface {
	// Pending returns queued orders in arrival order
	Pending() []*types.Order
	// Ingredients resolves an order to required grams per ingredient
	Ingredients(o *types.Order) (map[string]float64, error)
	// SetStatus records an order lifecycle transition
	SetStatus(o *types.Order, status types.OrderStatus)
}

// OrderSink enqueues the line's demo order. Wired only when
// orders.demo_on_empty is set; the controller offers it whenever the
// book runs dry and the operator acknowledges the idle prompt.
type OrderSink interface {
	AddDemo() (*types.Order, error)
}

// CycleJournal persists cut-cycle audit records
type CycleJournal interface {
	Record(rec types.CycleRecord) error
}

// EventEmitter publishes cell telemetry
type EventEmitter interface {
	PublishEvent(kind string, v interface{}) error
}

// Collaborators bundles the devices and services the controller
// drives. Scale, Cutter, Table, Scanner, Console and Orders are
// required; the rest are optional and nil disables them.
type Collaborators struct {
	Scale   MassSensor
	Cutter  Actuator
	Table   Indexer
	Scanner QualityScanner
	Console OperatorConsole
	Orders  OrderSource

	Demo    OrderSink    // demo order on an idle line
	Journal CycleJournal // cycle audit trail
	Emitter EventEmitter // MQTT telemetry
}
