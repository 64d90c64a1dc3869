package types

import "time"

// OrderStatus is the lifecycle state of an order
type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderInProgress OrderStatus = "in-progress"
	OrderCompleted  OrderStatus = "completed"
)

// Order represents a queued customer order
type Order struct {
	// ID is a unique identifier assigned when the order enters the book
	ID string `json:"id"`
	// Name is the operator-facing order name (e.g., "Small Fries")
	Name string `json:"name"`
	// Ingredients maps ingredient name to required grams
	Ingredients map[string]float64 `json:"ingredients"`
	// Status is mutated only by the order sequencer
	Status OrderStatus `json:"status"`
	// CreatedAt is when the order entered the book
	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a deep copy safe to hand outside the book's lock
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Ingredients = make(map[string]float64, len(o.Ingredients))
	for k, v := range o.Ingredients {
		c.Ingredients[k] = v
	}
	return &c
}
