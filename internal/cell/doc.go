// Package cell is the process controller of the cut cell: it drains
// the order book, sequences ingredients, and drives each cut cycle
// against the physical devices through narrow collaborator interfaces.
//
// One controller goroutine owns the entire order → ingredient →
// cut-cycle sequence and is the only writer of the progress map.
// Display refresh and telemetry observe snapshots, never the map.
// Cancellation is cooperative: every blocking loop checks the run
// context, and hardware calls are never interrupted mid-flight.
package cell
