package turntable

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Mock is a software turntable for bench runs and tests
type Mock struct {
	mu        sync.Mutex
	positions int
	pos       int
	moves     []int
	moveDelay time.Duration
}

// NewMock creates a mock table with the given number of stations
func NewMock(positions int) *Mock {
	slog.Info("turntable initialized", "driver", "mock", "positions", positions)
	return &Mock{positions: positions}
}

// SetMoveDelay makes every move block for d, emulating travel time
func (m *Mock) SetMoveDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.moveDelay = d
}

// Positions returns the number of tray stations
func (m *Mock) Positions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.positions
}

// Position returns the station the table is parked at
func (m *Mock) Position() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos
}

// MoveTo records the move and blocks for the configured delay
func (m *Mock) MoveTo(position int) error {
	m.mu.Lock()
	if position < 0 || position >= m.positions {
		m.mu.Unlock()
		return fmt.Errorf("turntable: position %d out of range [0, %d)", position, m.positions)
	}
	m.pos = position
	m.moves = append(m.moves, position)
	delay := m.moveDelay
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return nil
}

// Moves returns every commanded station in order
func (m *Mock) Moves() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int, len(m.moves))
	copy(out, m.moves)
	return out
}

// Close releases the mock
func (m *Mock) Close() error {
	return nil
}
