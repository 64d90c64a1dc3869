package cutter

import (
	"log/slog"
	"sync"
)

// Mock is a software cutter for bench runs and tests.
//
// OnSwitch, when set, is called with every state change; the bench
// wiring uses it to start and stop the simulated scale's material flow.
type Mock struct {
	OnSwitch func(on bool)

	mu            sync.Mutex
	active        bool
	activations   int
	deactivations int
	failNext      bool
}

// NewMock creates a mock cutter
func NewMock() *Mock {
	slog.Info("cutter initialized", "driver", "mock")
	return &Mock{}
}

// Activate switches the mock on
func (m *Mock) Activate() error {
	m.mu.Lock()
	if m.failNext {
		m.failNext = false
		m.mu.Unlock()
		return ErrNotConnected
	}
	m.active = true
	m.activations++
	hook := m.OnSwitch
	m.mu.Unlock()

	if hook != nil {
		hook(true)
	}
	return nil
}

// Deactivate switches the mock off. Safe to repeat.
func (m *Mock) Deactivate() error {
	m.mu.Lock()
	m.active = false
	m.deactivations++
	hook := m.OnSwitch
	m.mu.Unlock()

	if hook != nil {
		hook(false)
	}
	return nil
}

// Close switches the mock off
func (m *Mock) Close() error {
	return m.Deactivate()
}

// Active reports the current state
func (m *Mock) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Activations reports how many times the mock was switched on
func (m *Mock) Activations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activations
}

// Deactivations reports how many times the mock was switched off
func (m *Mock) Deactivations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deactivations
}

// FailNextActivate makes the next Activate return ErrNotConnected
func (m *Mock) FailNextActivate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = true
}
