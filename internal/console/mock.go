package console

import (
	"context"
	"sync"
	"time"
)

// Mock is a scripted console for tests. Acks can be queued ahead of
// prompts; unlike the TUI, WaitForAck never discards them.
type Mock struct {
	mu      sync.Mutex
	prompts []string
	acks    chan struct{}
	closed  bool
	done    chan struct{}
}

// NewMock builds a console with room for 16 queued acks
func NewMock() *Mock {
	return &Mock{
		acks: make(chan struct{}, 16),
		done: make(chan struct{}),
	}
}

// Ack queues one acknowledgement
func (m *Mock) Ack() {
	m.acks <- struct{}{}
}

// Show records the prompt
func (m *Mock) Show(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, msg)
}

// WaitForAck consumes the next queued acknowledgement
func (m *Mock) WaitForAck(ctx context.Context, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-m.done:
		return false
	case <-timer.C:
		return false
	case <-m.acks:
		return true
	}
}

// Prompts returns everything shown so far
func (m *Mock) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.prompts))
	copy(out, m.prompts)
	return out
}

// Close stops the console
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}
