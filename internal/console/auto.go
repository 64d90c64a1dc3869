package console

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Auto is the headless console. Prompts go to the log and are
// acknowledged after a fixed delay, so unattended benches keep moving
// through steps that normally wait for an operator.
type Auto struct {
	delay time.Duration

	mu      sync.Mutex
	prompts []string
	closed  bool
	done    chan struct{}
}

// NewAuto builds an auto-acknowledging console. A delay of zero or
// less falls back to 500ms.
func NewAuto(delay time.Duration) *Auto {
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	return &Auto{delay: delay, done: make(chan struct{})}
}

// Done is closed by Close
func (a *Auto) Done() <-chan struct{} {
	return a.done
}

// Show records the prompt and logs it
func (a *Auto) Show(msg string) {
	a.mu.Lock()
	a.prompts = append(a.prompts, msg)
	a.mu.Unlock()
	slog.Info("operator prompt", "text", msg, "console", "auto")
}

// WaitForAck confirms after the configured delay
func (a *Auto) WaitForAck(ctx context.Context, timeout time.Duration) bool {
	ackTimer := time.NewTimer(a.delay)
	defer ackTimer.Stop()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-a.done:
		return false
	case <-deadline.C:
		return false
	case <-ackTimer.C:
		return true
	}
}

// Prompts returns everything shown so far
func (a *Auto) Prompts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.prompts))
	copy(out, a.prompts)
	return out
}

// Close stops the console
func (a *Auto) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.closed {
		a.closed = true
		close(a.done)
	}
	return nil
}
