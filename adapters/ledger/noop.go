package ledger

import (
	"context"
	"sync"

	"github.com/usagekit/usagekit/domain/metering"
	"github.com/usagekit/usagekit/ports"
)

// Noop discards all events. Used when metering is disabled and in
// non-production evaluation modes.
type Noop struct{}

// Publish discards the batch.
func (Noop) Publish(ctx context.Context, events []metering.Event) error {
	return nil
}

// Capture retains published events in memory for assertions in tests.
type Capture struct {
	mu     sync.Mutex
	events []metering.Event

	// Fail forces Publish to error, for swallow-policy tests.
	Fail error
}

// NewCapture creates an empty capture ledger.
func NewCapture() *Capture {
	return &Capture{}
}

// Publish appends the batch.
func (c *Capture) Publish(ctx context.Context, events []metering.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Fail != nil {
		return c.Fail
	}
	c.events = append(c.events, events...)
	return nil
}

// Events returns a copy of everything published so far.
func (c *Capture) Events() []metering.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]metering.Event, len(c.events))
	copy(out, c.events)
	return out
}

// Ensure interface compliance.
var (
	_ ports.Ledger = Noop{}
	_ ports.Ledger = (*Capture)(nil)
)
