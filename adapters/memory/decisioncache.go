package memory

import (
	"sync"
	"time"

	"github.com/usagekit/usagekit/domain/quota"
	"github.com/usagekit/usagekit/ports"
)

// DecisionCache is a TTL cache of read-path quota decisions. Entries are
// advisory: the web layer serves them for repeated GETs and drops them on
// increment, transfer, and sign-out.
type DecisionCache struct {
	mu      sync.RWMutex
	entries map[string]cachedDecision
	ttl     time.Duration
	clock   ports.Clock
}

type cachedDecision struct {
	decision quota.Decision
	storedAt time.Time
}

// NewDecisionCache creates a decision cache with the given entry TTL.
func NewDecisionCache(ttl time.Duration, clock ports.Clock) *DecisionCache {
	return &DecisionCache{
		entries: make(map[string]cachedDecision),
		ttl:     ttl,
		clock:   clock,
	}
}

// Get returns a cached decision if present, unexpired, and still inside
// the decision's own reset period.
func (c *DecisionCache) Get(key string) (quota.Decision, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return quota.Decision{}, false
	}

	now := c.clock.Now()
	if now.Sub(e.storedAt) > c.ttl || !now.Before(e.decision.ResetAt) {
		c.Invalidate(key)
		return quota.Decision{}, false
	}
	return e.decision, true
}

// Set stores a decision for a caller key.
func (c *DecisionCache) Set(key string, d quota.Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cachedDecision{decision: d, storedAt: c.clock.Now()}
}

// Invalidate drops the entry for a caller key.
func (c *DecisionCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Ensure interface compliance.
var _ ports.DecisionCache = (*DecisionCache)(nil)
