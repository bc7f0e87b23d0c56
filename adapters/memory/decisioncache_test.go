package memory

import (
	"testing"
	"time"

	"github.com/usagekit/usagekit/adapters/clock"
	"github.com/usagekit/usagekit/domain/quota"
)

func TestDecisionCache(t *testing.T) {
	now := time.Date(2025, 6, 15, 14, 30, 0, 0, time.UTC)
	clk := clock.NewFake(now)
	c := NewDecisionCache(10*time.Second, clk)

	d := quota.Decision{Allowed: true, Used: 2, ResetAt: quota.NextReset(now)}
	c.Set("id:user_1", d)

	got, ok := c.Get("id:user_1")
	if !ok || got.Used != 2 {
		t.Fatalf("Get = %+v, %v", got, ok)
	}

	if _, ok := c.Get("id:unknown"); ok {
		t.Error("unknown key should miss")
	}

	// TTL expiry
	clk.Advance(11 * time.Second)
	if _, ok := c.Get("id:user_1"); ok {
		t.Error("entry should expire after TTL")
	}
}

func TestDecisionCacheExpiresAtReset(t *testing.T) {
	now := time.Date(2025, 6, 15, 23, 59, 59, 0, time.UTC)
	clk := clock.NewFake(now)
	c := NewDecisionCache(time.Hour, clk)

	// Entry stored just before midnight must not survive the reset
	// boundary even inside its TTL.
	c.Set("id:user_1", quota.Decision{Used: 3, ResetAt: quota.NextReset(now)})

	clk.Advance(2 * time.Second)
	if _, ok := c.Get("id:user_1"); ok {
		t.Error("entry should not outlive the quota reset")
	}
}

func TestDecisionCacheInvalidate(t *testing.T) {
	now := time.Date(2025, 6, 15, 14, 30, 0, 0, time.UTC)
	clk := clock.NewFake(now)
	c := NewDecisionCache(time.Minute, clk)

	c.Set("id:user_1", quota.Decision{Used: 1, ResetAt: quota.NextReset(now)})
	c.Invalidate("id:user_1")
	if _, ok := c.Get("id:user_1"); ok {
		t.Error("invalidated entry should miss")
	}
}

func TestUsageStoreIncrementResetsOnNewPeriod(t *testing.T) {
	s := NewUsageStore()

	rec, err := s.Increment(t.Context(), "user_1", "2025-06-15", 2)
	if err != nil || rec.Count != 2 {
		t.Fatalf("rec = %+v err = %v", rec, err)
	}

	// Same period accumulates.
	rec, _ = s.Increment(t.Context(), "user_1", "2025-06-15", 3)
	if rec.Count != 5 {
		t.Errorf("count = %d, want 5", rec.Count)
	}

	// New period restarts at the delta.
	rec, _ = s.Increment(t.Context(), "user_1", "2025-06-16", 1)
	if rec.Count != 1 || rec.PeriodKey != "2025-06-16" {
		t.Errorf("rec = %+v, want count 1 in new period", rec)
	}
}
