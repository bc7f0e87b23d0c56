// Package metering converts raw resource measurements into billable units.
// All functions are pure - no side effects.
package metering

import (
	"math"
	"time"
)

// Category identifies the kind of resource a usage event bills for.
type Category string

const (
	CategoryMeteredCall Category = "metered_api_call"
	CategoryCompute     Category = "compute_execution"
	CategoryFeature     Category = "feature_toggle"
)

// ValidCategory checks if the category is one the ledger accepts.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryMeteredCall, CategoryCompute, CategoryFeature:
		return true
	}
	return false
}

// Event is a single billable usage event (immutable value type).
// BillableUnits is always derived deterministically from the raw
// measurement; zero-cost measurements produce no event at all.
type Event struct {
	ID            string
	ActorID       string
	Category      Category
	RawCost       float64 // currency for metered calls, seconds for compute
	MarkupRate    float64
	BillableUnits int64
	Timestamp     time.Time
}

// Pricing holds the conversion constants between raw measurements and the
// ledger's minimum billable increment (value type).
type Pricing struct {
	MarkupRate          float64 // multiplier applied to raw cost, >= 1
	UnitScale           int64   // billable units per currency unit (e.g. 100 = hundredths)
	ComputePerSecond    float64 // currency per second of compute
	MinimumBillableSecs float64 // floor applied to compute durations
}

// DefaultPricing returns the built-in conversion constants.
func DefaultPricing() Pricing {
	return Pricing{
		MarkupRate:          1.2,
		UnitScale:           100,
		ComputePerSecond:    0.001,
		MinimumBillableSecs: 1,
	}
}

// Normalized fills zero fields from defaults so a partially configured
// Pricing still prices sanely.
func (p Pricing) Normalized() Pricing {
	d := DefaultPricing()
	if p.MarkupRate < 1 {
		p.MarkupRate = d.MarkupRate
	}
	if p.UnitScale <= 0 {
		p.UnitScale = d.UnitScale
	}
	if p.ComputePerSecond <= 0 {
		p.ComputePerSecond = d.ComputePerSecond
	}
	if p.MinimumBillableSecs <= 0 {
		p.MinimumBillableSecs = d.MinimumBillableSecs
	}
	return p
}

// MeteredCallUnits converts an upstream API cost in fractional currency to
// billable units: ceil(cost * markup * unitScale). Zero or negative cost
// yields zero units, meaning no event. Always ceil - undercharging is
// disallowed, overcharging by at most one unit per event is accepted.
// This is a PURE function.
func MeteredCallUnits(rawCost float64, p Pricing) int64 {
	if rawCost <= 0 {
		return 0
	}
	p = p.Normalized()
	return int64(math.Ceil(rawCost * p.MarkupRate * float64(p.UnitScale)))
}

// ComputeSeconds converts an execution duration to billable seconds,
// applying the minimum-billable floor. This is a PURE function.
func ComputeSeconds(durationMs int64, p Pricing) float64 {
	if durationMs <= 0 {
		return 0
	}
	p = p.Normalized()
	secs := float64(durationMs) / 1000
	if secs < p.MinimumBillableSecs {
		secs = p.MinimumBillableSecs
	}
	return secs
}

// ComputeUnits converts an execution duration to billable units via the
// per-second rate, then the same markup/ceil/scale path as metered calls.
// This is a PURE function.
func ComputeUnits(durationMs int64, p Pricing) int64 {
	secs := ComputeSeconds(durationMs, p)
	if secs == 0 {
		return 0
	}
	p = p.Normalized()
	return MeteredCallUnits(secs*p.ComputePerSecond, p)
}

// FeatureUnits passes a fixed-price action through unchanged - the units
// are already expressed in absolute ledger increments, no markup applies.
// This is a PURE function.
func FeatureUnits(fixedUnits int64) int64 {
	if fixedUnits <= 0 {
		return 0
	}
	return fixedUnits
}
