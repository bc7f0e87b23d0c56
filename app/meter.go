package app

import (
	"github.com/rs/zerolog"
	"github.com/usagekit/usagekit/domain/identity"
	"github.com/usagekit/usagekit/domain/metering"
	"github.com/usagekit/usagekit/ports"
)

// MeterMode gates whether events leave the process.
type MeterMode string

const (
	// MeterLive emits events to the configured ledger.
	MeterLive MeterMode = "live"
	// MeterShadow computes and logs events but emits nothing. Used in
	// every non-production evaluation mode.
	MeterShadow MeterMode = "shadow"
)

// MeterService converts completed billable actions into ledger events.
// Every Emit* method is fire-and-forget with respect to the caller's
// primary action: it hands a value to the recorder and returns; a
// metering failure is logged downstream and swallowed, never propagated
// and never retried synchronously.
type MeterService struct {
	recorder ports.MeterRecorder
	idGen    ports.IDGenerator
	clock    ports.Clock
	logger   zerolog.Logger
	pricing  metering.Pricing
	mode     MeterMode
}

// NewMeterService creates a new metering service.
func NewMeterService(recorder ports.MeterRecorder, idGen ports.IDGenerator, clock ports.Clock, logger zerolog.Logger, pricing metering.Pricing, mode MeterMode) *MeterService {
	if mode == "" {
		mode = MeterShadow
	}
	pricing = pricing.Normalized()
	return &MeterService{
		recorder: recorder,
		idGen:    idGen,
		clock:    clock,
		logger:   logger,
		pricing:  pricing,
		mode:     mode,
	}
}

// EmitMeteredCall bills an upstream API call by its raw cost in
// fractional currency. Zero-cost calls emit nothing.
func (s *MeterService) EmitMeteredCall(actorID string, tier identity.Tier, rawCost float64) {
	units := metering.MeteredCallUnits(rawCost, s.pricing)
	s.emit(actorID, tier, metering.CategoryMeteredCall, rawCost, units)
}

// EmitComputeExecution bills an execution by duration, with the
// minimum-billable floor applied.
func (s *MeterService) EmitComputeExecution(actorID string, tier identity.Tier, durationMs int64) {
	units := metering.ComputeUnits(durationMs, s.pricing)
	s.emit(actorID, tier, metering.CategoryCompute, metering.ComputeSeconds(durationMs, s.pricing), units)
}

// EmitFeatureToggle bills a fixed-price action already expressed in
// ledger units. No markup applies.
func (s *MeterService) EmitFeatureToggle(actorID string, tier identity.Tier, fixedUnits int64) {
	units := metering.FeatureUnits(fixedUnits)
	s.emit(actorID, tier, metering.CategoryFeature, float64(fixedUnits), units)
}

// markupFor reports the markup recorded on an event. Feature toggles are
// already priced in absolute ledger units, so no markup applies to them.
func (s *MeterService) markupFor(category metering.Category) float64 {
	if category == metering.CategoryFeature {
		return 1
	}
	return s.pricing.MarkupRate
}

func (s *MeterService) emit(actorID string, tier identity.Tier, category metering.Category, rawCost float64, units int64) {
	// Zero-cost measurements produce no event at all, not a zero-value
	// event.
	if units <= 0 {
		return
	}
	if !identity.Billable(tier) {
		return
	}

	event := metering.Event{
		ID:            s.idGen.New(),
		ActorID:       actorID,
		Category:      category,
		RawCost:       rawCost,
		MarkupRate:    s.markupFor(category),
		BillableUnits: units,
		Timestamp:     s.clock.Now().UTC(),
	}

	if s.mode != MeterLive {
		s.logger.Debug().Str("actor", actorID).Str("category", string(category)).
			Int64("units", units).Msg("metering in shadow mode, event not emitted")
		return
	}

	s.recorder.Record(event)
}
