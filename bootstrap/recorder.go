package bootstrap

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/usagekit/usagekit/adapters/metrics"
	"github.com/usagekit/usagekit/domain/metering"
	"github.com/usagekit/usagekit/ports"
)

// BatchRecorder buffers billable events and publishes them to the ledger
// in batches. Delivery is best-effort: a failed publish is logged,
// counted, and dropped - never surfaced to the request path and never
// retried synchronously. Idempotency of redelivered events is the
// external ledger's concern; events carry stable IDs for it.
type BatchRecorder struct {
	ledger        ports.Ledger
	logger        zerolog.Logger
	collector     *metrics.Collector
	buffer        []metering.Event
	mu            sync.Mutex
	batchSize     int
	flushInterval time.Duration
	stopCh        chan struct{}
	wg            sync.WaitGroup
	closeOnce     sync.Once
}

// NewBatchRecorder creates a new batch recorder and starts its flush
// loop. Collector may be nil.
func NewBatchRecorder(ledger ports.Ledger, logger zerolog.Logger, collector *metrics.Collector, batchSize int, flushInterval time.Duration) *BatchRecorder {
	if batchSize == 0 {
		batchSize = 100
	}
	if flushInterval == 0 {
		flushInterval = 10 * time.Second
	}

	r := &BatchRecorder{
		ledger:        ledger,
		logger:        logger,
		collector:     collector,
		buffer:        make([]metering.Event, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		stopCh:        make(chan struct{}),
	}

	r.wg.Add(1)
	go r.flushLoop()

	return r
}

// Record queues an event for delivery. Non-blocking.
func (r *BatchRecorder) Record(e metering.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.collector != nil {
		r.collector.MeterEventsTotal.WithLabelValues(string(e.Category)).Inc()
		r.collector.MeterUnitsTotal.WithLabelValues(string(e.Category)).Add(float64(e.BillableUnits))
	}

	r.buffer = append(r.buffer, e)

	if len(r.buffer) >= r.batchSize {
		r.flushLocked()
	}
}

// Flush forces immediate delivery of queued events.
func (r *BatchRecorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushLocked()
	return nil
}

// flushLocked hands the current buffer to a background publish so the
// caller is never blocked on ledger I/O.
func (r *BatchRecorder) flushLocked() {
	if len(r.buffer) == 0 {
		return
	}

	events := make([]metering.Event, len(r.buffer))
	copy(events, r.buffer)
	r.buffer = r.buffer[:0]

	go r.publish(events)
}

func (r *BatchRecorder) publish(events []metering.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	err := r.ledger.Publish(ctx, events)
	if r.collector != nil {
		r.collector.FlushDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		// Billing-event loss under a ledger outage is an accepted
		// business risk.
		if r.collector != nil {
			r.collector.LedgerErrors.Inc()
		}
		r.logger.Error().Err(err).Int("events", len(events)).
			Msg("ledger publish failed, batch dropped")
	}
}

func (r *BatchRecorder) flushLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Flush(context.Background())
		case <-r.stopCh:
			return
		}
	}
}

// Close stops the recorder and drains remaining events.
func (r *BatchRecorder) Close() error {
	r.closeOnce.Do(func() {
		close(r.stopCh)
		r.wg.Wait()

		r.mu.Lock()
		events := make([]metering.Event, len(r.buffer))
		copy(events, r.buffer)
		r.buffer = r.buffer[:0]
		r.mu.Unlock()

		if len(events) > 0 {
			// Synchronous final drain; shutdown may abandon it on
			// timeout without correctness impact.
			r.publishSync(events)
		}
	})
	return nil
}

func (r *BatchRecorder) publishSync(events []metering.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.ledger.Publish(ctx, events); err != nil {
		r.logger.Error().Err(err).Int("events", len(events)).
			Msg("final ledger drain failed, events lost")
	}
}

// Ensure interface compliance.
var _ ports.MeterRecorder = (*BatchRecorder)(nil)
