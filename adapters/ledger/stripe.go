package ledger

import (
	"context"
	"fmt"
	"strconv"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/billing/meterevent"
	"github.com/usagekit/usagekit/domain/metering"
	"github.com/usagekit/usagekit/ports"
)

// Stripe delivers usage events as Stripe billing meter events. Each quota
// event category maps to a configured meter event name; the event ID is
// passed as the Stripe identifier so Stripe deduplicates retries.
type Stripe struct {
	meterNames map[metering.Category]string
}

// StripeConfig configures the Stripe ledger.
type StripeConfig struct {
	APIKey string
	// MeterNames maps event categories to Stripe meter event names.
	// Missing categories fall back to the category string itself.
	MeterNames map[string]string
}

// NewStripe creates a Stripe ledger client. The API key is process-wide
// in stripe-go, set once here.
func NewStripe(cfg StripeConfig) *Stripe {
	stripe.Key = cfg.APIKey

	names := make(map[metering.Category]string, len(cfg.MeterNames))
	for category, name := range cfg.MeterNames {
		names[metering.Category(category)] = name
	}
	return &Stripe{meterNames: names}
}

func (s *Stripe) eventName(c metering.Category) string {
	if name, ok := s.meterNames[c]; ok {
		return name
	}
	return string(c)
}

// Publish sends each event as a meter event. Stripe's API is per-event;
// the first failure fails the batch and the recorder drops it, per the
// swallow-ledger-errors policy.
func (s *Stripe) Publish(ctx context.Context, events []metering.Event) error {
	for _, e := range events {
		params := &stripe.BillingMeterEventParams{
			EventName:  stripe.String(s.eventName(e.Category)),
			Identifier: stripe.String(e.ID),
			Timestamp:  stripe.Int64(e.Timestamp.Unix()),
			Payload: map[string]string{
				"stripe_customer_id": e.ActorID,
				"value":              strconv.FormatInt(e.BillableUnits, 10),
			},
		}
		params.Context = ctx
		if _, err := meterevent.New(params); err != nil {
			return fmt.Errorf("stripe meter event %s: %w", e.ID, err)
		}
	}
	return nil
}

// Ensure interface compliance.
var _ ports.Ledger = (*Stripe)(nil)
