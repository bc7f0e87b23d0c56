// Package ledger provides billing-ledger implementations. The ledger is
// an injected dependency with its own lifecycle: constructed once at
// process start and passed by reference, so the swallow-all-errors policy
// around it stays easy to unit-test with a fake.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/usagekit/usagekit/domain/metering"
	"github.com/usagekit/usagekit/ports"
)

// Remote delivers usage events to an external ledger over HTTP.
//
// API Contract:
//
//	POST /v1/events
//	Request:  {"events": [{"event_id": "...", "event_name": "...",
//	           "actor_id": "...", "billable_units": 6,
//	           "timestamp": "..."}]}
//	Response: {}
//
// The event_id is stable across retries; idempotency is the receiving
// ledger's responsibility.
type Remote struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// RemoteConfig configures the remote ledger client.
type RemoteConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NewRemote creates a remote ledger client.
func NewRemote(cfg RemoteConfig) *Remote {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Remote{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
	}
}

// wireEvent is the wire format for a ledger event.
type wireEvent struct {
	EventID       string    `json:"event_id"`
	EventName     string    `json:"event_name"`
	ActorID       string    `json:"actor_id"`
	BillableUnits int64     `json:"billable_units"`
	RawCost       float64   `json:"raw_cost,omitempty"`
	MarkupRate    float64   `json:"markup_rate,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Publish sends a batch of events to the ledger.
func (r *Remote) Publish(ctx context.Context, events []metering.Event) error {
	if len(events) == 0 {
		return nil
	}

	wire := make([]wireEvent, 0, len(events))
	for _, e := range events {
		wire = append(wire, wireEvent{
			EventID:       e.ID,
			EventName:     string(e.Category),
			ActorID:       e.ActorID,
			BillableUnits: e.BillableUnits,
			RawCost:       e.RawCost,
			MarkupRate:    e.MarkupRate,
			Timestamp:     e.Timestamp,
		})
	}

	body, err := json.Marshal(map[string]any{"events": wire})
	if err != nil {
		return fmt.Errorf("marshal events: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/events", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("publish events: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("ledger rejected batch: %d: %s", resp.StatusCode, msg)
	}
	return nil
}

// Ensure interface compliance.
var _ ports.Ledger = (*Remote)(nil)
