// Package redis provides Redis implementations of storage ports, for
// deployments that already run Redis and want usage counters off the
// relational store.
package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/usagekit/usagekit/domain/quota"
	"github.com/usagekit/usagekit/ports"
)

// keyTTLSeconds keeps superseded rows from lingering. Two reset periods is
// enough: a key older than that is semantically zero anyway.
const keyTTLSeconds = 2 * 24 * 60 * 60

// incrScript performs the conditional reset-or-increment in one atomic
// step server-side, mirroring the SQLite upsert.
var incrScript = redis.NewScript(`
local pk = redis.call('HGET', KEYS[1], 'period_key')
if pk == ARGV[1] then
	return redis.call('HINCRBY', KEYS[1], 'count', ARGV[2])
end
redis.call('HSET', KEYS[1], 'period_key', ARGV[1], 'count', ARGV[2])
redis.call('EXPIRE', KEYS[1], ARGV[3])
return tonumber(ARGV[2])
`)

// UsageStore implements ports.UsageStore on Redis.
type UsageStore struct {
	client *redis.Client
	prefix string
}

// NewUsageStore creates a Redis usage store.
func NewUsageStore(client *redis.Client) *UsageStore {
	return &UsageStore{client: client, prefix: "usage:"}
}

func (s *UsageStore) key(identityID string) string {
	return s.prefix + identityID
}

// Get retrieves the current record for an identity. A missing key is an
// implicit zero record.
func (s *UsageStore) Get(ctx context.Context, identityID string) (quota.Record, error) {
	fields, err := s.client.HGetAll(ctx, s.key(identityID)).Result()
	if err != nil {
		return quota.Record{}, fmt.Errorf("get usage: %w", err)
	}
	if len(fields) == 0 {
		return quota.Record{}, nil
	}

	var rec quota.Record
	rec.PeriodKey = fields["period_key"]
	count, err := strconv.ParseInt(fields["count"], 10, 64)
	if err != nil {
		// Corrupt counter field; treat as zero rather than fail the
		// decision path.
		return quota.Record{PeriodKey: rec.PeriodKey}, nil
	}
	rec.Count = count
	return rec, nil
}

// Increment atomically applies delta for the given period and returns the
// new record. The Lua script runs atomically on the server, so concurrent
// increments and transfers for the same identity cannot lose updates.
func (s *UsageStore) Increment(ctx context.Context, identityID, periodKey string, delta int64) (quota.Record, error) {
	count, err := incrScript.Run(ctx, s.client,
		[]string{s.key(identityID)},
		periodKey, delta, keyTTLSeconds,
	).Int64()
	if err != nil {
		return quota.Record{}, fmt.Errorf("increment usage: %w", err)
	}
	return quota.Record{Count: count, PeriodKey: periodKey}, nil
}

// Ensure interface compliance.
var _ ports.UsageStore = (*UsageStore)(nil)
