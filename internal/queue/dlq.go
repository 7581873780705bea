package queue

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/beaconhq/growth-engine/internal/resilience"
)

const keyReevalDLQ = "growth:reeval:dlq"

// RedisDLQ stores failed re-evaluation requests on a redis list for later
// inspection and replay.
type RedisDLQ struct {
	rdb redis.UniversalClient
}

// NewRedisDLQ creates a RedisDLQ.
func NewRedisDLQ(rdb redis.UniversalClient) *RedisDLQ {
	return &RedisDLQ{rdb: rdb}
}

// Push appends an entry to the dead letter list.
func (d *RedisDLQ) Push(ctx context.Context, entry resilience.ReevalDLQEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return eris.Wrap(err, "dlq: marshal entry")
	}
	if err := d.rdb.LPush(ctx, keyReevalDLQ, payload).Err(); err != nil {
		return eris.Wrapf(err, "dlq: push %s", entry.ID)
	}
	return nil
}

// List returns up to limit entries, newest first, without removing them.
func (d *RedisDLQ) List(ctx context.Context, limit int64) ([]resilience.ReevalDLQEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	raws, err := d.rdb.LRange(ctx, keyReevalDLQ, 0, limit-1).Result()
	if err != nil {
		return nil, eris.Wrap(err, "dlq: list")
	}

	entries := make([]resilience.ReevalDLQEntry, 0, len(raws))
	for _, raw := range raws {
		var entry resilience.ReevalDLQEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, eris.Wrap(err, "dlq: unmarshal entry")
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Len returns the number of dead-lettered entries.
func (d *RedisDLQ) Len(ctx context.Context) (int64, error) {
	n, err := d.rdb.LLen(ctx, keyReevalDLQ).Result()
	if err != nil {
		return 0, eris.Wrap(err, "dlq: len")
	}
	return n, nil
}
