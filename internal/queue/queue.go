// Package queue provides the redis-backed job queue, distributed locks, and
// event publishing that serialize and drive the analysis pipeline.
package queue

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Redis key layout. Claims are a hash of jobID → claim unix time so the
// reaper can tell stale claims from in-flight ones.
const (
	keyQueue      = "growth:jobs:queue"
	keyProcessing = "growth:jobs:processing"
	keyClaims     = "growth:jobs:claims"
	keyDelayed    = "growth:jobs:delayed"
)

// ErrEmpty is returned by ClaimBlocking when the wait elapses with no work.
var ErrEmpty = eris.New("queue: no jobs available")

// Queue is an at-least-once job queue keyed by job ID. Claimed jobs sit on a
// processing list until acked; a crash leaves them there for RequeueStale.
type Queue interface {
	// Enqueue makes a job immediately claimable.
	Enqueue(ctx context.Context, jobID string) error
	// EnqueueDelayed makes a job claimable after the delay elapses and
	// PromoteDelayed runs.
	EnqueueDelayed(ctx context.Context, jobID string, delay time.Duration) error
	// ClaimBlocking blocks up to wait for a job. Returns ErrEmpty on timeout.
	ClaimBlocking(ctx context.Context, wait time.Duration) (string, error)
	// Ack removes a claimed job from the processing list.
	Ack(ctx context.Context, jobID string) error
	// PromoteDelayed moves due delayed jobs onto the main queue.
	PromoteDelayed(ctx context.Context) (int, error)
	// RequeueStale returns claimed-but-unacked jobs older than olderThan to
	// the main queue. This is the crash recovery path.
	RequeueStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// RedisQueue implements Queue on redis lists plus a delayed ZSET.
// Claim moves queue → processing atomically via BRPOPLPUSH.
type RedisQueue struct {
	rdb     redis.UniversalClient
	nowFunc func() time.Time
}

// NewRedisQueue creates a RedisQueue.
func NewRedisQueue(rdb redis.UniversalClient) *RedisQueue {
	return &RedisQueue{rdb: rdb, nowFunc: time.Now}
}

func (q *RedisQueue) Enqueue(ctx context.Context, jobID string) error {
	if err := q.rdb.LPush(ctx, keyQueue, jobID).Err(); err != nil {
		return eris.Wrapf(err, "queue: enqueue %s", jobID)
	}
	return nil
}

func (q *RedisQueue) EnqueueDelayed(ctx context.Context, jobID string, delay time.Duration) error {
	readyAt := q.nowFunc().Add(delay)
	member := redis.Z{Score: float64(readyAt.UnixMilli()), Member: jobID}
	if err := q.rdb.ZAdd(ctx, keyDelayed, member).Err(); err != nil {
		return eris.Wrapf(err, "queue: enqueue delayed %s", jobID)
	}
	return nil
}

func (q *RedisQueue) ClaimBlocking(ctx context.Context, wait time.Duration) (string, error) {
	jobID, err := q.rdb.BRPopLPush(ctx, keyQueue, keyProcessing, wait).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrEmpty
		}
		return "", eris.Wrap(err, "queue: claim")
	}
	if err := q.rdb.HSet(ctx, keyClaims, jobID, q.nowFunc().UnixMilli()).Err(); err != nil {
		// Without a claim timestamp the reaper can't tell this job is
		// in flight; put it back rather than risk double delivery.
		_ = q.rdb.LRem(ctx, keyProcessing, 1, jobID).Err()
		_ = q.rdb.LPush(ctx, keyQueue, jobID).Err()
		return "", eris.Wrapf(err, "queue: record claim %s", jobID)
	}
	return jobID, nil
}

func (q *RedisQueue) Ack(ctx context.Context, jobID string) error {
	if err := q.rdb.LRem(ctx, keyProcessing, 1, jobID).Err(); err != nil {
		return eris.Wrapf(err, "queue: ack %s", jobID)
	}
	_ = q.rdb.HDel(ctx, keyClaims, jobID).Err()
	return nil
}

func (q *RedisQueue) PromoteDelayed(ctx context.Context) (int, error) {
	now := q.nowFunc().UnixMilli()
	due, err := q.rdb.ZRangeByScore(ctx, keyDelayed, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now, 10),
	}).Result()
	if err != nil {
		return 0, eris.Wrap(err, "queue: list due delayed jobs")
	}

	promoted := 0
	for _, jobID := range due {
		removed, err := q.rdb.ZRem(ctx, keyDelayed, jobID).Result()
		if err != nil {
			return promoted, eris.Wrapf(err, "queue: remove delayed %s", jobID)
		}
		if removed == 0 {
			// Another worker promoted it first.
			continue
		}
		if err := q.rdb.LPush(ctx, keyQueue, jobID).Err(); err != nil {
			return promoted, eris.Wrapf(err, "queue: promote %s", jobID)
		}
		promoted++
	}
	return promoted, nil
}

func (q *RedisQueue) RequeueStale(ctx context.Context, olderThan time.Duration) (int, error) {
	ids, err := q.rdb.LRange(ctx, keyProcessing, 0, -1).Result()
	if err != nil {
		return 0, eris.Wrap(err, "queue: list processing jobs")
	}
	if len(ids) == 0 {
		return 0, nil
	}

	cutoff := q.nowFunc().Add(-olderThan).UnixMilli()
	moved := 0
	for _, jobID := range ids {
		claimedAt, err := q.rdb.HGet(ctx, keyClaims, jobID).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return moved, eris.Wrapf(err, "queue: read claim %s", jobID)
		}
		// Missing claim timestamp counts as stale.
		if err == nil && claimedAt > cutoff {
			continue
		}
		removed, err := q.rdb.LRem(ctx, keyProcessing, 1, jobID).Result()
		if err != nil {
			return moved, eris.Wrapf(err, "queue: unclaim %s", jobID)
		}
		if removed == 0 {
			continue
		}
		_ = q.rdb.HDel(ctx, keyClaims, jobID).Err()
		if err := q.rdb.LPush(ctx, keyQueue, jobID).Err(); err != nil {
			return moved, eris.Wrapf(err, "queue: requeue %s", jobID)
		}
		moved++
		zap.L().Warn("requeued stale job", zap.String("job_id", jobID))
	}
	return moved, nil
}

