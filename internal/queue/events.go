package queue

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/beaconhq/growth-engine/internal/model"
)

// eventChannel carries all pipeline completion events. Consumers filter by
// event kind and tenant themselves.
const eventChannel = "growth:events"

// RedisEvents publishes pipeline events over redis pub/sub. Delivery is
// fire-and-forget; the durable record is always the job/plan/task rows, the
// event is only a nudge for listeners.
type RedisEvents struct {
	rdb redis.UniversalClient
}

// NewRedisEvents creates a RedisEvents publisher.
func NewRedisEvents(rdb redis.UniversalClient) *RedisEvents {
	return &RedisEvents{rdb: rdb}
}

// Publish serializes the event and publishes it to the event channel.
func (e *RedisEvents) Publish(ctx context.Context, event model.PipelineEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return eris.Wrap(err, "events: marshal")
	}
	if err := e.rdb.Publish(ctx, eventChannel, payload).Err(); err != nil {
		return eris.Wrapf(err, "events: publish %s", event.Kind)
	}
	zap.L().Debug("event published",
		zap.String("kind", string(event.Kind)),
		zap.String("tenant_id", event.TenantID),
	)
	return nil
}

// Subscribe delivers events to the handler until the context is cancelled.
// Malformed payloads are logged and skipped.
func (e *RedisEvents) Subscribe(ctx context.Context, handler func(model.PipelineEvent)) error {
	sub := e.rdb.Subscribe(ctx, eventChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event model.PipelineEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				zap.L().Warn("dropping malformed event", zap.Error(err))
				continue
			}
			handler(event)
		}
	}
}
