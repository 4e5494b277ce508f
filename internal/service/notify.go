package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Notifier is the fire-and-forget outbound event sink. Implementations
// must never block core operations or surface failures to callers.
type Notifier interface {
	Notify(ctx context.Context, event string, payload any)
}

// LogNotifier writes events to the application log. Used when no broker
// is configured and in tests.
type LogNotifier struct {
	logger *zap.SugaredLogger
}

func NewLogNotifier(logger *zap.SugaredLogger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("notify")}
}

func (n *LogNotifier) Notify(_ context.Context, event string, payload any) {
	n.logger.Infow("event", "type", event, "payload", payload)
}

// RedisNotifier publishes events to a Redis channel. Delivery is best
// effort: publish runs detached with a short deadline and failures are
// only logged.
type RedisNotifier struct {
	client  *redis.Client
	channel string
	logger  *zap.SugaredLogger
}

func NewRedisNotifier(client *redis.Client, channel string, logger *zap.SugaredLogger) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel, logger: logger.Named("notify")}
}

func (n *RedisNotifier) Notify(_ context.Context, event string, payload any) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				n.logger.Errorw("notify panic", "event", event, "panic", r)
			}
		}()
		body, err := json.Marshal(map[string]any{"event": event, "payload": payload, "at": time.Now().UTC()})
		if err != nil {
			n.logger.Errorw("notify marshal failed", "event", event, "err", err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := n.client.Publish(ctx, n.channel, body).Err(); err != nil {
			n.logger.Warnw("notify publish failed", "event", event, "err", err)
		}
	}()
}
