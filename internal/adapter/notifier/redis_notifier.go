package notifier

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// RedisNotifier pushes messages onto a Redis list drained by the delivery worker.
type RedisNotifier struct {
	client redis.Cmdable
	queue  string
	clock  clockwork.Clock
}

func NewRedisNotifier(client redis.Cmdable, queue string, clock clockwork.Clock) *RedisNotifier {
	return &RedisNotifier{client: client, queue: queue, clock: clock}
}

func (n *RedisNotifier) Enqueue(ctx context.Context, recipient, templateID string, payload map[string]string) error {
	data, err := encode(recipient, templateID, payload, n.clock.Now())
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	if err := n.client.RPush(ctx, n.queue, string(data)).Err(); err != nil {
		return fmt.Errorf("push notification to %s: %w", n.queue, err)
	}
	return nil
}
