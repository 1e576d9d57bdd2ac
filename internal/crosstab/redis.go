package crosstab

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/fivetentaylor/pointy-sub000/internal/logging"
)

// RedisChannel broadcasts author-change pings across processes through
// Redis pub/sub, one channel per document.
type RedisChannel struct {
	client *redis.Client
	logger *logging.Logger
}

func NewRedisChannel(addr string) (*RedisChannel, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}

	return &RedisChannel{
		client: client,
		logger: logging.NewLogger("crosstab"),
	}, nil
}

func (r *RedisChannel) Publish(ctx context.Context, docID string) error {
	return r.client.Publish(ctx, ChannelName(docID), "").Err()
}

func (r *RedisChannel) Subscribe(ctx context.Context, docID string) (<-chan struct{}, func(), error) {
	pubsub := r.client.Subscribe(ctx, ChannelName(docID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, err
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		for range pubsub.Channel() {
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}()

	cancel := func() {
		if err := pubsub.Close(); err != nil {
			r.logger.Warn("Failed to close subscription", map[string]interface{}{
				"doc_id": docID,
				"error":  err.Error(),
			})
		}
	}
	return out, cancel, nil
}

func (r *RedisChannel) Close() error {
	return r.client.Close()
}
