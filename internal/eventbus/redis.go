package eventbus

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Bikxs/Skafu-sub001/internal/domain"
)

// RedisPublisher publishes events to a Redis Stream.
type RedisPublisher struct {
	client *redis.Client
	stream string
}

var _ Publisher = (*RedisPublisher)(nil)

// NewRedisPublisher connects to Redis and verifies the connection.
func NewRedisPublisher(addr, password string, db int, stream string) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &RedisPublisher{client: client, stream: stream}, nil
}

// NewRedisPublisherWithClient wraps an existing client; used by tests.
func NewRedisPublisherWithClient(client *redis.Client, stream string) *RedisPublisher {
	return &RedisPublisher{client: client, stream: stream}
}

// Publish appends the event envelope to the stream via XADD.
func (p *RedisPublisher) Publish(ctx context.Context, event domain.Event) error {
	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: eventToValues(event),
	}).Err()
}

// Close closes the Redis connection.
func (p *RedisPublisher) Close() error { return p.client.Close() }

func eventToValues(event domain.Event) map[string]interface{} {
	values := map[string]interface{}{
		"event_id":       event.EventID,
		"event_type":     string(event.EventType),
		"aggregate_id":   event.AggregateID,
		"correlation_id": event.CorrelationID,
		"source":         event.Source,
		"version":        event.Version,
		"timestamp":      event.Timestamp.UTC().Format(time.RFC3339Nano),
		"data":           string(event.Data),
	}
	for key, value := range event.Metadata {
		values["meta_"+key] = value
	}
	return values
}
