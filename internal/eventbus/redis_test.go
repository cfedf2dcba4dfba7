package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bikxs/Skafu-sub001/internal/domain"
)

func TestRedisPublisherAppendsToStream(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	pub := NewRedisPublisherWithClient(client, "skafu:events")
	event := domain.NewEvent(domain.EventProjectCreated, "p1", map[string]any{"name": "checkout"}, time.Now())
	event.CorrelationID = "corr-1"
	event.Source = "project-management"
	event.Metadata = map[string]string{"region": "eu-west-1"}

	require.NoError(t, pub.Publish(context.Background(), event))

	entries, err := client.XRange(context.Background(), "skafu:events", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	values := entries[0].Values
	assert.Equal(t, event.EventID, values["event_id"])
	assert.Equal(t, "ProjectCreated", values["event_type"])
	assert.Equal(t, "p1", values["aggregate_id"])
	assert.Equal(t, "corr-1", values["correlation_id"])
	assert.Equal(t, "project-management", values["source"])
	assert.Equal(t, "1.0", values["version"])
	assert.Equal(t, "eu-west-1", values["meta_region"])
	assert.Contains(t, values["data"], "checkout")
}

func TestRedisPublisherPreservesOrder(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	pub := NewRedisPublisherWithClient(client, "skafu:events")
	first := domain.NewEvent(domain.EventServiceAdded, "p1", nil, time.Now())
	second := domain.NewEvent(domain.EventServiceRemoved, "p1", nil, time.Now())
	require.NoError(t, pub.Publish(context.Background(), first))
	require.NoError(t, pub.Publish(context.Background(), second))

	entries, err := client.XRange(context.Background(), "skafu:events", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, first.EventID, entries[0].Values["event_id"])
	assert.Equal(t, second.EventID, entries[1].Values["event_id"])
}
