//go:build integration

package events

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func TestRedisStreamSinkAppendsEvents(t *testing.T) {
	ctx := context.Background()

	container, err := tcRedis.RunContainer(ctx, testcontainers.WithImage("redis:7-alpine"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)

	sink := NewRedisStreamSinkFromClient(redis.NewClient(opts), "comanda:test-events")
	t.Cleanup(func() { _ = sink.Close() })
	require.NoError(t, sink.Ping(ctx))

	at := time.Date(2026, 10, 18, 20, 15, 0, 0, time.UTC)
	require.NoError(t, sink.Append(ctx, Event{
		ID:        "evt-1",
		Type:      FeeAdded,
		SessionID: "CX-20261018-201500-abcd",
		OrderID:   "4D0004",
		Actor:     "admin",
		At:        at,
		Data:      map[string]any{"amount": "12.50"},
	}))
	require.NoError(t, sink.Append(ctx, Event{ID: "evt-2", Type: FeeReversed, OrderID: "4D0004", At: at}))

	got, err := sink.Read(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, FeeAdded, got[0].Type)
	assert.Equal(t, "4D0004", got[0].OrderID)
	assert.True(t, at.Equal(got[0].At))
	assert.Equal(t, "12.50", got[0].Data["amount"])
	assert.Equal(t, FeeReversed, got[1].Type)
}
