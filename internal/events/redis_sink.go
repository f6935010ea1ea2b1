package events

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const defaultStreamMaxLen = 100000

// RedisStreamSink appends events to a Redis stream so downstream consumers
// (kitchen displays, reporting jobs) can follow the ledger.
type RedisStreamSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedisStreamSink(addr string, password string, db int, stream string) *RedisStreamSink {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisStreamSinkFromClient(client, stream)
}

func NewRedisStreamSinkFromClient(client *redis.Client, stream string) *RedisStreamSink {
	if stream == "" {
		stream = "comanda:events"
	}
	return &RedisStreamSink{client: client, stream: stream, maxLen: defaultStreamMaxLen}
}

func (s *RedisStreamSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStreamSink) Close() error {
	return s.client.Close()
}

func (s *RedisStreamSink) Append(ctx context.Context, event Event) error {
	data := "{}"
	if len(event.Data) > 0 {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return err
		}
		data = string(payload)
	}

	writeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return s.client.XAdd(writeCtx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"id":         event.ID,
			"type":       event.Type,
			"session_id": event.SessionID,
			"order_id":   event.OrderID,
			"actor":      event.Actor,
			"at":         event.At.UTC().Format(time.RFC3339Nano),
			"data":       data,
		},
	}).Err()
}

// Read returns up to count entries from the start of the stream.
func (s *RedisStreamSink) Read(ctx context.Context, count int64) ([]Event, error) {
	msgs, err := s.client.XRangeN(ctx, s.stream, "-", "+", count).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(msgs))
	for _, msg := range msgs {
		event := Event{
			ID:        asString(msg.Values["id"]),
			Type:      asString(msg.Values["type"]),
			SessionID: asString(msg.Values["session_id"]),
			OrderID:   asString(msg.Values["order_id"]),
			Actor:     asString(msg.Values["actor"]),
		}
		if at, err := time.Parse(time.RFC3339Nano, asString(msg.Values["at"])); err == nil {
			event.At = at
		}
		if raw := asString(msg.Values["data"]); raw != "" && raw != "{}" {
			_ = json.Unmarshal([]byte(raw), &event.Data)
		}
		out = append(out, event)
	}
	return out, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
