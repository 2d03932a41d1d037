package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Sink delivers audit events
type Sink interface {
	Send(ctx context.Context, event Event) error
}

// LogSink writes audit events to a structured logger
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Send(ctx context.Context, event Event) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "audit",
		"source", event.Source,
		"type", event.Type,
		"user", userString(event.UserID),
		"method", event.Method,
		"uri", event.URI,
		"route", event.Route,
		"status", event.Status,
		"message", event.Message,
		"metadata", event.Metadata,
	)
	return nil
}

const DefaultStreamMaxLen = 10000

// RedisStreamSink appends audit events to a redis stream
type RedisStreamSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisStreamSink creates a sink that XADDs to stream, trimming it to roughly maxLen entries
func NewRedisStreamSink(client *redis.Client, stream string, maxLen int64) *RedisStreamSink {
	if maxLen <= 0 {
		maxLen = DefaultStreamMaxLen
	}
	return &RedisStreamSink{client: client, stream: stream, maxLen: maxLen}
}

func (s *RedisStreamSink) Send(ctx context.Context, event Event) error {
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return err
	}
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"source":    event.Source,
			"type":      event.Type,
			"user":      userString(event.UserID),
			"method":    event.Method,
			"uri":       event.URI,
			"route":     event.Route,
			"status":    strconv.Itoa(event.Status),
			"message":   event.Message,
			"timestamp": event.Timestamp.Format(time.RFC3339),
			"metadata":  string(metadata),
		},
	}).Err()
}

// MultiSink fans an event out to every sink and returns the first error
type MultiSink []Sink

func (ms MultiSink) Send(ctx context.Context, event Event) error {
	var first error
	for _, s := range ms {
		if err := s.Send(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func userString(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}
