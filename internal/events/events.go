// Package events publishes attendance changes after they commit.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"qrlogin/attendance-service/internal/models"

	"github.com/redis/go-redis/v9"
)

const (
	StreamAttendance = "attendance:changes"
	SchemaVersionV1  = "v1"
	defaultMaxLen    = 10000
)

type ChangeType string

const (
	ChangeSession    ChangeType = "session"
	ChangeLeave      ChangeType = "leave"
	ChangeCorrection ChangeType = "correction"
)

type Change struct {
	Type       ChangeType              `json:"type"`
	UserID     string                  `json:"user_id"`
	EmployeeID string                  `json:"employee_id"`
	Action     models.Action           `json:"action,omitempty"`
	Method     models.Method           `json:"method,omitempty"`
	Timestamp  time.Time               `json:"timestamp"`
	Record     models.AttendanceRecord `json:"record"`
}

type Publisher interface {
	Publish(ctx context.Context, change Change) error
}

// Nop discards every change.
type Nop struct{}

func (Nop) Publish(context.Context, Change) error { return nil }

// RedisPublisher appends changes to a capped Redis stream.
type RedisPublisher struct {
	rdb    *redis.Client
	stream string
}

func NewRedisPublisher(redisURL, stream string) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if stream == "" {
		stream = StreamAttendance
	}
	return &RedisPublisher{rdb: redis.NewClient(opts), stream: stream}, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, change Change) error {
	values, err := streamValues(change)
	if err != nil {
		return err
	}
	result := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: defaultMaxLen,
		Approx: true,
		ID:     "*",
		Values: values,
	})
	if err := result.Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", p.stream, err)
	}
	return nil
}

func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

func (p *RedisPublisher) Close() error {
	return p.rdb.Close()
}

func streamValues(change Change) (map[string]interface{}, error) {
	payload, err := json.Marshal(change)
	if err != nil {
		return nil, fmt.Errorf("marshal change: %w", err)
	}
	return map[string]interface{}{
		"type":           string(change.Type),
		"employee_id":    change.EmployeeID,
		"payload":        string(payload),
		"published_at":   time.Now().Unix(),
		"schema_version": SchemaVersionV1,
	}, nil
}
