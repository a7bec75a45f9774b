package notify

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Channels consumed by the UI shell.
const (
	ChannelSessionStarted = "session:started"
	ChannelSessionUpdated = "session:updated"
	ChannelDataUpdated    = "data:updated"
)

// Notifier publishes session and data change events for the UI layer.
// Implementations must never fail the caller: notifications are best-effort.
type Notifier interface {
	SessionStarted(ctx context.Context, idcard string)
	SessionUpdated(ctx context.Context, idcard, field string)
	DataUpdated(ctx context.Context, idcard, field, value string)
}

// Payload is the JSON body published on every channel. Absent fields are
// omitted.
type Payload struct {
	Idcard string `json:"idcard"`
	Field  string `json:"field,omitempty"`
	Value  string `json:"value,omitempty"`
}

// Marshal encodes a notification payload.
func Marshal(idcard, field, value string) ([]byte, error) {
	return json.Marshal(Payload{Idcard: idcard, Field: field, Value: value})
}

// RedisNotifier publishes events over Redis pub/sub.
type RedisNotifier struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisNotifier creates a Redis-backed notifier.
func NewRedisNotifier(client *redis.Client, logger *zap.Logger) *RedisNotifier {
	return &RedisNotifier{
		client: client,
		logger: logger,
	}
}

func (n *RedisNotifier) publish(ctx context.Context, channel, idcard, field, value string) {
	body, err := Marshal(idcard, field, value)
	if err != nil {
		n.logger.Warn("Failed to encode notification", zap.String("channel", channel), zap.Error(err))
		return
	}
	if err := n.client.Publish(ctx, channel, body).Err(); err != nil {
		n.logger.Warn("Failed to publish notification",
			zap.String("channel", channel),
			zap.String("idcard", idcard),
			zap.Error(err),
		)
	}
}

func (n *RedisNotifier) SessionStarted(ctx context.Context, idcard string) {
	n.publish(ctx, ChannelSessionStarted, idcard, "", "")
}

func (n *RedisNotifier) SessionUpdated(ctx context.Context, idcard, field string) {
	n.publish(ctx, ChannelSessionUpdated, idcard, field, "")
}

func (n *RedisNotifier) DataUpdated(ctx context.Context, idcard, field, value string) {
	n.publish(ctx, ChannelDataUpdated, idcard, field, value)
}

// NewRedisClient creates the pub/sub client.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}
