package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/maltedev/price-crawler/internal/config"
	"github.com/maltedev/price-crawler/internal/models"
)

const (
	DefaultStream         = "stream:crawl_events"
	DefaultPublishTimeout = 2 * time.Second

	source = "price-crawler"
)

// RedisClient interface for Redis operations (for testing)
type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// lifecycle events go to the stream; per-record progress stays local.
var lifecycle = map[models.EventType]bool{
	models.EventRunStarted:          true,
	models.EventBatchCompleted:      true,
	models.EventBlockDetected:       true,
	models.EventRunCompleted:        true,
	models.EventValidationStarted:   true,
	models.EventValidationCompleted: true,
}

// Publisher writes run lifecycle events to a Redis stream. It is an observer
// of the orchestrator and validator; publish failures are logged only.
type Publisher struct {
	redis   RedisClient
	stream  string
	timeout time.Duration
	logger  *slog.Logger
}

func NewPublisher(client RedisClient, stream string, logger *slog.Logger) *Publisher {
	if stream == "" {
		stream = DefaultStream
	}
	return &Publisher{
		redis:   client,
		stream:  stream,
		timeout: DefaultPublishTimeout,
		logger:  logger.With("component", "event_publisher"),
	}
}

// Connect opens a Redis client from cfg and checks it with PING.
func Connect(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	logger.Info("connected to redis", "addr", cfg.Addr, "stream", cfg.Stream)
	return NewPublisher(client, cfg.Stream, logger), nil
}

func (p *Publisher) OnEvent(ev models.RunEvent) {
	if !lifecycle[ev.Type] {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	id, err := p.Publish(ctx, ev)
	if err != nil {
		p.logger.Error("failed to publish event", "type", ev.Type, "run_id", ev.RunID, "error", err)
		return
	}
	p.logger.Debug("event published", "type", ev.Type, "run_id", ev.RunID, "stream_id", id)
}

// Publish adds one event to the stream and returns its stream id.
func (p *Publisher) Publish(ctx context.Context, ev models.RunEvent) (string, error) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"id":        uuid.New().String(),
			"type":      string(ev.Type),
			"run_id":    ev.RunID,
			"phase":     ev.Phase,
			"source":    source,
			"timestamp": fmt.Sprintf("%d", ev.Timestamp.UnixNano()),
			"data":      string(data),
		},
	}

	id, err := p.redis.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish to redis: %w", err)
	}
	return id, nil
}

func (p *Publisher) Close() error {
	return p.redis.Close()
}
