package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/price-crawler/internal/models"
)

// StreamReader is the consumer-group part of the Redis client.
type StreamReader interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

type Handler func(ctx context.Context, ev models.RunEvent) error

type ConsumerConfig struct {
	Stream   string
	Group    string
	Consumer string
	Block    time.Duration
}

// Consumer reads run events from the stream through a consumer group.
type Consumer struct {
	redis  StreamReader
	cfg    ConsumerConfig
	logger *slog.Logger
}

func NewConsumer(client StreamReader, cfg ConsumerConfig, logger *slog.Logger) *Consumer {
	if cfg.Stream == "" {
		cfg.Stream = DefaultStream
	}
	if cfg.Group == "" {
		cfg.Group = "crawl-events-tail"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "consumer-1"
	}
	if cfg.Block == 0 {
		cfg.Block = 5 * time.Second
	}
	return &Consumer{redis: client, cfg: cfg, logger: logger.With("component", "event_consumer")}
}

// Run delivers events to handle until ctx is done. Messages are acknowledged
// after handle returns without error.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	err := c.redis.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	c.logger.Info("starting consumer", "stream", c.cfg.Stream, "group", c.cfg.Group)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		streams, err := c.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.cfg.Group,
			Consumer: c.cfg.Consumer,
			Streams:  []string{c.cfg.Stream, ">"},
			Count:    10,
			Block:    c.cfg.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("failed to read from stream", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				if err := c.process(ctx, msg, handle); err != nil {
					c.logger.Error("failed to process message", "id", msg.ID, "error", err)
					continue
				}
				if err := c.redis.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
					c.logger.Error("failed to acknowledge message", "id", msg.ID, "error", err)
				}
			}
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg redis.XMessage, handle Handler) error {
	ev, err := Decode(msg)
	if err != nil {
		return err
	}
	return handle(ctx, ev)
}

// Decode rebuilds a RunEvent from a stream message written by Publish.
func Decode(msg redis.XMessage) (models.RunEvent, error) {
	var ev models.RunEvent
	data, ok := msg.Values["data"].(string)
	if !ok {
		return ev, fmt.Errorf("missing data in message %s", msg.ID)
	}
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return ev, fmt.Errorf("failed to parse event: %w", err)
	}
	return ev, nil
}
