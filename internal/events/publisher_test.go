package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/price-crawler/internal/models"
)

// MockRedisClient is a mock for Redis client
type MockRedisClient struct {
	mock.Mock
}

func (m *MockRedisClient) XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd {
	mockArgs := m.Called(ctx, args)
	cmd := redis.NewStringCmd(ctx)
	if mockArgs.Get(0) != nil {
		cmd.SetErr(mockArgs.Error(0))
	} else {
		cmd.SetVal("1234567890-0")
	}
	return cmd
}

func (m *MockRedisClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

func TestPublisher_Publish(t *testing.T) {
	ctx := context.Background()
	logger := slog.Default()

	t.Run("writes the event to the stream", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		p := NewPublisher(mockRedis, "", logger)

		ev := models.RunEvent{
			Type:      models.EventBatchCompleted,
			RunID:     "run-1",
			Phase:     "crawl",
			Batch:     2,
			Processed: 30,
			Timestamp: time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC),
		}

		mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
			values := args.Values.(map[string]interface{})
			var decoded models.RunEvent
			if err := json.Unmarshal([]byte(values["data"].(string)), &decoded); err != nil {
				return false
			}
			return args.Stream == DefaultStream &&
				values["type"] == "BATCH_COMPLETED" &&
				values["run_id"] == "run-1" &&
				decoded.Processed == 30
		})).Return(nil)

		id, err := p.Publish(ctx, ev)
		require.NoError(t, err)
		assert.Equal(t, "1234567890-0", id)
		mockRedis.AssertExpectations(t)
	})

	t.Run("wraps redis errors", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		p := NewPublisher(mockRedis, "stream:custom", logger)

		mockRedis.On("XAdd", ctx, mock.Anything).Return(errors.New("connection refused"))

		_, err := p.Publish(ctx, models.RunEvent{Type: models.EventRunStarted})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to publish to redis")
	})
}

func TestPublisher_OnEvent(t *testing.T) {
	logger := slog.Default()

	t.Run("skips per-record progress", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		p := NewPublisher(mockRedis, "", logger)

		p.OnEvent(models.RunEvent{Type: models.EventRecordProcessed})
		mockRedis.AssertNotCalled(t, "XAdd", mock.Anything, mock.Anything)
	})

	t.Run("publishes lifecycle events and swallows errors", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		p := NewPublisher(mockRedis, "", logger)

		mockRedis.On("XAdd", mock.Anything, mock.MatchedBy(func(args *redis.XAddArgs) bool {
			return args.Values.(map[string]interface{})["type"] == "BLOCK_DETECTED"
		})).Return(errors.New("timeout")).Once()

		assert.NotPanics(t, func() {
			p.OnEvent(models.RunEvent{Type: models.EventBlockDetected, URL: "https://www.coupang.com/vp/products/1"})
		})
		mockRedis.AssertExpectations(t)
	})

	t.Run("close closes the client", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockRedis.On("Close").Return(nil)

		require.NoError(t, NewPublisher(mockRedis, "", logger).Close())
		mockRedis.AssertExpectations(t)
	})
}
