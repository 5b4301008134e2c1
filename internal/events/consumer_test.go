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

type MockStreamReader struct {
	mock.Mock
}

func (m *MockStreamReader) XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd {
	args := m.Called(ctx, stream, group, start)
	cmd := redis.NewStatusCmd(ctx)
	if err := args.Error(0); err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal("OK")
	}
	return cmd
}

func (m *MockStreamReader) XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	args := m.Called(ctx, a)
	cmd := redis.NewXStreamSliceCmd(ctx)
	if err := args.Error(1); err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal(args.Get(0).([]redis.XStream))
	}
	return cmd
}

func (m *MockStreamReader) XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd {
	m.Called(ctx, stream, group, ids)
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(int64(len(ids)))
	return cmd
}

func message(t *testing.T, id string, ev models.RunEvent) redis.XMessage {
	t.Helper()
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	return redis.XMessage{ID: id, Values: map[string]interface{}{"type": string(ev.Type), "data": string(data)}}
}

func TestDecode(t *testing.T) {
	ev, err := Decode(message(t, "1-0", models.RunEvent{Type: models.EventRunCompleted, RunID: "r1", Processed: 12}))
	require.NoError(t, err)
	assert.Equal(t, models.EventRunCompleted, ev.Type)
	assert.Equal(t, 12, ev.Processed)

	_, err = Decode(redis.XMessage{ID: "2-0", Values: map[string]interface{}{}})
	assert.Error(t, err)

	_, err = Decode(redis.XMessage{ID: "3-0", Values: map[string]interface{}{"data": "{"}})
	assert.Error(t, err)
}

func TestConsumer_Run(t *testing.T) {
	logger := slog.Default()

	t.Run("handles and acknowledges messages", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		r := new(MockStreamReader)
		r.On("XGroupCreateMkStream", mock.Anything, DefaultStream, "tail", "$").Return(errors.New("BUSYGROUP Consumer Group name already exists"))
		r.On("XReadGroup", mock.Anything, mock.Anything).Return([]redis.XStream{{
			Stream: DefaultStream,
			Messages: []redis.XMessage{
				message(t, "1-0", models.RunEvent{Type: models.EventRunStarted, RunID: "r1"}),
				{ID: "2-0", Values: map[string]interface{}{"data": "not json"}},
			},
		}}, nil).Once()
		r.On("XReadGroup", mock.Anything, mock.Anything).Return([]redis.XStream(nil), redis.Nil)
		r.On("XAck", mock.Anything, DefaultStream, "tail", []string{"1-0"}).Return()

		var got []models.RunEvent
		c := NewConsumer(r, ConsumerConfig{Group: "tail", Block: time.Millisecond}, logger)
		err := c.Run(ctx, func(_ context.Context, ev models.RunEvent) error {
			got = append(got, ev)
			cancel()
			return nil
		})

		assert.ErrorIs(t, err, context.Canceled)
		require.Len(t, got, 1)
		assert.Equal(t, "r1", got[0].RunID)
		r.AssertCalled(t, "XAck", mock.Anything, DefaultStream, "tail", []string{"1-0"})
		r.AssertNotCalled(t, "XAck", mock.Anything, DefaultStream, "tail", []string{"2-0"})
	})

	t.Run("fails when the group cannot be created", func(t *testing.T) {
		r := new(MockStreamReader)
		r.On("XGroupCreateMkStream", mock.Anything, DefaultStream, "crawl-events-tail", "$").Return(errors.New("NOAUTH"))

		err := NewConsumer(r, ConsumerConfig{}, logger).Run(context.Background(), nil)
		assert.Error(t, err)
	})
}
