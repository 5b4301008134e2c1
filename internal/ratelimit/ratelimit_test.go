package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJitterPacerStaysInRange(t *testing.T) {
	var slept []time.Duration
	p := NewJitterPacer(10*time.Second, 40*time.Second).WithSleeper(func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	})

	for i := 0; i < 200; i++ {
		require.NoError(t, p.Wait(context.Background()))
	}

	require.Len(t, slept, 200)
	for _, d := range slept {
		assert.GreaterOrEqual(t, d, 10*time.Second)
		assert.LessOrEqual(t, d, 40*time.Second)
	}
}

func TestJitterPacerFixedDelay(t *testing.T) {
	var got time.Duration
	p := NewJitterPacer(time.Second, time.Second).WithSleeper(func(_ context.Context, d time.Duration) error {
		got = d
		return nil
	})

	require.NoError(t, p.Wait(context.Background()))
	assert.Equal(t, time.Second, got)
}

func TestJitterPacerInvertedRangeUsesMin(t *testing.T) {
	var got time.Duration
	p := NewJitterPacer(3*time.Second, time.Second).WithSleeper(func(_ context.Context, d time.Duration) error {
		got = d
		return nil
	})

	require.NoError(t, p.Wait(context.Background()))
	assert.Equal(t, 3*time.Second, got)
}

func TestSleepHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Sleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)

	assert.NoError(t, Sleep(context.Background(), time.Millisecond))
}
