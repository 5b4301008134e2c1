package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinear(t *testing.T) {
	l := &Linear{Step: 5 * time.Second}
	assert.Equal(t, 5*time.Second, l.NextBackOff())
	assert.Equal(t, 10*time.Second, l.NextBackOff())
	assert.Equal(t, 15*time.Second, l.NextBackOff())
	l.Reset()
	assert.Equal(t, 5*time.Second, l.NextBackOff())
}

func TestDo(t *testing.T) {
	errFlaky := errors.New("flaky")
	policy := Policy{Attempts: 3, Step: time.Millisecond}

	tests := []struct {
		name         string
		failures     int
		wantErr      bool
		wantAttempts int
		wantWaits    []time.Duration
	}{
		{"first try", 0, false, 1, nil},
		{"second try", 1, false, 2, []time.Duration{time.Millisecond}},
		{"exhausted", 5, true, 3, []time.Duration{time.Millisecond, 2 * time.Millisecond}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			var waits []time.Duration
			err := Do(context.Background(), policy, func(attempt int) error {
				calls++
				assert.Equal(t, calls, attempt)
				if calls <= tt.failures {
					return errFlaky
				}
				return nil
			}, func(err error, attempt int, wait time.Duration) {
				waits = append(waits, wait)
			})

			if tt.wantErr {
				assert.ErrorIs(t, err, errFlaky)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantAttempts, calls)
			assert.Equal(t, tt.wantWaits, waits)
		})
	}
}

func TestDoPermanent(t *testing.T) {
	errStop := errors.New("stop")
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 3, Step: time.Millisecond}, func(int) error {
		calls++
		return Permanent(errStop)
	}, nil)

	assert.ErrorIs(t, err, errStop)
	assert.Equal(t, 1, calls)
}

func TestDoCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, Policy{Attempts: 3, Step: time.Hour}, func(int) error {
		calls++
		return nil
	}, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}
