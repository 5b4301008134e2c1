package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Pacer blocks for a randomized pause between page visits or batches.
type Pacer interface {
	Wait(ctx context.Context) error
}

// JitterPacer sleeps for a uniformly random duration in [min, max].
type JitterPacer struct {
	mu       sync.Mutex
	minDelay time.Duration
	maxDelay time.Duration
	rng      *rand.Rand
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewJitterPacer(minDelay, maxDelay time.Duration) *JitterPacer {
	return &JitterPacer{
		minDelay: minDelay,
		maxDelay: maxDelay,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:    Sleep,
	}
}

// WithSleeper swaps the blocking sleep, used by tests to avoid real waits.
func (p *JitterPacer) WithSleeper(sleep func(ctx context.Context, d time.Duration) error) *JitterPacer {
	p.sleep = sleep
	return p
}

func (p *JitterPacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	delay := p.calculateDelay()
	p.mu.Unlock()

	return p.sleep(ctx, delay)
}

func (p *JitterPacer) calculateDelay() time.Duration {
	if p.maxDelay <= p.minDelay {
		return p.minDelay
	}
	delta := p.maxDelay - p.minDelay
	return p.minDelay + time.Duration(p.rng.Int63n(int64(delta)+1))
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
