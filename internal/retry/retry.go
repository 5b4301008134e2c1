// Package retry runs an operation a bounded number of times with a linearly
// growing pause between attempts.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
)

type Policy struct {
	Attempts int
	Step     time.Duration
}

// DefaultPolicy waits 5s, then 10s, between three attempts.
func DefaultPolicy() Policy {
	return Policy{Attempts: 3, Step: 5 * time.Second}
}

// Linear is a backoff.BackOff returning step, 2*step, 3*step, ...
type Linear struct {
	Step time.Duration
	n    int
}

func (l *Linear) NextBackOff() time.Duration {
	l.n++
	return l.Step * time.Duration(l.n)
}

func (l *Linear) Reset() {
	l.n = 0
}

// Permanent stops retrying and returns err as is.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do calls op until it succeeds, returns a permanent error, the attempts
// are used up or ctx is done. notify runs before each pause.
func Do(ctx context.Context, p Policy, op func(attempt int) error, notify func(err error, attempt int, wait time.Duration)) error {
	if p.Attempts < 1 {
		p.Attempts = 1
	}

	attempt := 0
	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempt++
		return op(attempt)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(&Linear{Step: p.Step}, uint64(p.Attempts-1)), ctx)
	return backoff.RetryNotify(operation, b, func(err error, wait time.Duration) {
		if notify != nil {
			notify(err, attempt, wait)
		}
	})
}
