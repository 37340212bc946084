// Package backoff is the retry primitive used by every provider call.
package backoff

import (
	"context"
	"time"

	"github.com/postloom/postloom-backend/internal/pkg/httpx"
)

const (
	DefaultBaseDelay  = 500 * time.Millisecond
	DefaultMaxDelay   = 10 * time.Second
	DefaultMaxRetries = 10
)

type Policy struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxRetries int

	// sleep is swappable in tests.
	sleep func(time.Duration)
}

func NewPolicy() Policy {
	return Policy{
		BaseDelay:  DefaultBaseDelay,
		MaxDelay:   DefaultMaxDelay,
		MaxRetries: DefaultMaxRetries,
	}
}

func (p Policy) WithMaxDelay(d time.Duration) Policy {
	p.MaxDelay = d
	return p
}

func (p Policy) WithMaxRetries(n int) Policy {
	p.MaxRetries = n
	return p
}

func (p Policy) withSleep(fn func(time.Duration)) Policy {
	p.sleep = fn
	return p
}

// DelayFor computes the sleep before retry n (1-based): base * 2^(n-1),
// jittered +/-20%, clamped to MaxDelay and floored at BaseDelay. The floor
// keeps the first jittered delay from undercutting the base.
func (p Policy) DelayFor(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	max := p.MaxDelay
	if max <= 0 {
		max = DefaultMaxDelay
	}

	d := base
	for i := 1; i < retry; i++ {
		d *= 2
		if d >= max {
			d = max
			break
		}
	}
	d = httpx.Jitter(d)
	if d > max {
		d = max
	}
	if d < base {
		d = base
	}
	return d
}

// Do runs op, retrying while retryable(err) holds and attempts remain. The
// terminal error (non-retryable, or retryable after the last attempt) is
// returned as-is. Context cancellation aborts between attempts.
func Do(ctx context.Context, p Policy, op func() error, retryable func(error) bool) error {
	if retryable == nil {
		retryable = httpx.IsRetryableError
	}
	maxRetries := p.MaxRetries
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err = op()
		if err == nil {
			return nil
		}
		if !retryable(err) || attempt == maxRetries {
			return err
		}
		sleep(p.DelayFor(attempt + 1))
	}
	return err
}
