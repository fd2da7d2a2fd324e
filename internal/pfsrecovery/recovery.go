// Package pfsrecovery wraps archive operations against two failure
// modes that must never take down the caller: a panic escaping a
// caller-supplied enumerate callback, and a transient I/O error worth
// a bounded exponential-backoff retry.
package pfsrecovery

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/physfsgo/physfs/pkg/pfserrors"
	"github.com/physfsgo/physfs/pkg/pfstypes"
)

// SafeEnumerate wraps cb so a panic inside it (a buggy or malicious
// consumer of EnumerateFiles) is converted into pfstypes.EnumerateError
// instead of unwinding through the goroutine that invoked cb. A panic
// raised outside cb, such as inside an archiver, is not recovered.
func SafeEnumerate(cb pfstypes.EnumerateCallback) pfstypes.EnumerateCallback {
	return func(userdata interface{}, origDir, name string) (result pfstypes.EnumerateResult) {
		defer func() {
			if r := recover(); r != nil {
				result = pfstypes.EnumerateError
			}
		}()
		return cb(userdata, origDir, name)
	}
}

// Config tunes Retryer's exponential backoff.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// DefaultConfig matches a sensible bound for retrying archive I/O: a few
// attempts, short delays, since PhysicsFS operations are local or
// network-mount I/O rather than a rate-limited remote API.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 20 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// OnRetry, if set, is called before each delay with the attempt number
// (1-based) and the error that triggered the retry.
type OnRetry func(attempt int, err error, delay time.Duration)

// Retryer retries an operation with exponential backoff, but only for
// errors pfserrors marks retryable — a CodeNotFound or CodeBadFilename
// will never succeed on a second attempt, so it's returned immediately.
type Retryer struct {
	config  Config
	onRetry OnRetry
}

// New builds a Retryer, filling any zero-valued Config fields from
// DefaultConfig.
func New(config Config, onRetry OnRetry) *Retryer {
	def := DefaultConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = def.InitialDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = def.MaxDelay
	}
	if config.Multiplier <= 0 {
		config.Multiplier = def.Multiplier
	}
	return &Retryer{config: config, onRetry: onRetry}
}

// Do runs fn, retrying up to MaxAttempts times while fn's error is marked
// retryable and ctx hasn't been canceled. It returns the last error seen.
func (r *Retryer) Do(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !pfserrors.IsRetryable(err) || attempt == r.config.MaxAttempts {
			return err
		}
		delay := r.delayFor(attempt)
		if r.onRetry != nil {
			r.onRetry(attempt, err, delay)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func (r *Retryer) delayFor(attempt int) time.Duration {
	d := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	if d > float64(r.config.MaxDelay) {
		d = float64(r.config.MaxDelay)
	}
	if r.config.Jitter {
		d = d * (0.5 + rand.Float64()*0.5)
	}
	return time.Duration(d)
}
