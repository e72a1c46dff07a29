// Package retry decides which database errors are worth retrying and how
// long to wait between attempts.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/llehouerou/shelf/internal/logger"
	"github.com/llehouerou/shelf/internal/metrics"
)

var log = logger.WithName("retry")

// Policy is an exponential backoff schedule bounded by an attempt count.
// The zero value never retries.
type Policy struct {
	Initial     time.Duration // delay after the first failure
	Multiplier  float64       // growth per failure, values below 1 are treated as 1
	MaxDelay    time.Duration // per-attempt ceiling
	MaxAttempts int           // total attempts including the first
	Jitter      float64       // fraction of the delay that may be shaved off at random, in [0,1)
}

const (
	baseDelay = 10 * time.Millisecond
	capDelay  = time.Second
)

func preset(attempts int) Policy {
	return Policy{
		Initial:     baseDelay,
		Multiplier:  2,
		MaxDelay:    capDelay,
		MaxAttempts: attempts,
		Jitter:      0.25,
	}
}

// Schema is used while applying migrations at startup, when nothing else is
// waiting on the caller.
func Schema() Policy { return preset(15) }

// ScanWrite is used for each write of a scan pass.
func ScanWrite() Policy { return preset(6) }

// Read is used on interactive read paths.
func Read() Policy { return preset(3) }

// Default is the policy of a guard that was not given one.
func Default() Policy { return ScanWrite() }

// Next reports the delay to wait after failedAttempts consecutive failures,
// or false when the budget is spent.
func (p Policy) Next(failedAttempts int) (time.Duration, bool) {
	if failedAttempts < 1 || failedAttempts >= p.MaxAttempts {
		return 0, false
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.Initial) * math.Pow(mult, float64(failedAttempts-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter > 0 && p.Jitter < 1 {
		d -= d * p.Jitter * rand.Float64()
	}
	return time.Duration(d), true
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the SleepFunc used when none is supplied.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do runs op until it succeeds, fails with something other than a transient
// lock, or the policy is exhausted. Exhaustion yields an *ExhaustedError.
func Do(ctx context.Context, p Policy, sleep SleepFunc, op func() error) error {
	if sleep == nil {
		sleep = Sleep
	}
	for attempt := 1; ; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if Classify(err) != TransientLock {
			return err
		}
		delay, ok := p.Next(attempt)
		if !ok {
			metrics.LockExhausted.Inc()
			log.WithField("attempts", attempt).WithError(err).Warn("giving up on locked database")
			return &ExhaustedError{Attempts: attempt, Err: err}
		}
		metrics.LockRetries.Inc()
		log.WithField("attempt", attempt).WithField("delay", delay).Debug("database locked, retrying")
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}
