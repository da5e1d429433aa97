// Package retry implements the backoff policy shared by the delivery paths:
// exponential delay starting at 100ms, capped at 5s, doubled only every
// tenth attempt.
package retry

import (
	"context"
	"log/slog"
	"time"
)

// Forever marks an unbounded attempt budget.
const Forever = -1

// DefaultAttempts is the bounded attempt budget used by the failed-item,
// quarantine, blob-write, and notification paths.
const DefaultAttempts = 10

// Policy describes the backoff schedule.
type Policy struct {
	Initial     time.Duration
	Max         time.Duration
	DoubleEvery int
}

// DefaultPolicy returns the pipeline-wide schedule.
func DefaultPolicy() Policy {
	return Policy{
		Initial:     100 * time.Millisecond,
		Max:         5 * time.Second,
		DoubleEvery: 10,
	}
}

// Delay returns the backoff before the given 1-based retry attempt.
func (p Policy) Delay(attempt int) time.Duration {
	d := p.Initial
	if p.DoubleEvery > 0 {
		for n := attempt / p.DoubleEvery; n > 0 && d < p.Max; n-- {
			d *= 2
		}
	}
	if d > p.Max {
		d = p.Max
	}
	return d
}

// ShouldLog reports whether the given attempt is one of the periodic
// attempts a log entry is emitted for.
func (p Policy) ShouldLog(attempt int) bool {
	return p.DoubleEvery > 0 && attempt%p.DoubleEvery == 0
}

// Sleep waits for the attempt's backoff delay, observing cancellation.
func (p Policy) Sleep(ctx context.Context, attempt int) error {
	timer := time.NewTimer(p.Delay(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do runs op until it succeeds or attempts are exhausted. attempts may be
// Forever. The last error is returned when the budget runs out.
func Do(ctx context.Context, attempts int, p Policy, log *slog.Logger, label string, op func(context.Context) error) error {
	var lastErr error
	for attempt := 1; ; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if attempts != Forever && attempt >= attempts {
			return lastErr
		}
		if log != nil && p.ShouldLog(attempt) {
			log.Warn("retrying operation",
				slog.String("op", label),
				slog.Int("attempt", attempt),
				slog.String("error", lastErr.Error()),
			)
		}
		if err := p.Sleep(ctx, attempt); err != nil {
			return err
		}
	}
}
