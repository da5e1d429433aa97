package esbulk

import (
	"context"
	"log/slog"

	"github.com/seaward-systems/streamsift/internal/retry"
)

// RetryForever requests the unbounded first-submit mode: keep retrying until
// the transport succeeds, regardless of per-item errors.
const RetryForever = retry.Forever

// SendWithRetries runs send until accept is satisfied or the attempt budget
// runs out. With a bounded budget the last response is returned as-is, not
// as an error; only cancellation produces a non-nil error.
func SendWithRetries(
	ctx context.Context,
	send func(context.Context) Response,
	accept func(Response) bool,
	maxRetries int,
	log *slog.Logger,
) (Response, error) {
	policy := retry.DefaultPolicy()

	var last Response
	for attempt := 1; ; attempt++ {
		last = send(ctx)
		if accept(last) {
			return last, nil
		}
		if err := ctx.Err(); err != nil {
			return last, err
		}
		if maxRetries != RetryForever && attempt >= maxRetries {
			return last, nil
		}
		if log != nil && policy.ShouldLog(attempt) {
			log.Warn("bulk submit still failing",
				slog.Int("attempt", attempt),
				slog.String("kind", last.Kind.String()),
				slog.Int("status", last.StatusCode),
			)
		}
		if err := policy.Sleep(ctx, attempt); err != nil {
			return last, err
		}
	}
}
