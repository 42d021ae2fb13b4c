package remoteexec

import (
	"context"
	"time"

	"github.com/shipfleet/voyage/pkg/log"
	"github.com/shipfleet/voyage/pkg/voyageerr"
)

// RetryPolicy bounds exponential backoff for idempotent remote calls
// (list, read, destroy), per the error-handling design: transport errors
// are retried with bounded exponential backoff before being surfaced.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy is used by fleet operations and provider backends for
// idempotent calls.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 5,
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    10 * time.Second,
}

// WithRetry runs fn, retrying on ConnectError/Timeout kinds up to
// MaxAttempts with exponential backoff capped at MaxDelay. Any other error
// kind (or an unwrapped error) is returned immediately: only transport
// errors on idempotent operations are worth retrying.
func WithRetry(ctx context.Context, policy RetryPolicy, voyageID, op string, fn func() error) error {
	delay := policy.BaseDelay
	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		kind, ok := voyageerr.KindOf(lastErr)
		if !ok || (kind != voyageerr.ConnectError && kind != voyageerr.Timeout) {
			return lastErr
		}

		if attempt == policy.MaxAttempts {
			break
		}

		retryLogger := log.WithComponent("remoteexec").With().
			Str("op", op).
			Str("voyage_id", voyageID).
			Int("attempt", attempt).
			Logger()
		log.Fault(retryLogger, lastErr, "retrying after transport error", true)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}

	return lastErr
}
