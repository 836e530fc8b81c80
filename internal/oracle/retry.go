package oracle

import (
	"context"

	"go.uber.org/zap"

	"github.com/synapse-hq/synapse-sourcer/internal/scoring"
)

// AttemptFunc performs a single oracle call. It returns either a breakdown
// or a failure describing why this attempt did not produce one.
type AttemptFunc func(ctx context.Context) (*scoring.Breakdown, *Failure)

// Retry drives an attempt function under the backoff policy. Transient
// failures are retried up to the policy's attempt budget; unauthorized
// failures stop immediately. The returned failure carries the total number
// of attempts made.
func Retry(ctx context.Context, policy *Backoff, logger *zap.Logger, attempt AttemptFunc) (*scoring.Breakdown, error) {
	if policy == nil {
		policy = DefaultBackoff()
	}

	var last *Failure
	attempts := policy.maxAttempts()

	for n := 1; n <= attempts; n++ {
		if err := ctx.Err(); err != nil {
			return nil, failureFromContext(err, n-1)
		}

		breakdown, failure := attempt(ctx)
		if failure == nil {
			return breakdown, nil
		}

		failure.Attempts = n
		last = failure

		if !failure.Retryable() || n == attempts {
			break
		}

		logger.Debug("oracle attempt failed, backing off",
			zap.Int("attempt", n),
			zap.String("kind", string(failure.Kind)),
			zap.String("detail", failure.Detail),
		)

		if err := policy.Wait(ctx, n); err != nil {
			return nil, failureFromContext(err, n)
		}
	}

	return nil, last
}

func failureFromContext(err error, attempts int) *Failure {
	return &Failure{
		Kind:     FailureTimeout,
		Detail:   "canceled before completion",
		Attempts: attempts,
		Err:      err,
	}
}
