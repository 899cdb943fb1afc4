package sources

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// retryTransient runs op under the shared exponential policy for source
// transports: 1s base, doubling, capped at 30s between attempts, at most
// maxRetries retries after the first attempt. op signals a non-retryable
// failure (4xx, undecodable payload) by returning backoff.Permanent.
// Cancelling ctx stops the retry loop between attempts.
func retryTransient(ctx context.Context, maxRetries int, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.Multiplier = 2
	policy.MaxInterval = 30 * time.Second
	policy.MaxElapsedTime = 0

	if maxRetries < 0 {
		maxRetries = 0
	}
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(maxRetries)), ctx))
}
