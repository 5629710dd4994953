package machine

import (
	"context"
	"time"
)

// DefaultPollInterval is the fixed delay between poll attempts.
const DefaultPollInterval = time.Second

// Poll invokes fn on a fixed interval until it reports done or returns
// an error. There is deliberately no built-in timeout: the loop runs
// until success, a non-retryable error, or cancellation of ctx. Callers
// wanting a bound attach one via context.WithTimeout.
func Poll(ctx context.Context, interval time.Duration, fn func(ctx context.Context) (done bool, err error)) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	// First attempt runs immediately; published facts are often already
	// available on re-invocation.
	done, err := fn(ctx)
	if err != nil || done {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			done, err := fn(ctx)
			if err != nil || done {
				return err
			}
		}
	}
}
