package pactverifier

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"
)

var errNotDone = errors.New("not done")

// retryFor calls do every delay until it returns true, duration passes or ctx is done. do is given
// the time left. It reports whether do succeeded.
func retryFor(ctx context.Context, do func(time.Duration) bool, delay, duration time.Duration) bool {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	err := retry.Do(func() error {
		if !do(duration - time.Since(start)) {
			return errNotDone
		}
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	return err == nil
}
