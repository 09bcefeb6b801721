package middleware

import (
	"context"
	"errors"
	"time"

	"mini-socket/action"
	"mini-socket/pending"

	"go.uber.org/zap"
)

// RetryMiddleware re-dispatches server-bound actions rejected by the rate limiter,
// backing off exponentially from baseDelay. Other errors are returned immediately.
func RetryMiddleware(maxRetries int, baseDelay time.Duration, logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, act action.Action) (*pending.Future, error) {
			future, err := next(ctx, act)
			for i := 0; i < maxRetries; i++ {
				if err == nil || !errors.Is(err, ErrRateLimited) {
					return future, err
				}
				delay := baseDelay * time.Duration(1<<i)
				logger.Debug("retrying dispatch",
					zap.Int("attempt", i+1),
					zap.String("action", act.Type()),
					zap.Duration("delay", delay),
					zap.Error(err),
				)
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(delay):
				}
				future, err = next(ctx, act)
			}
			return future, err
		}
	}
}
