package middleware

import (
	"context"
	"errors"
	"time"

	"mini-socket/action"
	"mini-socket/pending"
)

// ErrRequestTimeout is attached to the cancellation of requests that outlived their timeout.
var ErrRequestTimeout = errors.New("request timed out")

// TimeOutMiddleware cancels any request whose reply has not arrived within timeout.
// The cancellation goes through the normal path, so the peer is told and a late reply is dropped.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, act action.Action) (*pending.Future, error) {
			future, err := next(ctx, act)
			if err != nil || future == nil || timeout <= 0 {
				return future, err
			}

			go func() {
				timer := time.NewTimer(timeout)
				defer timer.Stop()
				select {
				case <-future.Done():
				case <-timer.C:
					future.CancelCause(ErrRequestTimeout)
				}
			}()
			return future, nil
		}
	}
}
