package middleware

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"mini-socket/action"
	"mini-socket/pending"
)

var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitMiddleware 创建一个基于令牌桶算法的限流中间件
// Only server-bound actions consume tokens; lifecycle and inbound actions always pass.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, act action.Action) (*pending.Future, error) {
			if _, ok := act.(action.Send); ok && !limiter.Allow() {
				return nil, ErrRateLimited
			}
			return next(ctx, act)
		}
	}
}
