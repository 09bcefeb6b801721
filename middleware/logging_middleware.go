package middleware

import (
	"context"
	"time"

	"mini-socket/action"
	"mini-socket/pending"

	"go.uber.org/zap"
)

func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, act action.Action) (*pending.Future, error) {
			start := time.Now()
			future, err := next(ctx, act)
			fields := []zap.Field{
				zap.String("action", act.Type()),
				zap.Duration("duration", time.Since(start)),
			}
			if future != nil {
				fields = append(fields, zap.Int64("requestId", future.ID()))
			}
			if err != nil {
				logger.Warn("dispatch failed", append(fields, zap.Error(err))...)
				return future, err
			}
			logger.Debug("dispatched", fields...)
			return future, nil
		}
	}
}
