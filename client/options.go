package client

import (
	"time"

	"mini-socket/codec"
	"mini-socket/config"
	"mini-socket/interceptor"
	"mini-socket/metrics"
	"mini-socket/middleware"

	"go.uber.org/zap"
)

const defaultRetryDelay = 50 * time.Millisecond

// OptionsFromConfig translates cfg into client options. m may be nil.
//
// The outbound pipeline is, outermost first: logging, retry, rate limit, timeout.
func OptionsFromConfig(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) ([]Option, error) {
	codecType, err := codec.ParseCodecType(cfg.Socket.Codec)
	if err != nil {
		return nil, err
	}

	mws := []middleware.Middleware{middleware.LoggingMiddleware(logger)}
	if cfg.RateLimit.Enabled {
		mws = append(mws,
			middleware.RetryMiddleware(3, defaultRetryDelay, logger),
			middleware.RateLimitMiddleware(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
		)
	}
	if cfg.Socket.RequestTimeout > 0 {
		mws = append(mws, middleware.TimeOutMiddleware(cfg.Socket.RequestTimeout))
	}

	return []Option{
		WithLogger(logger),
		WithMiddleware(mws...),
		WithInterceptorOptions(
			interceptor.WithCodec(codec.GetCodec(codecType)),
			interceptor.WithErrorPolicy(cfg.ErrorPolicy()),
			interceptor.WithReconnectDelay(cfg.Socket.ReconnectDelay),
			interceptor.WithMetrics(m),
		),
	}, nil
}
