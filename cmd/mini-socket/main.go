package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"mini-socket/client"
	"mini-socket/config"
	"mini-socket/interceptor"
	"mini-socket/loadbalance"
	"mini-socket/logging"
	"mini-socket/metrics"
	"mini-socket/registry"
	"mini-socket/transport"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	uriFlag     string
	serviceFlag string
	verbose     bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "mini-socket",
	Short: "Request/response multiplexing over one reconnecting websocket",
	Long: `mini-socket correlates requests and replies over a single websocket by requestId.

Settings come from the environment (SOCKET_*, LOG_*, RATE_LIMIT_*, ETCD_*, SERVER_*);
flags override the connection target.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&uriFlag, "uri", "", "Socket URI (overrides SOCKET_URI)")
	rootCmd.PersistentFlags().StringVar(&serviceFlag, "service", "", "Service to resolve through etcd (overrides SOCKET_SERVICE)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable debug logging")
}

// setup loads configuration and builds the logger.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if uriFlag != "" {
		cfg.Socket.URI = uriFlag
	}
	if serviceFlag != "" {
		cfg.Socket.Service = serviceFlag
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Development: cfg.Logging.Development})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return cfg, logger, nil
}

// openRegistry connects to etcd when endpoints are configured. The returned closer is never nil.
func openRegistry(cfg *config.Config, logger *zap.Logger) (registry.Registry, func(), error) {
	if !cfg.DiscoveryEnabled() {
		return nil, func() {}, nil
	}
	reg, err := registry.NewEtcdRegistry(cfg.Registry.Endpoints, cfg.Registry.DialTimeout, logger.Named("registry"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect etcd: %w", err)
	}
	return reg, func() { _ = reg.Close() }, nil
}

// dialClient builds a client from cfg and connects it to the configured URI or service.
func dialClient(ctx context.Context, cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) (*client.Client, func(), error) {
	opts, err := client.OptionsFromConfig(cfg, logger, m)
	if err != nil {
		return nil, nil, err
	}

	reg, closeRegistry, err := openRegistry(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	if reg != nil {
		resolver := loadbalance.NewAffinityResolver(reg, logger.Named("resolver"))
		opts = append(opts, client.WithInterceptorOptions(interceptor.WithResolver(resolver)))
	}

	dialer := transport.NewWSDialer(logger.Named("socket"))
	dialer.HandshakeTimeout = cfg.Socket.HandshakeTimeout
	dialer.PingInterval = cfg.Socket.PingInterval

	c := client.New(dialer, opts...)
	switch {
	case cfg.Socket.URI != "":
		err = c.Connect(ctx, cfg.Socket.URI)
	case cfg.Socket.Service != "":
		err = c.ConnectService(ctx, cfg.Socket.Service)
	default:
		err = fmt.Errorf("no target: set --uri, --service, SOCKET_URI or SOCKET_SERVICE")
	}
	if err != nil {
		closeRegistry()
		return nil, nil, err
	}

	return c, func() {
		_ = c.Close(context.Background())
		closeRegistry()
	}, nil
}

// serveMetrics exposes reg on addr/metrics in the background. An empty addr disables it.
func serveMetrics(addr string, reg prometheus.Gatherer, logger *zap.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Warn("metrics endpoint stopped", zap.Error(err))
		}
	}()
}
