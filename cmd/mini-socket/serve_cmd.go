package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mini-socket/message"
	"mini-socket/server"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	servePath       string
	shutdownTimeout time.Duration
)

// serveCmd runs the reference responder.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reference websocket server",
	Long: `Start a websocket server answering ECHO (replies with the request's payload) and PING,
exposing Prometheus metrics on /metrics and registering itself in etcd when ETCD_ENDPOINTS is set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()

		reg, closeRegistry, err := openRegistry(cfg, logger)
		if err != nil {
			return err
		}
		defer closeRegistry()

		opts := []server.Option{
			server.WithLogger(logger.Named("server")),
			server.WithErrorPolicy(cfg.ErrorPolicy()),
		}
		if reg != nil {
			advertise := cfg.Server.AdvertiseURI
			if advertise == "" {
				return fmt.Errorf("SERVER_ADVERTISE_URI is required with ETCD_ENDPOINTS")
			}
			opts = append(opts, server.WithRegistry(reg, cfg.Server.Service, advertise, cfg.Registry.TTL))
		}

		svr := server.NewServer(opts...)
		svr.Handle("ECHO", func(ctx context.Context, req message.Message) (message.Message, error) {
			return message.Message{"type": "ECHO_RESULT", "payload": req["payload"]}, nil
		})
		svr.Handle("PING", func(ctx context.Context, req message.Message) (message.Message, error) {
			return message.Message{"type": "PONG", "time": time.Now().UTC().Format(time.RFC3339Nano)}, nil
		})

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-stop
			logger.Info("shutting down")
			if err := svr.Shutdown(shutdownTimeout); err != nil {
				logger.Warn("shutdown", zap.Error(err))
			}
		}()

		return svr.Serve(cfg.Server.Addr, servePath, func(mux *http.ServeMux) {
			mux.Handle("/metrics", promhttp.Handler())
		})
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&servePath, "path", "/ws", "Websocket path")
	serveCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 5*time.Second, "Time allowed for in-flight requests on shutdown")
}
