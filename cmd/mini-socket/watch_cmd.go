package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"mini-socket/action"
	"mini-socket/client"
	"mini-socket/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

var metricsAddr string

// watchCmd prints every action the connection produces until interrupted.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stay connected and print socket events and inbound messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		m := metrics.New(reg)
		serveMetrics(metricsAddr, reg, logger)

		c, closeClient, err := dialClient(cmd.Context(), cfg, logger, m)
		if err != nil {
			return err
		}
		defer closeClient()

		out := cmd.OutOrStdout()
		c.Subscribe(func(act action.Action, state client.State) {
			line, _ := json.Marshal(action.Encode(act))
			fmt.Fprintf(out, "%s connected=%t\n", line, state.Connected)
		})

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Expose interceptor metrics on this address, e.g. :9100")
}
