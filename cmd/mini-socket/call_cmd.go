package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"mini-socket/message"

	"github.com/spf13/cobra"
)

var callTimeout time.Duration

// callCmd sends one request and prints the reply.
var callCmd = &cobra.Command{
	Use:   "call TYPE [JSON-PAYLOAD]",
	Short: "Send a request and print its reply",
	Example: `  mini-socket call --uri ws://localhost:8080/ws PING
  mini-socket call --uri ws://localhost:8080/ws ECHO '{"hello":"world"}'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		msg, err := buildMessage(args)
		if err != nil {
			return err
		}
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, cancel := context.WithTimeout(cmd.Context(), callTimeout)
		defer cancel()

		c, closeClient, err := dialClient(ctx, cfg, logger, nil)
		if err != nil {
			return err
		}
		defer closeClient()

		reply, err := c.Call(ctx, msg)
		if reply != nil {
			out, _ := json.MarshalIndent(reply, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
		}
		return err
	},
}

// sendCmd sends one fire-and-forget message.
var sendCmd = &cobra.Command{
	Use:   "send TYPE [JSON-PAYLOAD]",
	Short: "Send a message without waiting for a reply",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		msg, err := buildMessage(args)
		if err != nil {
			return err
		}
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()

		c, closeClient, err := dialClient(cmd.Context(), cfg, logger, nil)
		if err != nil {
			return err
		}
		defer closeClient()

		if err := c.Send(cmd.Context(), msg); err != nil {
			return err
		}
		// the write is queued until the socket opens
		deadline := time.Now().Add(callTimeout)
		for !c.Connected() && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		if !c.Connected() {
			return fmt.Errorf("not connected after %s", callTimeout)
		}
		return nil
	},
}

// buildMessage turns "TYPE [JSON]" into {"type": TYPE, "payload": JSON}.
func buildMessage(args []string) (message.Message, error) {
	msg := message.Message{message.FieldType: args[0]}
	if len(args) == 2 {
		var payload any
		if err := json.Unmarshal([]byte(args[1]), &payload); err != nil {
			return nil, fmt.Errorf("invalid payload: %w", err)
		}
		msg["payload"] = payload
	}
	return msg, nil
}

func init() {
	rootCmd.AddCommand(callCmd, sendCmd)
	for _, cmd := range []*cobra.Command{callCmd, sendCmd} {
		cmd.Flags().DurationVar(&callTimeout, "timeout", 5*time.Second, "Time to wait for the connection and reply")
	}
}
