package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Zereker/throw"
	"github.com/Zereker/throw/bufstore"
	"github.com/spf13/cobra"
)

var (
	getOutput  string
	getTimeout time.Duration
)

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Fetch the latest buffer stored under key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), getTimeout)
		defer cancel()

		client, err := throw.Dial[float32, byte](ctx, cfg.HostPort(), cfg.NodeOptions(logger)...)
		if err != nil {
			return err
		}
		defer client.Close()

		command := bufstore.ActionGet + ":" + args[0]
		response, err := client.Request(ctx, command, 0, 0, 0, nil)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s %d bytes\n", response.Command(), response.Len())
		if response.Command() != bufstore.StatusOK || getOutput == "" {
			return nil
		}
		return os.WriteFile(getOutput, response.Data, 0o644)
	},
}

func init() {
	getCmd.Flags().StringVarP(&getOutput, "output", "o", "", "write the payload to this file")
	getCmd.Flags().DurationVar(&getTimeout, "timeout", 10*time.Second, "round trip timeout")
}
