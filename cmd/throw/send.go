package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Zereker/throw"
	"github.com/spf13/cobra"
)

var (
	sendShape   string
	sendTimeout time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send <command> [value...]",
	Short: "Send a float tensor and print the response",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data := make([]float32, 0, len(args)-1)
		for _, arg := range args[1:] {
			v, err := strconv.ParseFloat(arg, 32)
			if err != nil {
				return fmt.Errorf("invalid value %q: %w", arg, err)
			}
			data = append(data, float32(v))
		}

		width, height, depth, err := parseShape(sendShape, len(data))
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), sendTimeout)
		defer cancel()

		client, err := throw.Dial[float32, float32](ctx, cfg.HostPort(), cfg.NodeOptions(logger)...)
		if err != nil {
			return err
		}
		defer client.Close()

		response, err := client.Request(ctx, args[0], width, height, depth, data)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %v\n", response.Header, response.Data)
		return nil
	},
}

func init() {
	sendCmd.Flags().StringVar(&sendShape, "shape", "", "WxHxD (default 1x1xN)")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 10*time.Second, "round trip timeout")
}

// parseShape parses "WxHxD" and checks it against the number of values.
func parseShape(shape string, n int) (width, height, depth int, err error) {
	if shape == "" {
		return 1, 1, n, nil
	}
	parts := strings.Split(shape, "x")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("invalid shape %q, want WxHxD", shape)
	}
	dims := make([]int, 3)
	for i, p := range parts {
		dims[i], err = strconv.Atoi(p)
		if err != nil || dims[i] < 0 {
			return 0, 0, 0, fmt.Errorf("invalid shape %q, want WxHxD", shape)
		}
	}
	if dims[0]*dims[1]*dims[2] != n {
		return 0, 0, 0, fmt.Errorf("shape %q holds %d values, got %d", shape, dims[0]*dims[1]*dims[2], n)
	}
	return dims[0], dims[1], dims[2], nil
}
