// Command throw runs and talks to throw protocol endpoints.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/Zereker/throw"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile  string
	address  string
	port     int
	logLevel string

	// Shared state set during PersistentPreRun
	cfg    throw.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "throw",
	Short: "Serve and query throw protocol endpoints",
	Long: `throw exchanges framed numeric tensors over TCP: a 52-byte header
(shape, element size, command) followed by the raw payload.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = throw.LoadConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Override config with flags
		if cmd.Flags().Changed("address") {
			cfg.Address = address
		}
		if cmd.Flags().Changed("port") {
			cfg.Port = port
		}
		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel = logLevel
		}

		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&address, "address", "", "listen or dial address (default from config)")
	rootCmd.PersistentFlags().IntVar(&port, "port", 0, "listen or dial port (default from config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")

	rootCmd.AddCommand(serveCmd, getCmd, sendCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
