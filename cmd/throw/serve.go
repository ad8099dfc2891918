package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Zereker/throw"
	"github.com/Zereker/throw/bufstore"
	"github.com/spf13/cobra"
)

var serveBuffers []string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept one controller at a time and answer its requests",
	Long: `serve listens on the configured address and answers "get:<key>"
with the buffers loaded through --buffer key=path.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		store, err := loadBuffers(serveBuffers)
		if err != nil {
			return err
		}
		return serveStore(ctx, store)
	},
}

func init() {
	serveCmd.Flags().StringArrayVar(&serveBuffers, "buffer", nil, "key=path of a file served under key (repeatable)")
}

// loadBuffers reads every key=path pair into a new store.
func loadBuffers(pairs []string) (*bufstore.Store, error) {
	store := bufstore.New()
	for _, pair := range pairs {
		key, path, ok := strings.Cut(pair, "=")
		if !ok || key == "" || path == "" {
			return nil, fmt.Errorf("invalid --buffer %q, want key=path", pair)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read buffer %s: %w", key, err)
		}
		store.Put(key, data)
	}
	return store, nil
}

func serveStore(ctx context.Context, store *bufstore.Store) error {
	addr, err := cfg.TCPAddr()
	if err != nil {
		return err
	}
	manager, err := throw.NewManager[float32, byte](addr, cfg.ManagerOptions(logger)...)
	if err != nil {
		return err
	}
	manager.SetActiveCallback(bufstore.Handler[float32](store))
	logger.Info("serving buffers", "keys", store.Keys())
	return ignoreCanceled(ctx, manager.Serve(ctx))
}

// ignoreCanceled hides the error produced by a signal-driven shutdown.
func ignoreCanceled(ctx context.Context, err error) error {
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
