package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"voice-gateway/internal/cache"
	"voice-gateway/internal/config"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the configured cache backend",
}

var cacheHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Print the backend health as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(cmd, func(store *cache.Store) error {
			h := store.Health()
			out := map[string]any{
				"backend":              store.Backend(),
				"state":                h.State.String(),
				"connected":            h.Connected,
				"consecutive_failures": h.ConsecutiveFailures,
				"last_change":          h.LastChange.Format(time.RFC3339),
			}
			if h.LastError != nil {
				out["last_error"] = h.LastError.Error()
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		})
	},
}

var cacheFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Delete every cached entry",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(cmd, func(store *cache.Store) error {
			if _, err := store.Flush(cmd.Context()); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "flushed (%s)\n", store.Backend())
			return err
		})
	},
}

var cachePurgeCmd = &cobra.Command{
	Use:     "purge <pattern>",
	Short:   "Delete entries whose key matches a glob",
	Example: "gateway cache purge 'conversations:u42:*'",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(store *cache.Store) error {
			n, err := store.DeleteByPattern(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted %d keys (%s)\n", n, store.Backend())
			return err
		})
	},
}

func init() {
	cacheCmd.AddCommand(cacheHealthCmd, cacheFlushCmd, cachePurgeCmd)
}

// withStore opens the store from the environment, runs fn and closes it.
func withStore(cmd *cobra.Command, fn func(store *cache.Store) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	store, err := cache.Open(cmd.Context(), cacheConfig(cfg), logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	return fn(store)
}
