package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"conform/internal/config"
	"conform/internal/loudnesscache"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the loudness measurement cache",
	}

	cacheCmd.AddCommand(newCacheStatsCommand(ctx))
	cacheCmd.AddCommand(newCachePruneCommand(ctx))

	return cacheCmd
}

func openCache(cfg *config.Config) (*loudnesscache.Store, error) {
	if !cfg.Cache.Enabled || strings.TrimSpace(cfg.Cache.Path) == "" {
		return nil, fmt.Errorf("loudness cache is disabled in configuration")
	}
	return loudnesscache.Open(cfg.Cache.Path)
}

func newCacheStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache entry counts and age range",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := openCache(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Cache path: %s\n", cfg.Cache.Path)
			fmt.Fprintf(out, "Entries: %d\n", stats.Entries)
			if stats.Entries > 0 {
				fmt.Fprintf(out, "Oldest: %s\n", humanize.Time(stats.Oldest))
				fmt.Fprintf(out, "Newest: %s\n", humanize.Time(stats.Newest))
			}
			return nil
		},
	}
}

func newCachePruneCommand(ctx *commandContext) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove cache entries older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := openCache(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			retention := days
			if retention <= 0 {
				retention = cfg.Cache.MaxAgeDays
			}
			if retention <= 0 {
				return fmt.Errorf("no retention window configured; pass --days")
			}

			cutoff := time.Now().AddDate(0, 0, -retention)
			removed, err := store.Prune(cmd.Context(), cutoff)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d entries older than %d days\n", removed, retention)
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "Override the configured retention window")
	return cmd
}
