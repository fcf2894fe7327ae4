package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"conform/internal/backup"
	"conform/internal/batch"
	"conform/internal/config"
	"conform/internal/execute"
	"conform/internal/hwaccel"
	"conform/internal/loudnesscache"
	"conform/internal/rollback"
)

func newBatchCommand(ctx *commandContext) *cobra.Command {
	var dryRun bool
	var rollbackOnFailure bool

	cmd := &cobra.Command{
		Use:   "batch <library>",
		Short: "Conform every media file under a library root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger("conform.log")
			if err != nil {
				return err
			}

			root, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			if info, err := os.Stat(root); err != nil || !info.IsDir() {
				return fmt.Errorf("library root %s is not a directory", root)
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			var cache *loudnesscache.Store
			if cfg.Cache.Enabled && strings.TrimSpace(cfg.Cache.Path) != "" {
				store, err := loudnesscache.Open(cfg.Cache.Path)
				if err != nil {
					logger.Warn("loudness cache unavailable", "error", err.Error())
				} else {
					cache = store
					defer cache.Close()
				}
			}

			coordOpts := []batch.Option{}
			runnerOpts := []execute.Option{}
			if cfg.Backup.Enabled {
				runnerOpts = append(runnerOpts, execute.WithBackups(backup.NewManager(cfg.Backup.Suffix, logger)))
			}
			if cache != nil {
				runnerOpts = append(runnerOpts, execute.WithCache(cache))
				coordOpts = append(coordOpts, batch.WithCache(cache))
			}
			if cfg.Transcode.HardwareEncode {
				coordOpts = append(coordOpts, batch.WithSelector(hwaccel.NewSelector(cfg.FFmpegBinary(), logger)))
			}

			out := cmd.OutOrStdout()

			var manifest *rollback.Manager
			if !dryRun {
				manifest, err = rollback.NewManager(cfg.Paths.RollbackDir, "", logger)
				if err != nil {
					return err
				}
				runnerOpts = append(runnerOpts, execute.WithRollback(manifest))
				coordOpts = append(coordOpts, batch.WithRollback(manifest))
			}

			runner := execute.NewRunner(cfg, logger, runnerOpts...)
			coordinator := batch.New(cfg, logger, runner, coordOpts...)
			defer coordinator.Release()

			scan, err := coordinator.Scan(runCtx, root)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Scanned %s: %s\n", root, formatCount("media file", len(scan.Jobs)))

			if cfg.Loudness.Enabled {
				if _, err := coordinator.Analyze(runCtx); err != nil {
					return err
				}
			}

			selection, err := coordinator.Select(runCtx)
			if err != nil {
				return err
			}
			printSelection(cmd, selection)

			plan := coordinator.Plan()
			if len(plan.Estimates) == 0 {
				fmt.Fprintln(out, "Nothing to transcode")
				return nil
			}
			fmt.Fprintf(out, "Estimated output %s, disk required %s, time %s\n",
				formatBytes(plan.OutputBytes), formatBytes(plan.RequiredBytes), formatSeconds(plan.Seconds))
			if dryRun {
				return nil
			}

			if _, err := coordinator.Transcode(runCtx); err != nil {
				return err
			}

			results, summary := coordinator.Results()
			printResults(cmd, results)
			fmt.Fprintf(out, "Succeeded %d, failed %d, skipped %d, cancelled %d, aborted %d\n",
				summary.Succeeded, summary.Failed, summary.Skipped, summary.Cancelled, summary.Aborted)

			switch {
			case rollbackOnFailure && (summary.Failed > 0 || summary.Cancelled > 0 || summary.Aborted > 0):
				restored, errs := coordinator.RollbackBatch(runCtx)
				fmt.Fprintf(out, "Rolled back %d files\n", restored)
				for _, rbErr := range errs {
					fmt.Fprintf(out, "  rollback error: %v\n", rbErr)
				}
			case manifest != nil:
				if err := manifest.Purge(runCtx); err != nil {
					logger.Warn("failed to purge rollback scratch", "error", err.Error())
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Stop after selection and estimates")
	cmd.Flags().BoolVar(&rollbackOnFailure, "rollback-on-failure", false, "Restore every replaced file when any job fails")
	return cmd
}

func printSelection(cmd *cobra.Command, snap batch.Snapshot) {
	rows := make([][]string, 0, len(snap.Jobs))
	for _, job := range snap.Jobs {
		action := "skip"
		detail := job.Detail
		if job.Verdict.NeedsWork() && job.Status == batch.StatusPending {
			action = "transcode"
			detail = strings.Join(job.Verdict.Reasons, "; ")
		}
		rows = append(rows, []string{
			filepath.Base(job.Path),
			action,
			detail,
			formatBytes(job.Estimate.OutputBytes),
			formatSeconds(job.Estimate.Seconds),
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable(
		[]string{"File", "Action", "Reasons", "Est. Size", "Est. Time"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight},
	))
}

func printResults(cmd *cobra.Command, snap batch.Snapshot) {
	rows := make([][]string, 0, len(snap.Jobs))
	for _, job := range snap.Jobs {
		detail := job.Detail
		if job.Status == batch.StatusSucceeded {
			detail = filepath.Base(job.OutputPath)
		}
		rows = append(rows, []string{filepath.Base(job.Path), job.Status, detail})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable(
		[]string{"File", "Outcome", "Detail"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft},
	))
}
