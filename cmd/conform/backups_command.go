package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"conform/internal/backup"
	"conform/internal/config"
)

func newBackupsCommand(ctx *commandContext) *cobra.Command {
	backupsCmd := &cobra.Command{
		Use:   "backups",
		Short: "Manage persistent backups left by transcodes",
	}

	backupsCmd.AddCommand(newBackupsListCommand(ctx))
	backupsCmd.AddCommand(newBackupsRestoreCommand(ctx))
	backupsCmd.AddCommand(newBackupsDeleteCommand(ctx))

	return backupsCmd
}

func newBackupsListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list <dir>",
		Short: "List backups under a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			root, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}

			manager := backup.NewManager(cfg.Backup.Suffix, nil)
			backups, err := manager.List(root)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(backups) == 0 {
				fmt.Fprintln(out, "No backups found")
				return nil
			}
			rows := make([][]string, 0, len(backups))
			for _, path := range backups {
				size := "-"
				if info, err := os.Stat(path); err == nil {
					size = formatBytes(info.Size())
				}
				rows = append(rows, []string{path, manager.RestoredPathFor(path), size})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Backup", "Restores To", "Size"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight},
			))
			return nil
		},
	}
}

func newBackupsRestoreCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <backup>",
		Short: "Restore a backup over its active file",
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
			backupPath, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			manager := backup.NewManager(cfg.Backup.Suffix, logger)
			restored, err := manager.Restore(runCtx, backupPath, manager.RestoredPathFor(backupPath))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored %s\n", restored)
			return nil
		},
	}
}

func newBackupsDeleteCommand(ctx *commandContext) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "delete <backup>... | --all <dir>",
		Short: "Delete backups",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger("conform.log")
			if err != nil {
				return err
			}
			manager := backup.NewManager(cfg.Backup.Suffix, logger)

			targets := args
			if all {
				root, err := config.ExpandPath(args[0])
				if err != nil {
					return err
				}
				targets, err = manager.List(root)
				if err != nil {
					return err
				}
			} else {
				for i, arg := range args {
					expanded, err := config.ExpandPath(arg)
					if err != nil {
						return err
					}
					targets[i] = expanded
				}
			}

			deleted, errs := manager.DeleteAll(targets)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Deleted %s\n", formatCount("backup", deleted))
			for _, delErr := range errs {
				fmt.Fprintf(out, "  error: %v\n", delErr)
			}
			if len(errs) > 0 {
				return fmt.Errorf("%d backups could not be deleted", len(errs))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Delete every backup under the given directory")
	return cmd
}
