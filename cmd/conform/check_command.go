package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"conform/internal/deps"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check external tool availability and configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s\n", ctx.configPath)

			colorize := shouldColorize(out)
			statuses := deps.Check(cfg)
			rows := make([][]string, 0, len(statuses))
			allAvailable := true
			for _, status := range statuses {
				detail := status.Detail
				if status.Available {
					if version := deps.FFmpegVersion(cmd.Context(), status.Command); version != "" {
						detail = "version " + version
					}
				} else {
					allAvailable = false
				}
				rows = append(rows, []string{status.Name, status.Command, availabilityMark(status.Available, colorize), detail})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Tool", "Command", "Available", "Detail"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft},
			))

			if !allAvailable {
				return fmt.Errorf("missing required tools; install ffmpeg and ffprobe or set [tools] overrides")
			}
			fmt.Fprintf(out, "Target codec: %s\n", displayName(cfg.Transcode.TargetCodec))
			return nil
		},
	}
}
