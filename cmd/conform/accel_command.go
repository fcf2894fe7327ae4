package main

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"conform/internal/hwaccel"
)

func newAccelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "accel",
		Short: "Probe hardware accelerator availability for the target codec",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger("")
			if err != nil {
				return err
			}

			codec := cfg.Transcode.TargetCodec
			selector := hwaccel.NewSelector(cfg.FFmpegBinary(), logger)
			colorize := shouldColorize(cmd.OutOrStdout())

			rows := make([][]string, 0, len(hwaccel.Names()))
			for _, name := range hwaccel.Names() {
				accel, _ := hwaccel.Lookup(name)
				encoder, hasEncoder := accel.Encoder(codec)
				supported := accel.SupportsPlatform(runtime.GOOS)

				available := false
				if supported && hasEncoder {
					if sel, ok := selector.Select(cmd.Context(), codec, []string{name}); ok && sel.Accel.Name == name {
						available = true
					}
				}

				detail := ""
				switch {
				case !supported:
					detail = "unsupported on " + runtime.GOOS
				case !hasEncoder:
					detail = "no " + displayName(codec) + " encoder"
				}
				rows = append(rows, []string{
					displayName(name),
					encoder,
					strings.Join(accel.Platforms, ", "),
					availabilityMark(available, colorize),
					detail,
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Target codec: %s\n", displayName(codec))
			fmt.Fprintln(out, renderTable(
				[]string{"Accelerator", "Encoder", "Platforms", "Available", "Detail"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}
}
