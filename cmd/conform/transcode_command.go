package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"conform/internal/backup"
	"conform/internal/config"
	"conform/internal/decision"
	"conform/internal/execute"
	"conform/internal/ffmpegcmd"
	"conform/internal/hwaccel"
	"conform/internal/loudness"
	"conform/internal/loudnesscache"
	"conform/internal/media/ffprobe"
)

func newTranscodeCommand(ctx *commandContext) *cobra.Command {
	var dryRun bool
	var force bool

	cmd := &cobra.Command{
		Use:   "transcode <file>",
		Short: "Conform a single media file to the target profile",
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

			path, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			desc, err := ffprobe.Describe(runCtx, cfg.FFprobeBinary(), path)
			if err != nil {
				return err
			}

			profile := decision.FromConfig(cfg)
			if force {
				profile.Force = true
			}
			verdict := decision.Decide(desc, profile)

			cache := openLoudnessCache(cfg, logger)
			if cache != nil {
				defer cache.Close()
			}

			// Mirror the batch selection rule: a file whose format already
			// conforms can still need work for loudness, but only when
			// measurements exist to prove it.
			var measured *loudness.Measurements
			targets := loudness.TargetsFromConfig(cfg)
			if cfg.Loudness.Enabled && desc.Audio != nil {
				if m, err := measureWithCache(runCtx, cfg, cache, desc.Path, targets); err != nil {
					logger.Warn("loudness analysis failed", slog.String("error", err.Error()))
				} else {
					measured = &m
				}
			}
			if !verdict.NeedsWork() && cfg.Loudness.Enabled && cfg.Transcode.Verification && measured != nil {
				if ok, reasons := loudness.Evaluate(*measured, targets, loudness.TolerancesFromConfig(cfg)); !ok {
					verdict.Action = decision.Transcode
					verdict.Reasons = append(verdict.Reasons, reasons...)
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "File: %s\n", path)
			fmt.Fprintf(out, "Current: %s\n", describeStreams(desc))
			if !verdict.NeedsWork() {
				fmt.Fprintln(out, "Already conforms; nothing to do")
				return nil
			}
			fmt.Fprintln(out, "Reasons:")
			for _, reason := range verdict.Reasons {
				fmt.Fprintf(out, "  - %s\n", reason)
			}
			if dryRun {
				return nil
			}

			req, err := prepareJob(runCtx, cfg, logger, desc, profile, measured)
			if err != nil {
				return err
			}

			opts := []execute.Option{}
			if cfg.Backup.Enabled {
				opts = append(opts, execute.WithBackups(backup.NewManager(cfg.Backup.Suffix, logger)))
			}
			if cache != nil {
				opts = append(opts, execute.WithCache(cache))
			}
			runner := execute.NewRunner(cfg, logger, opts...)

			result, err := runner.Transcode(runCtx, req)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Wrote %s in %s\n", result.OutputPath, result.Elapsed.Round(time.Second))
			if result.BackupPath != "" {
				fmt.Fprintf(out, "Original kept at %s\n", result.BackupPath)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report the decision without transcoding")
	cmd.Flags().BoolVar(&force, "force", false, "Re-encode even when the file already conforms")
	return cmd
}

func describeStreams(desc ffprobe.Descriptor) string {
	if desc.Video != nil {
		return fmt.Sprintf("%s %s %dx%d", desc.Video.Codec, desc.Container, desc.Video.Width, desc.Video.Height)
	}
	if desc.Audio != nil {
		return fmt.Sprintf("%s %s audio only", desc.Audio.Codec, desc.Container)
	}
	return desc.Container
}

func openLoudnessCache(cfg *config.Config, logger *slog.Logger) *loudnesscache.Store {
	if !cfg.Cache.Enabled || strings.TrimSpace(cfg.Cache.Path) == "" {
		return nil
	}
	store, err := loudnesscache.Open(cfg.Cache.Path)
	if err != nil {
		logger.Warn("loudness cache unavailable", slog.String("error", err.Error()))
		return nil
	}
	return store
}

// prepareJob resolves the encoder, accelerator, and loudness filter for one
// file. Audio-only sources skip encoder resolution entirely.
func prepareJob(ctx context.Context, cfg *config.Config, logger *slog.Logger, desc ffprobe.Descriptor, profile decision.Profile, measured *loudness.Measurements) (execute.Request, error) {
	req := execute.Request{
		Source:              desc,
		Codec:               profile.Codec,
		Settings:            cfg.CodecSettings(profile.Codec),
		Caps:                profile.Caps,
		DecodeRequested:     cfg.Transcode.HardwareDecode,
		ForceHardwareDecode: cfg.Transcode.ForceHWDecode,
	}

	if desc.Video != nil {
		var selector *hwaccel.Selector
		if cfg.Transcode.HardwareEncode || cfg.Transcode.HardwareDecode {
			selector = hwaccel.NewSelector(cfg.FFmpegBinary(), logger)
		}
		if cfg.Transcode.HardwareEncode {
			if sel, ok := selector.Select(ctx, profile.Codec, cfg.Transcode.PreferredAccels); ok {
				req.Hardware = &sel
			}
		}
		if req.Hardware == nil {
			encoder, err := ffmpegcmd.SoftwareEncoder(ctx, cfg.FFmpegBinary(), profile.Codec)
			if err != nil {
				return execute.Request{}, err
			}
			req.Encoder = encoder
			if cfg.Transcode.HardwareDecode {
				if accel, ok := selector.SelectDecoder(ctx, cfg.Transcode.PreferredAccels); ok {
					req.Decoder = &accel
				}
			}
		}
	}

	if cfg.Loudness.Enabled && measured != nil {
		targets := loudness.TargetsFromConfig(cfg)
		if ok, _ := loudness.Evaluate(*measured, targets, loudness.TolerancesFromConfig(cfg)); !ok {
			req.AudioFilter = loudness.Pass2Filter(targets, *measured)
		}
	}

	return req, nil
}

func measureWithCache(ctx context.Context, cfg *config.Config, cache *loudnesscache.Store, path string, targets loudness.Targets) (loudness.Measurements, error) {
	hash := loudness.SettingsHash(targets, cfg.Loudness.Preset)
	if cache != nil {
		if key, err := loudnesscache.KeyFor(path, hash); err == nil {
			if m, ok, err := cache.Get(ctx, key); err == nil && ok {
				return m, nil
			}
		}
	}
	m, err := loudness.Measure(ctx, cfg.FFmpegBinary(), path, targets)
	if err != nil {
		return loudness.Measurements{}, err
	}
	if cache != nil {
		if key, err := loudnesscache.KeyFor(path, hash); err == nil {
			_ = cache.Put(ctx, key, m)
		}
	}
	return m, nil
}
