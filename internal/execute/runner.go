package execute

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"conform/internal/backup"
	"conform/internal/config"
	"conform/internal/decision"
	"conform/internal/ffmpegcmd"
	"conform/internal/fileutil"
	"conform/internal/hwaccel"
	"conform/internal/logging"
	"conform/internal/loudnesscache"
	"conform/internal/media/ffprobe"
	"conform/internal/rollback"
	"conform/internal/services"
	"conform/internal/syncmeta"
)

const stderrTailLines = 12

var (
	freeSpace = fileutil.FreeSpace
	describe  = ffprobe.Describe
)

// Request describes one transcode job for the runner. The command builder
// receives everything except Output, which the runner derives from the
// source path and target container.
type Request struct {
	JobID               string
	Source              ffprobe.Descriptor
	Codec               string
	Encoder             string
	Settings            config.Codec
	Caps                decision.Caps
	Hardware            *hwaccel.Selection
	Decoder             *hwaccel.Accelerator
	DecodeRequested     bool
	ForceHardwareDecode bool
	AudioFilter         string
}

// Result reports a completed transcode.
type Result struct {
	OutputPath string
	BackupPath string
	Elapsed    time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithBackups enables the move-aside backup step during finalize.
func WithBackups(m *backup.Manager) Option {
	return func(r *Runner) { r.backups = m }
}

// WithRollback records every replacement in the given manifest before it
// happens.
func WithRollback(m *rollback.Manager) Option {
	return func(r *Runner) { r.rollback = m }
}

// WithCache invalidates cached loudness measurements for replaced files.
func WithCache(store *loudnesscache.Store) Option {
	return func(r *Runner) { r.cache = store }
}

// WithSyncMeta sets the collaborator notified after each finalize.
func WithSyncMeta(updater syncmeta.Updater) Option {
	return func(r *Runner) { r.sync = updater }
}

// Runner executes transcode jobs end to end: preflight, encode, verify,
// finalize.
type Runner struct {
	cfg      *config.Config
	logger   *slog.Logger
	backups  *backup.Manager
	rollback *rollback.Manager
	cache    *loudnesscache.Store
	sync     syncmeta.Updater
}

// NewRunner constructs a Runner. A nil logger disables logging.
func NewRunner(cfg *config.Config, logger *slog.Logger, opts ...Option) *Runner {
	r := &Runner{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "execute"),
		sync:   syncmeta.Noop{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Transcode runs one job. The temp output is removed on every failure path;
// the source file is only touched once the encode has fully succeeded.
func (r *Runner) Transcode(ctx context.Context, req Request) (Result, error) {
	source := strings.TrimSpace(req.Source.Path)
	if source == "" {
		return Result{}, services.Wrap(services.ErrValidation, "execute", "transcode", "source path required", nil)
	}
	if _, err := os.Stat(source); err != nil {
		return Result{}, services.Wrap(services.ErrValidation, "execute", "transcode", "source unavailable", err)
	}
	if err := r.preflight(source); err != nil {
		return Result{}, err
	}

	ctx = services.WithJobID(ctx, req.JobID)
	ctx = services.WithPhase(ctx, "transcode")
	logger := r.logger.With(
		logging.String(logging.FieldPath, source),
		logging.String(logging.FieldCodec, req.Codec),
	)

	// Standalone audio keeps its container; only video jobs may remux.
	container := req.Settings.Container
	if req.Source.Video == nil {
		container = req.Source.Container
	}
	finalPath := fileutil.OutputPath(source, container)
	tempPath := fileutil.TempOutputPath(source, container)

	cmd, err := ffmpegcmd.Build(ffmpegcmd.Request{
		Input:               req.Source,
		Output:              tempPath,
		Codec:               req.Codec,
		Encoder:             encoderFor(req),
		Settings:            req.Settings,
		Caps:                req.Caps,
		Hardware:            req.Hardware,
		Decoder:             req.Decoder,
		DecodeRequested:     req.DecodeRequested,
		ForceHardwareDecode: req.ForceHardwareDecode,
		AudioFilter:         req.AudioFilter,
		Audio:               r.cfg.Audio,
	})
	if err != nil {
		return Result{}, err
	}

	logger.InfoContext(ctx, "starting transcode",
		logging.String(logging.FieldContainer, container),
		logging.String("output", finalPath),
		logging.Bool("hardware_decode", cmd.UsedHardwareDecode),
	)

	started := time.Now()
	if err := r.runFFmpeg(ctx, cmd.Args, req.Source.Duration, logger); err != nil {
		removeTemp(tempPath, logger)
		return Result{}, err
	}
	elapsed := time.Since(started)

	if r.cfg.Transcode.Verification {
		verifyErr := error(nil)
		if req.Source.Video == nil {
			verifyErr = r.verifyAudio(ctx, tempPath)
		} else {
			verifyErr = r.verify(ctx, tempPath, req.Codec)
		}
		if verifyErr != nil {
			removeTemp(tempPath, logger)
			return Result{}, verifyErr
		}
	}

	backupPath, err := r.finalize(ctx, req.JobID, source, tempPath, finalPath, logger)
	if err != nil {
		removeTemp(tempPath, logger)
		return Result{}, err
	}

	r.invalidateCache(ctx, source, finalPath, logger)
	r.notifySync(ctx, req.JobID, finalPath, logger)

	logger.InfoContext(ctx, "transcode complete",
		logging.String("output", finalPath),
		logging.String("elapsed", elapsed.Round(time.Second).String()),
	)
	return Result{OutputPath: finalPath, BackupPath: backupPath, Elapsed: elapsed}, nil
}

func encoderFor(req Request) string {
	if req.Hardware != nil {
		return req.Hardware.Encoder
	}
	return req.Encoder
}

func (r *Runner) preflight(source string) error {
	minFree := int64(r.cfg.Transcode.MinFreeSpaceMB) * 1024 * 1024
	if minFree <= 0 {
		return nil
	}
	free, err := freeSpace(filepath.Dir(source))
	if err != nil {
		// Unknown filesystems report no usage data; proceed rather than
		// refusing work we cannot measure.
		return nil
	}
	if int64(free) < minFree {
		return services.Wrap(services.ErrValidation, "execute", "preflight",
			fmt.Sprintf("insufficient free space: %d MB available, %d MB required", free/1024/1024, r.cfg.Transcode.MinFreeSpaceMB), nil)
	}
	return nil
}

// runFFmpeg starts ffmpeg and reads its stderr synchronously, decoding stats
// lines into throttled progress logs. Cancellation and timeout share the same
// termination path: interrupt, wait out the grace window, then kill the
// process group.
func (r *Runner) runFFmpeg(ctx context.Context, args []string, duration float64, logger *slog.Logger) error {
	runCtx := ctx
	var cancel context.CancelFunc
	if timeout := time.Duration(r.cfg.Transcode.TimeoutSeconds) * time.Second; timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.Command(r.cfg.FFmpegBinary(), args...) //nolint:gosec
	configureProcAttr(cmd)
	cmd.Stdout = io.Discard
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "execute", "ffmpeg", "stderr pipe", err)
	}
	if err := cmd.Start(); err != nil {
		return services.Wrap(services.ErrExternalTool, "execute", "ffmpeg", "start ffmpeg", err)
	}

	grace := time.Duration(r.cfg.Transcode.GraceSeconds) * time.Second
	done := make(chan struct{})
	go func() {
		select {
		case <-runCtx.Done():
			terminate(cmd, grace, done)
		case <-done:
		}
	}()

	sampler := logging.NewProgressSampler(5, 5*time.Second)
	var tail []string
	scanner := bufio.NewScanner(stderr)
	scanner.Split(splitStatusLines)
	for scanner.Scan() {
		line := scanner.Text()
		if s, ok := parseStats(line); ok {
			percent := percentOf(s.Seconds, duration)
			if sampler.ShouldLog(percent) {
				logger.InfoContext(ctx, "transcode progress",
					logging.Float64("percent", percent),
					logging.Float64("fps", s.FPS),
					logging.Float64("speed", s.Speed),
				)
			}
			continue
		}
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			tail = append(tail, trimmed)
			if len(tail) > stderrTailLines {
				tail = tail[1:]
			}
		}
	}

	waitErr := cmd.Wait()
	close(done)

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		return services.Wrap(services.ErrTimeout, "execute", "ffmpeg",
			fmt.Sprintf("transcode exceeded %ds timeout", r.cfg.Transcode.TimeoutSeconds), nil)
	case ctx.Err() != nil:
		return services.Wrap(services.ErrCancelled, "execute", "ffmpeg", "transcode cancelled", ctx.Err())
	case waitErr != nil:
		detail := strings.Join(tail, "; ")
		if detail == "" {
			detail = waitErr.Error()
		}
		return services.Wrap(services.ErrExternalTool, "execute", "ffmpeg", detail, waitErr)
	}
	return nil
}

// terminate interrupts the encode and escalates to a hard kill when the
// process is still alive after the grace window.
func terminate(cmd *exec.Cmd, grace time.Duration, done <-chan struct{}) {
	if cmd.Process == nil {
		return
	}
	if err := interruptProcess(cmd); err != nil {
		_ = killProcess(cmd)
		return
	}
	if grace <= 0 {
		grace = 5 * time.Second
	}
	select {
	case <-done:
	case <-time.After(grace):
		_ = killProcess(cmd)
	}
}

// verify re-probes the finished temp output and confirms it carries a video
// stream in the requested codec.
func (r *Runner) verify(ctx context.Context, tempPath, codec string) error {
	desc, err := describe(ctx, r.cfg.FFprobeBinary(), tempPath)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "execute", "verify", "probe transcoded output", err)
	}
	if desc.Video == nil {
		return services.Wrap(services.ErrExternalTool, "execute", "verify", "transcoded output has no video stream", nil)
	}
	if want := strings.ToLower(strings.TrimSpace(codec)); desc.Video.Codec != want {
		return services.Wrap(services.ErrExternalTool, "execute", "verify",
			fmt.Sprintf("transcoded output codec %q, expected %q", desc.Video.Codec, want), nil)
	}
	return nil
}

// verifyAudio re-probes a standalone audio output. The codec only gets
// checked against an explicitly configured target; otherwise the container's
// native codec is whatever the source carried.
func (r *Runner) verifyAudio(ctx context.Context, tempPath string) error {
	desc, err := describe(ctx, r.cfg.FFprobeBinary(), tempPath)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "execute", "verify", "probe transcoded output", err)
	}
	if desc.Audio == nil {
		return services.Wrap(services.ErrExternalTool, "execute", "verify", "transcoded output has no audio stream", nil)
	}
	if want := strings.ToLower(strings.TrimSpace(r.cfg.Audio.Codec)); want != "" && desc.Audio.Codec != want {
		return services.Wrap(services.ErrExternalTool, "execute", "verify",
			fmt.Sprintf("transcoded output audio codec %q, expected %q", desc.Audio.Codec, want), nil)
	}
	return nil
}

// finalize replaces the source with the finished encode: record the rollback
// entry while the source is still intact, move the original aside as its
// backup, then rename the temp output over the destination.
func (r *Runner) finalize(ctx context.Context, jobID, source, tempPath, finalPath string, logger *slog.Logger) (string, error) {
	backupPath := ""
	if r.backups != nil {
		backupPath = r.backups.PathFor(source)
	} else if found, ok := backup.NewManager(r.cfg.Backup.Suffix, nil).Find(source, ""); ok {
		// No backups this run, but a previous run left one; the rollback
		// manifest still needs to know about it.
		backupPath = found
	}

	if r.rollback != nil {
		if err := r.rollback.Record(ctx, jobID, source, finalPath, backupPath); err != nil {
			return "", err
		}
	}

	if r.backups != nil {
		created, err := r.backups.Create(ctx, source)
		if err != nil {
			return "", err
		}
		backupPath = created
	}

	if err := fileutil.ReplaceFile(tempPath, finalPath); err != nil {
		if r.backups != nil && backupPath != "" {
			if _, restoreErr := r.backups.Restore(ctx, backupPath, source); restoreErr != nil {
				logger.ErrorContext(ctx, "failed to restore original after finalize error", logging.Error(restoreErr))
			}
		}
		return "", services.Wrap(services.ErrTransient, "execute", "finalize", "replace destination", err)
	}

	if r.backups == nil && finalPath != source {
		if err := os.Remove(source); err != nil {
			logger.WarnContext(ctx, "failed to remove original after container change", logging.Error(err))
		}
	}
	return backupPath, nil
}

func (r *Runner) invalidateCache(ctx context.Context, source, finalPath string, logger *slog.Logger) {
	if r.cache == nil {
		return
	}
	paths := []string{source}
	if finalPath != source {
		paths = append(paths, finalPath)
	}
	for _, path := range paths {
		if err := r.cache.Invalidate(ctx, path); err != nil {
			logger.WarnContext(ctx, "failed to invalidate loudness cache", logging.String(logging.FieldPath, path), logging.Error(err))
		}
	}
}

func (r *Runner) notifySync(ctx context.Context, jobID, finalPath string, logger *slog.Logger) {
	if r.sync == nil {
		return
	}
	update := syncmeta.Update{ResourceID: jobID, Filename: finalPath}
	if info, err := os.Stat(finalPath); err == nil {
		update.ModTime = info.ModTime()
	}
	if err := r.sync.SyncMeta(ctx, update); err != nil {
		logger.WarnContext(ctx, "sync metadata update failed", logging.Error(err))
	}
}

func removeTemp(tempPath string, logger *slog.Logger) {
	if err := os.Remove(tempPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to remove temp output", logging.String(logging.FieldPath, tempPath), logging.Error(err))
	}
}
