package batch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"conform/internal/backup"
	"conform/internal/config"
	"conform/internal/decision"
	"conform/internal/estimate"
	"conform/internal/execute"
	"conform/internal/ffmpegcmd"
	"conform/internal/hwaccel"
	"conform/internal/logging"
	"conform/internal/loudness"
	"conform/internal/loudnesscache"
	"conform/internal/media/ffprobe"
	"conform/internal/rollback"
	"conform/internal/services"
)

// Phase names the steps a batch moves through.
type Phase string

const (
	PhaseScan      Phase = "scan"
	PhaseAnalysis  Phase = "analysis"
	PhaseSelection Phase = "selection"
	PhaseTranscode Phase = "transcode"
	PhaseResults   Phase = "results"
)

var phaseOrder = []Phase{PhaseScan, PhaseAnalysis, PhaseSelection, PhaseTranscode, PhaseResults}

func phaseIndex(phase Phase) int {
	for i, p := range phaseOrder {
		if p == phase {
			return i
		}
	}
	return -1
}

// Job statuses.
const (
	StatusPending   = "pending"
	StatusSkipped   = "skipped"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
	StatusAborted   = "aborted"
)

// Job is one file moving through the batch.
type Job struct {
	ID           string
	Path         string
	Descriptor   ffprobe.Descriptor
	Verdict      decision.Verdict
	Measurements *loudness.Measurements
	Estimate     estimate.Estimate
	Status       string
	Detail       string
	OutputPath   string
	BackupPath   string
}

// Snapshot is the immutable result of a completed phase.
type Snapshot struct {
	Phase   Phase
	TakenAt time.Time
	Jobs    []Job
}

// Summary aggregates batch outcomes.
type Summary struct {
	Total      int
	Succeeded  int
	Failed     int
	Skipped    int
	Cancelled  int
	Aborted    int
	RolledBack int
}

// Transcoder runs one prepared job. *execute.Runner satisfies it.
type Transcoder interface {
	Transcode(ctx context.Context, req execute.Request) (execute.Result, error)
}

var (
	probe          = ffprobe.Describe
	measure        = loudness.Measure
	resolveEncoder = ffmpegcmd.SoftwareEncoder
)

var mediaExtensions = map[string]struct{}{
	".mkv":  {},
	".mp4":  {},
	".m4v":  {},
	".mov":  {},
	".avi":  {},
	".webm": {},
	".mpg":  {},
	".mpeg": {},
	".ts":   {},
	".wmv":  {},
	".mp3":  {},
	".m4a":  {},
	".flac": {},
	".ogg":  {},
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithSelector enables hardware accelerator selection for jobs.
func WithSelector(selector *hwaccel.Selector) Option {
	return func(c *Coordinator) { c.selector = selector }
}

// WithCache reuses stored loudness measurements during analysis.
func WithCache(store *loudnesscache.Store) Option {
	return func(c *Coordinator) { c.cache = store }
}

// WithRollback counts restored files into the batch summary.
func WithRollback(m *rollback.Manager) Option {
	return func(c *Coordinator) { c.rollbackMgr = m }
}

// WithBatchID overrides the generated batch identifier.
func WithBatchID(id string) Option {
	return func(c *Coordinator) {
		if strings.TrimSpace(id) != "" {
			c.id = id
		}
	}
}

// Coordinator drives a batch through its phases. Jobs run sequentially in
// scan order; each phase produces an immutable snapshot that is reused when
// the phase is revisited.
type Coordinator struct {
	cfg         *config.Config
	logger      *slog.Logger
	runner      Transcoder
	selector    *hwaccel.Selector
	cache       *loudnesscache.Store
	rollbackMgr *rollback.Manager
	registry    *Registry

	id   string
	lock *flock.Flock

	mu        sync.Mutex
	jobs      []*Job
	snapshots map[Phase]Snapshot
	summary   Summary
}

// New constructs a batch coordinator.
func New(cfg *config.Config, logger *slog.Logger, runner Transcoder, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:       cfg,
		runner:    runner,
		id:        uuid.NewString(),
		registry:  newRegistry(),
		snapshots: make(map[Phase]Snapshot),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.NewComponentLogger(logger, "batch").With(logging.String(logging.FieldBatchID, c.id))
	return c
}

// ID returns the batch identifier.
func (c *Coordinator) ID() string { return c.id }

// Registry exposes per-job cancellation.
func (c *Coordinator) Registry() *Registry { return c.registry }

// Scan walks the library root, probes every media file, and records the scan
// snapshot. The library lock is held from here until Release.
func (c *Coordinator) Scan(ctx context.Context, root string) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if snap, ok := c.snapshots[PhaseScan]; ok {
		return snap, nil
	}

	if err := c.acquireLock(root); err != nil {
		return Snapshot{}, err
	}

	paths, err := c.collectPaths(root)
	if err != nil {
		return Snapshot{}, services.Wrap(services.ErrTransient, "batch", "scan", "walk library", err)
	}

	c.jobs = c.jobs[:0]
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return Snapshot{}, services.Wrap(services.ErrCancelled, "batch", "scan", "scan cancelled", err)
		}
		job := &Job{ID: uuid.NewString(), Path: path, Status: StatusPending}
		desc, err := probe(ctx, c.cfg.FFprobeBinary(), path)
		if err != nil {
			job.Status = StatusFailed
			job.Detail = err.Error()
			c.logger.Warn("probe failed", logging.String(logging.FieldPath, path), logging.Error(err))
		} else {
			job.Descriptor = desc
		}
		c.jobs = append(c.jobs, job)
	}

	c.logger.Info("library scan complete", logging.Int("files", len(c.jobs)))
	return c.snapshot(PhaseScan), nil
}

// Analyze measures loudness for every scanned file, consulting the cache
// first. Cache errors downgrade to misses; they never fail an item.
func (c *Coordinator) Analyze(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if snap, ok := c.snapshots[PhaseAnalysis]; ok {
		return snap, nil
	}
	if _, ok := c.snapshots[PhaseScan]; !ok {
		return Snapshot{}, services.Wrap(services.ErrValidation, "batch", "analyze", "scan has not run", nil)
	}

	targets := loudness.TargetsFromConfig(c.cfg)
	hash := loudness.SettingsHash(targets, c.cfg.Loudness.Preset)

	for _, job := range c.jobs {
		if err := ctx.Err(); err != nil {
			return Snapshot{}, services.Wrap(services.ErrCancelled, "batch", "analyze", "analysis cancelled", err)
		}
		if job.Status != StatusPending || job.Descriptor.Audio == nil {
			continue
		}
		if m, ok := c.cachedMeasurements(ctx, job.Path, hash); ok {
			job.Measurements = &m
			continue
		}
		m, err := measure(ctx, c.cfg.FFmpegBinary(), job.Path, targets)
		if err != nil {
			c.logger.Warn("loudness analysis failed", logging.String(logging.FieldPath, job.Path), logging.Error(err))
			continue
		}
		job.Measurements = &m
		c.storeMeasurements(ctx, job.Path, hash, m)
	}

	return c.snapshot(PhaseAnalysis), nil
}

// Select applies the decision profile to every scanned file and records the
// selection snapshot.
//
// A file whose format already conforms can still need work for loudness, but
// only when measurements exist to prove it: with loudness verification
// disabled a conforming file is always skipped.
func (c *Coordinator) Select(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if snap, ok := c.snapshots[PhaseSelection]; ok {
		return snap, nil
	}
	if _, ok := c.snapshots[PhaseScan]; !ok {
		return Snapshot{}, services.Wrap(services.ErrValidation, "batch", "select", "scan has not run", nil)
	}

	profile := decision.FromConfig(c.cfg)
	targets := loudness.TargetsFromConfig(c.cfg)
	tolerances := loudness.TolerancesFromConfig(c.cfg)

	for _, job := range c.jobs {
		if job.Status != StatusPending {
			continue
		}
		verdict := decision.Decide(job.Descriptor, profile)
		if !verdict.NeedsWork() && c.cfg.Loudness.Enabled && c.cfg.Transcode.Verification && job.Measurements != nil {
			if ok, reasons := loudness.Evaluate(*job.Measurements, targets, tolerances); !ok {
				verdict.Action = decision.Transcode
				verdict.Reasons = append(verdict.Reasons, reasons...)
			}
		}
		job.Verdict = verdict
		if verdict.NeedsWork() {
			job.Estimate = estimate.ForCandidate(estimate.Candidate{
				Descriptor: job.Descriptor,
				Codec:      profile.Codec,
				Caps:       profile.Caps,
				Hardware:   c.cfg.Transcode.HardwareEncode,
			})
		} else {
			job.Status = StatusSkipped
			job.Detail = "already conforms"
			c.summary.Skipped++
		}
	}

	return c.snapshot(PhaseSelection), nil
}

// Plan returns the aggregate size and time forecast for the current
// selection.
func (c *Coordinator) Plan() estimate.Plan {
	c.mu.Lock()
	defer c.mu.Unlock()
	profile := decision.FromConfig(c.cfg)
	var candidates []estimate.Candidate
	for _, job := range c.jobs {
		if job.Status == StatusPending && job.Verdict.NeedsWork() {
			candidates = append(candidates, estimate.Candidate{
				Descriptor: job.Descriptor,
				Codec:      profile.Codec,
				Caps:       profile.Caps,
				Hardware:   c.cfg.Transcode.HardwareEncode,
			})
		}
	}
	return estimate.ForBatch(candidates, c.cfg.Backup.Enabled)
}

// Transcode runs every selected job sequentially in scan order. Cancelling
// the batch context aborts the remainder; cancelling a single job through the
// registry only fails that job.
func (c *Coordinator) Transcode(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if snap, ok := c.snapshots[PhaseTranscode]; ok {
		return snap, nil
	}
	if _, ok := c.snapshots[PhaseSelection]; !ok {
		return Snapshot{}, services.Wrap(services.ErrValidation, "batch", "transcode", "selection has not run", nil)
	}

	profile := decision.FromConfig(c.cfg)
	settings := c.cfg.CodecSettings(profile.Codec)
	targets := loudness.TargetsFromConfig(c.cfg)
	tolerances := loudness.TolerancesFromConfig(c.cfg)

	for _, job := range c.jobs {
		if job.Status != StatusPending || !job.Verdict.NeedsWork() {
			continue
		}
		if ctx.Err() != nil {
			job.Status = StatusAborted
			c.summary.Aborted++
			continue
		}
		c.runJob(ctx, job, profile, settings, targets, tolerances)
	}

	return c.snapshot(PhaseTranscode), nil
}

func (c *Coordinator) runJob(ctx context.Context, job *Job, profile decision.Profile, settings config.Codec, targets loudness.Targets, tolerances loudness.Tolerances) {
	ctx = services.WithBatchID(ctx, c.id)
	ctx = services.WithJobID(ctx, job.ID)
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.registry.add(job.ID, cancel)
	defer c.registry.remove(job.ID)

	req := execute.Request{
		JobID:               job.ID,
		Source:              job.Descriptor,
		Codec:               profile.Codec,
		Settings:            settings,
		Caps:                profile.Caps,
		DecodeRequested:     c.cfg.Transcode.HardwareDecode,
		ForceHardwareDecode: c.cfg.Transcode.ForceHWDecode,
	}

	// Audio-only jobs have no video encoder to resolve.
	if job.Descriptor.Video != nil {
		if c.cfg.Transcode.HardwareEncode && c.selector != nil {
			if sel, ok := c.selector.Select(jobCtx, profile.Codec, c.cfg.Transcode.PreferredAccels); ok {
				req.Hardware = &sel
			}
		}
		if req.Hardware == nil {
			encoder, err := resolveEncoder(jobCtx, c.cfg.FFmpegBinary(), profile.Codec)
			if err != nil {
				c.fail(jobCtx, job, err)
				return
			}
			req.Encoder = encoder
			if c.cfg.Transcode.HardwareDecode && c.selector != nil {
				if accel, ok := c.selector.SelectDecoder(jobCtx, c.cfg.Transcode.PreferredAccels); ok {
					req.Decoder = &accel
				}
			}
		}
	}

	if c.cfg.Loudness.Enabled && job.Measurements != nil {
		if ok, _ := loudness.Evaluate(*job.Measurements, targets, tolerances); !ok {
			req.AudioFilter = loudness.Pass2Filter(targets, *job.Measurements)
		}
	}

	result, err := c.runner.Transcode(jobCtx, req)
	if err != nil {
		c.fail(jobCtx, job, err)
		return
	}
	job.Status = StatusSucceeded
	job.OutputPath = result.OutputPath
	job.BackupPath = result.BackupPath
	c.summary.Succeeded++
	c.logger.InfoContext(jobCtx, "job finished",
		logging.String(logging.FieldPath, job.Path),
		logging.String("output", result.OutputPath),
	)
}

func (c *Coordinator) fail(ctx context.Context, job *Job, err error) {
	outcome := services.FailureOutcome(err)
	switch outcome {
	case services.OutcomeCancelled:
		job.Status = StatusCancelled
		c.summary.Cancelled++
	case services.OutcomeSkipped:
		job.Status = StatusSkipped
		c.summary.Skipped++
	default:
		job.Status = StatusFailed
		c.summary.Failed++
	}
	job.Detail = err.Error()
	c.logger.WarnContext(ctx, "job did not complete",
		logging.String(logging.FieldPath, job.Path),
		logging.String("outcome", string(outcome)),
		logging.Error(err),
	)
}

// Results finalizes the batch and returns the summary snapshot.
func (c *Coordinator) Results() (Snapshot, Summary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if snap, ok := c.snapshots[PhaseResults]; ok {
		return snap, c.summary
	}
	c.summary.Total = len(c.jobs)
	return c.snapshot(PhaseResults), c.summary
}

// Back discards the snapshots of every phase after the given one so they can
// be recomputed. Finished jobs keep their outcomes; undecided jobs return to
// pending.
func (c *Coordinator) Back(phase Phase) error {
	idx := phaseIndex(phase)
	if idx < 0 {
		return services.Wrap(services.ErrValidation, "batch", "back", fmt.Sprintf("unknown phase %q", phase), nil)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, later := range phaseOrder[idx+1:] {
		delete(c.snapshots, later)
	}
	if idx < phaseIndex(PhaseSelection) {
		changed := false
		for _, job := range c.jobs {
			if job.Status == StatusSkipped || job.Status == StatusAborted {
				job.Status = StatusPending
				job.Detail = ""
				changed = true
			}
		}
		if changed {
			c.recount()
		}
	}
	return nil
}

// RollbackBatch replays the rollback manifest and counts restored files.
func (c *Coordinator) RollbackBatch(ctx context.Context) (int, []error) {
	if c.rollbackMgr == nil {
		return 0, nil
	}
	restored, errs := c.rollbackMgr.Rollback(ctx)
	c.mu.Lock()
	c.summary.RolledBack += restored
	c.mu.Unlock()
	return restored, errs
}

// Release drops the library lock. Safe to call more than once.
func (c *Coordinator) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lock != nil {
		if err := c.lock.Unlock(); err != nil {
			c.logger.Warn("failed to release library lock", logging.Error(err))
		}
		c.lock = nil
	}
}

func (c *Coordinator) acquireLock(root string) error {
	if c.lock != nil {
		return nil
	}
	lock := flock.New(filepath.Join(root, ".conform.lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return services.Wrap(services.ErrTransient, "batch", "lock", "acquire library lock", err)
	}
	if !ok {
		return services.Wrap(services.ErrValidation, "batch", "lock", "another batch is already running against this library", nil)
	}
	c.lock = lock
	return nil
}

func (c *Coordinator) collectPaths(root string) ([]string, error) {
	backups := backup.NewManager(c.cfg.Backup.Suffix, nil)
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if _, ok := mediaExtensions[ext]; !ok {
			return nil
		}
		base := filepath.Base(path)
		if strings.Contains(base, ".transcoding.") || strings.Contains(base, ".safety-") {
			return nil
		}
		if backups.IsBackup(path) {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

func (c *Coordinator) cachedMeasurements(ctx context.Context, path, hash string) (loudness.Measurements, bool) {
	if c.cache == nil {
		return loudness.Measurements{}, false
	}
	key, err := loudnesscache.KeyFor(path, hash)
	if err != nil {
		return loudness.Measurements{}, false
	}
	m, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.Warn("loudness cache read failed", logging.String(logging.FieldPath, path), logging.Error(err))
		return loudness.Measurements{}, false
	}
	return m, ok
}

func (c *Coordinator) storeMeasurements(ctx context.Context, path, hash string, m loudness.Measurements) {
	if c.cache == nil {
		return
	}
	key, err := loudnesscache.KeyFor(path, hash)
	if err != nil {
		return
	}
	if err := c.cache.Put(ctx, key, m); err != nil {
		c.logger.Warn("loudness cache write failed", logging.String(logging.FieldPath, path), logging.Error(err))
	}
}

// snapshot records the current job state under the given phase. Callers hold
// the mutex.
func (c *Coordinator) snapshot(phase Phase) Snapshot {
	jobs := make([]Job, len(c.jobs))
	for i, job := range c.jobs {
		jobs[i] = *job
	}
	snap := Snapshot{Phase: phase, TakenAt: time.Now().UTC(), Jobs: jobs}
	c.snapshots[phase] = snap
	return snap
}

// recount rebuilds the summary counters from job state after back-navigation.
func (c *Coordinator) recount() {
	var s Summary
	s.RolledBack = c.summary.RolledBack
	for _, job := range c.jobs {
		switch job.Status {
		case StatusSucceeded:
			s.Succeeded++
		case StatusFailed:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		case StatusCancelled:
			s.Cancelled++
		case StatusAborted:
			s.Aborted++
		}
	}
	s.Total = c.summary.Total
	c.summary = s
}
