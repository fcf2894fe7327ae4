package rollback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"conform/internal/fileutil"
	"conform/internal/logging"
	"conform/internal/services"
	"conform/internal/syncmeta"
)

// Entry records one transcoded file and the scratch copy that can undo it.
type Entry struct {
	JobID            string    `json:"job_id,omitempty"`
	Original         string    `json:"original"`
	Output           string    `json:"output"`
	ScratchCopy      string    `json:"scratch_copy"`
	PersistentBackup string    `json:"persistent_backup,omitempty"`
	RecordedAt       time.Time `json:"recorded_at"`
}

type manifest struct {
	BatchID   string    `json:"batch_id"`
	CreatedAt time.Time `json:"created_at"`
	Entries   []Entry   `json:"entries"`
}

const manifestName = "manifest.json"

// Manager owns one batch's rollback state: a private scratch directory
// holding pre-transcode copies plus an append-only JSON manifest describing
// them. Entries replay in reverse order so later jobs undo before the ones
// they may depend on.
type Manager struct {
	dir      string
	logger   *slog.Logger
	sync     syncmeta.Updater
	manifest manifest
}

// Option configures a Manager.
type Option func(*Manager)

// WithSyncMeta sets the collaborator notified for each restored file, so an
// external catalog stops pointing at the removed output.
func WithSyncMeta(updater syncmeta.Updater) Option {
	return func(m *Manager) { m.sync = updater }
}

// NewManager creates the scratch directory for a batch under root.
func NewManager(root, batchID string, logger *slog.Logger, opts ...Option) (*Manager, error) {
	if strings.TrimSpace(batchID) == "" {
		batchID = uuid.NewString()
	}
	dir := filepath.Join(root, batchID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, services.Wrap(services.ErrTransient, "rollback", "create scratch dir", dir, err)
	}
	m := &Manager{
		dir:    dir,
		logger: logging.NewComponentLogger(logger, "rollback"),
		sync:   syncmeta.Noop{},
		manifest: manifest{
			BatchID:   batchID,
			CreatedAt: time.Now().UTC(),
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.writeManifest(); err != nil {
		return nil, err
	}
	return m, nil
}

// Load reopens an existing scratch directory, for replaying a batch that
// did not shut down cleanly.
func Load(root, batchID string, logger *slog.Logger, opts ...Option) (*Manager, error) {
	dir := filepath.Join(root, batchID)
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		return nil, services.Wrap(services.ErrNotFound, "rollback", "load manifest", dir, err)
	}
	var mf manifest
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, services.Wrap(services.ErrValidation, "rollback", "parse manifest", dir, err)
	}
	m := &Manager{
		dir:      dir,
		logger:   logging.NewComponentLogger(logger, "rollback"),
		sync:     syncmeta.Noop{},
		manifest: mf,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Dir returns the scratch directory path.
func (m *Manager) Dir() string {
	return m.dir
}

// Entries returns a copy of the recorded entries in record order.
func (m *Manager) Entries() []Entry {
	out := make([]Entry, len(m.manifest.Entries))
	copy(out, m.manifest.Entries)
	return out
}

// Record copies the original into the scratch directory before it is
// touched and appends a manifest entry. persistentBackup names a backup
// that already existed before this batch, or empty.
func (m *Manager) Record(ctx context.Context, jobID, original, output, persistentBackup string) error {
	_ = ctx
	scratch := filepath.Join(m.dir, uuid.NewString()+filepath.Ext(original))
	if err := fileutil.CopyFileVerified(original, scratch); err != nil {
		return services.Wrap(services.ErrTransient, "rollback", "record", original, err)
	}
	m.manifest.Entries = append(m.manifest.Entries, Entry{
		JobID:            jobID,
		Original:         original,
		Output:           output,
		ScratchCopy:      scratch,
		PersistentBackup: persistentBackup,
		RecordedAt:       time.Now().UTC(),
	})
	if err := m.writeManifest(); err != nil {
		return err
	}
	m.logger.Debug("rollback entry recorded",
		logging.String(logging.FieldPath, original),
		logging.String("scratch", scratch),
	)
	return nil
}

// Rollback replays the manifest in reverse, restoring each original from
// its scratch copy and removing the transcoded output. Each restored file is
// reported to the sync collaborator so external catalogs point back at the
// original instead of the removed output. A failing entry is reported but
// does not stop the replay of earlier entries.
func (m *Manager) Rollback(ctx context.Context) (int, []error) {
	var errs []error
	restored := 0
	entries := m.manifest.Entries
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		if err := fileutil.CopyFileVerified(entry.ScratchCopy, entry.Original); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", entry.Original, err))
			continue
		}
		if entry.Output != "" && entry.Output != entry.Original {
			if err := os.Remove(entry.Output); err != nil && !errors.Is(err, os.ErrNotExist) {
				m.logger.Warn("failed to remove transcoded output",
					logging.String(logging.FieldPath, entry.Output),
					logging.Error(err),
				)
			}
		}
		m.notifySync(ctx, entry)
		restored++
		m.logger.Info("rolled back", logging.String(logging.FieldPath, entry.Original))
	}
	return restored, errs
}

func (m *Manager) notifySync(ctx context.Context, entry Entry) {
	if m.sync == nil {
		return
	}
	update := syncmeta.Update{ResourceID: entry.JobID, Filename: entry.Original}
	if info, err := os.Stat(entry.Original); err == nil {
		update.ModTime = info.ModTime()
	}
	if err := m.sync.SyncMeta(ctx, update); err != nil {
		m.logger.Warn("sync metadata update failed",
			logging.String(logging.FieldPath, entry.Original),
			logging.Error(err),
		)
	}
}

// Purge discards rollback state after a successful batch. Entries that had
// a persistent backup before the batch get that backup overwritten with the
// scratch copy, leaving it exactly one revision behind the new file; all
// other scratch copies are simply deleted with the directory.
func (m *Manager) Purge(ctx context.Context) error {
	_ = ctx
	for _, entry := range m.manifest.Entries {
		if entry.PersistentBackup == "" {
			continue
		}
		if err := fileutil.ReplaceFile(entry.ScratchCopy, entry.PersistentBackup); err != nil {
			m.logger.Warn("failed to refresh persistent backup",
				logging.String("backup", entry.PersistentBackup),
				logging.Error(err),
			)
		}
	}
	if err := os.RemoveAll(m.dir); err != nil {
		return services.Wrap(services.ErrTransient, "rollback", "purge", m.dir, err)
	}
	return nil
}

func (m *Manager) writeManifest() error {
	data, err := json.MarshalIndent(m.manifest, "", "  ")
	if err != nil {
		return services.Wrap(services.ErrTransient, "rollback", "encode manifest", "", err)
	}
	path := filepath.Join(m.dir, manifestName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return services.Wrap(services.ErrTransient, "rollback", "write manifest", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return services.Wrap(services.ErrTransient, "rollback", "write manifest", path, err)
	}
	return nil
}
