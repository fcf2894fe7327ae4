package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"conform/internal/fileutil"
	"conform/internal/logging"
	"conform/internal/services"
)

// Manager creates, discovers, restores, and deletes persistent backups.
// A backup keeps the original file next to its transcoded replacement as
// `<stem><suffix><ext>`, preserving the original extension even when the
// replacement changed container.
type Manager struct {
	suffix string
	logger *slog.Logger
}

// NewManager builds a backup manager with the configured name suffix.
func NewManager(suffix string, logger *slog.Logger) *Manager {
	suffix = strings.TrimSpace(suffix)
	if suffix == "" {
		suffix = "-source"
	}
	return &Manager{
		suffix: suffix,
		logger: logging.NewComponentLogger(logger, "backup"),
	}
}

// PathFor returns the backup name for a media file.
func (m *Manager) PathFor(path string) string {
	return fileutil.BackupPath(path, m.suffix)
}

// Create moves the original aside as its persistent backup, overwriting any
// previous backup of the same name. Called during finalization, after the
// encode succeeded and before the temp output takes the original's place.
func (m *Manager) Create(ctx context.Context, path string) (string, error) {
	_ = ctx
	target := m.PathFor(path)
	if err := fileutil.ReplaceFile(path, target); err != nil {
		return "", services.Wrap(services.ErrTransient, "backup", "create", path, err)
	}
	m.logger.Debug("backup created",
		logging.String(logging.FieldPath, path),
		logging.String("backup", target),
	)
	return target, nil
}

// Find locates the backup for a media file. An exact recorded name wins when
// it still exists; otherwise discovery globs `<stem><suffix>.*` and returns
// the lexically first match. The active file itself is never a candidate.
func (m *Manager) Find(path, recorded string) (string, bool) {
	if recorded = strings.TrimSpace(recorded); recorded != "" {
		if info, err := os.Stat(recorded); err == nil && !info.IsDir() {
			return recorded, true
		}
	}

	pattern := fileutil.Stem(path) + m.suffix + ".*"
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", false
	}
	sort.Strings(matches)
	for _, match := range matches {
		if match == path {
			continue
		}
		if info, err := os.Stat(match); err == nil && !info.IsDir() {
			return match, true
		}
	}
	return "", false
}

// Restore puts a backup back in place of the transcoded file. The current
// file (if any) is parked under a timestamped safety name first, the backup
// is renamed over the restored path, and only after that succeeds are the
// safety copy and the consumed transcoded file removed. A failed restore
// moves the safety copy back.
func (m *Manager) Restore(ctx context.Context, backupPath, activePath string) (string, error) {
	_ = ctx
	restored := m.RestoredPathFor(backupPath)

	var safety string
	if _, err := os.Stat(restored); err == nil {
		safety = fileutil.SafetyCopyPath(restored, time.Now())
		if err := os.Rename(restored, safety); err != nil {
			return "", services.Wrap(services.ErrTransient, "backup", "restore", "park current file", err)
		}
	}

	if err := fileutil.ReplaceFile(backupPath, restored); err != nil {
		if safety != "" {
			if undoErr := os.Rename(safety, restored); undoErr != nil {
				m.logger.Error("safety copy could not be moved back",
					logging.String("safety", safety),
					logging.Error(undoErr),
				)
			}
		}
		return "", services.Wrap(services.ErrTransient, "backup", "restore", backupPath, err)
	}

	if safety != "" {
		if err := os.Remove(safety); err != nil {
			m.logger.Warn("failed to remove safety copy", logging.String(logging.FieldPath, safety), logging.Error(err))
		}
	}
	if activePath != "" && activePath != restored {
		if err := os.Remove(activePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			m.logger.Warn("failed to remove transcoded file", logging.String(logging.FieldPath, activePath), logging.Error(err))
		}
	}

	m.logger.Info("backup restored",
		logging.String("backup", backupPath),
		logging.String(logging.FieldPath, restored),
	)
	return restored, nil
}

// RestoredPathFor strips the backup suffix, yielding the name the file had
// before transcoding.
func (m *Manager) RestoredPathFor(backupPath string) string {
	ext := filepath.Ext(backupPath)
	stem := strings.TrimSuffix(backupPath, ext)
	stem = strings.TrimSuffix(stem, m.suffix)
	return stem + ext
}

// IsBackup reports whether a path carries the backup suffix.
func (m *Manager) IsBackup(path string) bool {
	stem := fileutil.Stem(path)
	return strings.HasSuffix(stem, m.suffix)
}

// Delete removes a single backup file.
func (m *Manager) Delete(path string) error {
	if !m.IsBackup(path) {
		return services.Wrap(services.ErrValidation, "backup", "delete", fmt.Sprintf("%s does not carry the backup suffix %q", path, m.suffix), nil)
	}
	if err := os.Remove(path); err != nil {
		return services.Wrap(services.ErrTransient, "backup", "delete", path, err)
	}
	return nil
}

// DeleteAll removes a set of backups, collecting per-item failures instead
// of stopping at the first.
func (m *Manager) DeleteAll(paths []string) (int, []error) {
	var errs []error
	deleted := 0
	for _, path := range paths {
		if err := m.Delete(path); err != nil {
			errs = append(errs, err)
			continue
		}
		deleted++
	}
	return deleted, errs
}

// List finds every backup under root, recursively.
func (m *Manager) List(root string) ([]string, error) {
	var backups []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if m.IsBackup(path) {
			backups = append(backups, path)
		}
		return nil
	})
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "backup", "list", root, err)
	}
	sort.Strings(backups)
	return backups, nil
}
