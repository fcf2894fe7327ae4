package syncmeta

import (
	"context"
	"sync"
	"time"
)

// Update describes a finalized transcode for whatever catalog tracks the
// file: the stable resource identifier, the filename it now lives under,
// and the modification time the replacement carries.
type Update struct {
	ResourceID string
	Filename   string
	ModTime    time.Time
}

// Updater receives catalog updates after a transcode replaces a file.
// Implementations must tolerate being called for files they do not track.
type Updater interface {
	SyncMeta(ctx context.Context, update Update) error
}

// Noop ignores every update. Used when no catalog integration is
// configured.
type Noop struct{}

// SyncMeta implements Updater.
func (Noop) SyncMeta(context.Context, Update) error { return nil }

// Recorder retains every update it receives, for tests and dry runs.
type Recorder struct {
	mu      sync.Mutex
	updates []Update
}

// SyncMeta implements Updater.
func (r *Recorder) SyncMeta(_ context.Context, update Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, update)
	return nil
}

// Updates returns a copy of the recorded updates in arrival order.
func (r *Recorder) Updates() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Update, len(r.updates))
	copy(out, r.updates)
	return out
}
