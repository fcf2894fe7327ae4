package loudnesscache

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"conform/internal/loudness"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "loudness.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleKey() Key {
	return Key{
		Path:         "/media/clip.mp4",
		SizeBytes:    1024,
		MtimeNS:      1700000000000000000,
		SettingsHash: "abc123",
	}
}

func sampleMeasurements() loudness.Measurements {
	return loudness.Measurements{I: -23.62, TP: -4.12, LRA: 7.1, Threshold: -34.01, Offset: 0.32}
}

func TestPutGetRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	key := sampleKey()
	want := sampleMeasurements()

	if err := store.Put(ctx, key, want); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, ok, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok {
		t.Fatal("expected a hit")
	}
	for _, pair := range [][2]float64{
		{got.I, want.I}, {got.TP, want.TP}, {got.LRA, want.LRA},
		{got.Threshold, want.Threshold}, {got.Offset, want.Offset},
	} {
		if math.Abs(pair[0]-pair[1]) > 1e-9 {
			t.Fatalf("round trip drift: got %+v want %+v", got, want)
		}
	}
}

func TestGetMissOnChangedIdentity(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	key := sampleKey()
	if err := store.Put(ctx, key, sampleMeasurements()); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Key)
	}{
		{"different size", func(k *Key) { k.SizeBytes++ }},
		{"different mtime", func(k *Key) { k.MtimeNS++ }},
		{"different settings", func(k *Key) { k.SettingsHash = "other" }},
		{"different path", func(k *Key) { k.Path = "/media/other.mp4" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			probe := key
			tc.mutate(&probe)
			if _, ok, err := store.Get(ctx, probe); err != nil || ok {
				t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
			}
		})
	}
}

func TestPutReplacesExistingEntry(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	key := sampleKey()

	if err := store.Put(ctx, key, sampleMeasurements()); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	updated := sampleMeasurements()
	updated.I = -17.5
	if err := store.Put(ctx, key, updated); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}

	got, ok, err := store.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Get failed: ok=%v err=%v", ok, err)
	}
	if got.I != -17.5 {
		t.Fatalf("expected replacement, got %+v", got)
	}
}

func TestInvalidateRemovesAllEntriesForPath(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	key := sampleKey()
	other := sampleKey()
	other.SettingsHash = "different"
	unrelated := sampleKey()
	unrelated.Path = "/media/other.mp4"

	for _, k := range []Key{key, other, unrelated} {
		if err := store.Put(ctx, k, sampleMeasurements()); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	if err := store.Invalidate(ctx, key.Path); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if _, ok, _ := store.Get(ctx, key); ok {
		t.Fatal("entry should be gone")
	}
	if _, ok, _ := store.Get(ctx, other); ok {
		t.Fatal("all settings variants for the path should be gone")
	}
	if _, ok, _ := store.Get(ctx, unrelated); !ok {
		t.Fatal("other paths must survive invalidation")
	}
}

func TestPruneRemovesOldEntries(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	old := sampleKey()
	recent := sampleKey()
	recent.Path = "/media/new.mp4"

	if err := store.Put(ctx, old, sampleMeasurements()); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	// Backdate the first entry directly.
	backdated := time.Now().Add(-48 * time.Hour).UTC().Format(time.RFC3339Nano)
	if _, err := store.db.Exec(`UPDATE loudness_cache SET stored_at = ? WHERE path = ?`, backdated, old.Path); err != nil {
		t.Fatalf("backdate failed: %v", err)
	}
	if err := store.Put(ctx, recent, sampleMeasurements()); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	removed, err := store.Prune(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 pruned entry, got %d", removed)
	}
	if _, ok, _ := store.Get(ctx, recent); !ok {
		t.Fatal("recent entry must survive pruning")
	}
}

func TestStats(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Entries != 0 {
		t.Fatalf("expected empty cache, got %d", stats.Entries)
	}

	if err := store.Put(ctx, sampleKey(), sampleMeasurements()); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	stats, err = store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Entries != 1 || stats.Newest.IsZero() {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestKeyForTracksFileIdentity(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.mp4")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	key, err := KeyFor(path, "hash")
	if err != nil {
		t.Fatalf("KeyFor failed: %v", err)
	}
	if key.SizeBytes != 4 || key.SettingsHash != "hash" {
		t.Fatalf("unexpected key: %+v", key)
	}

	if _, err := KeyFor(filepath.Join(dir, "missing.mp4"), "hash"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
