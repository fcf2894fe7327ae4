// Package batch coordinates a conformance run over a media library.
//
// A batch moves through fixed phases: scan, optional loudness analysis,
// selection, transcode, results. Each completed phase produces an immutable
// snapshot; revisiting a phase returns the existing snapshot, and Back
// discards later snapshots so they can be recomputed. Jobs run one at a time
// in scan order, and a file lock at the library root keeps concurrent batches
// off the same library.
package batch
