// Package loudnesscache persists loudness measurements in SQLite.
//
// Entries are keyed by (path, size, mtime, settings hash) so a changed file
// or changed normalization settings read as a miss. Cache failures are
// reported as errors but callers treat them as misses; a broken cache never
// fails a transcode job.
package loudnesscache
