// Package rollback lets a batch undo its transcodes. Every job's original
// is copied into a per-batch scratch directory and logged in a JSON
// manifest before the file is touched; an aborted batch replays the
// manifest in reverse.
package rollback
