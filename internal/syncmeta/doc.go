// Package syncmeta notifies an external catalog when a transcode replaces
// a file, so stale filenames and timestamps do not linger there.
package syncmeta
