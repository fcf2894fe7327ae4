package fileutil

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Stem returns the path without its extension.
func Stem(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path))
}

// OutputPath returns the final destination for a transcoded file: the input
// stem with the target container's extension, in the same directory.
func OutputPath(input, container string) string {
	return Stem(input) + "." + strings.TrimPrefix(container, ".")
}

// TempOutputPath returns the in-progress encode target next to the final
// destination. The marker keeps a crashed run's partial output from ever
// matching the destination name.
func TempOutputPath(input, container string) string {
	return Stem(input) + ".transcoding." + strings.TrimPrefix(container, ".")
}

// BackupPath returns the persistent backup name for a file: the stem plus
// the configured suffix, keeping the original extension.
func BackupPath(path, suffix string) string {
	return Stem(path) + suffix + filepath.Ext(path)
}

// SafetyCopyPath returns a timestamped scratch name used while restoring a
// backup, so a failed restore never leaves the target as the only copy.
func SafetyCopyPath(path string, now time.Time) string {
	return fmt.Sprintf("%s.safety-%s", path, now.UTC().Format("20060102T150405"))
}
