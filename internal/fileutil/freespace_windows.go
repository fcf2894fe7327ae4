//go:build windows

package fileutil

import "golang.org/x/sys/windows"

// FreeSpace returns the bytes available to unprivileged writers on the
// filesystem holding dir.
func FreeSpace(dir string) (uint64, error) {
	var free, total, totalFree uint64
	path, err := windows.UTF16PtrFromString(dir)
	if err != nil {
		return 0, err
	}
	if err := windows.GetDiskFreeSpaceEx(path, &free, &total, &totalFree); err != nil {
		return 0, err
	}
	return free, nil
}
