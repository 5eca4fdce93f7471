//go:build windows

package validation

import "golang.org/x/sys/windows"

// filesystemSpace returns total bytes and bytes available to the caller on
// the volume holding dir.
func filesystemSpace(dir string) (total, free uint64, err error) {
	path, err := windows.UTF16PtrFromString(dir)
	if err != nil {
		return 0, 0, err
	}
	var available, totalBytes, totalFree uint64
	if err := windows.GetDiskFreeSpaceEx(path, &available, &totalBytes, &totalFree); err != nil {
		return 0, 0, err
	}
	return totalBytes, available, nil
}
