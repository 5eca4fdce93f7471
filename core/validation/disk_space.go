package validation

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
)

// DiskSpaceInfo describes the filesystem holding a path.
type DiskSpaceInfo struct {
	Path  string // nearest existing directory that was measured
	Total uint64
	Free  uint64
}

// UsedPercent is the share of the filesystem in use, 0-100.
func (d DiskSpaceInfo) UsedPercent() float64 {
	if d.Total == 0 {
		return 0
	}
	return float64(d.Total-d.Free) / float64(d.Total) * 100
}

// String formats the free space, e.g. "412 GB free of 1.0 TB".
func (d DiskSpaceInfo) String() string {
	return fmt.Sprintf("%s free of %s", humanize.Bytes(d.Free), humanize.Bytes(d.Total))
}

// DiskSpaceError reports less free space than required.
type DiskSpaceError struct {
	Path      string
	Required  uint64
	Available uint64
}

func (e *DiskSpaceError) Error() string {
	return fmt.Sprintf("insufficient disk space at %s: need %s, have %s free",
		e.Path, humanize.Bytes(e.Required), humanize.Bytes(e.Available))
}

// GetDiskSpace measures the filesystem holding path. A path that does not
// exist yet, like an output directory created on first write, is measured at
// its nearest existing ancestor.
func GetDiskSpace(path string) (DiskSpaceInfo, error) {
	dir, err := existingDir(path)
	if err != nil {
		return DiskSpaceInfo{}, err
	}
	total, free, err := filesystemSpace(dir)
	if err != nil {
		return DiskSpaceInfo{}, fmt.Errorf("failed to get disk space for %s: %w", dir, err)
	}
	return DiskSpaceInfo{Path: dir, Total: total, Free: free}, nil
}

// CheckDiskSpace returns a *DiskSpaceError when less than required bytes are
// free at path.
func CheckDiskSpace(path string, required uint64) (DiskSpaceInfo, error) {
	info, err := GetDiskSpace(path)
	if err != nil {
		return info, err
	}
	if info.Free < required {
		return info, &DiskSpaceError{Path: info.Path, Required: required, Available: info.Free}
	}
	return info, nil
}

func existingDir(path string) (string, error) {
	path = filepath.Clean(path)
	for {
		info, err := os.Stat(path)
		switch {
		case err == nil && info.IsDir():
			return path, nil
		case err == nil:
			return filepath.Dir(path), nil
		case !errors.Is(err, fs.ErrNotExist):
			return "", fmt.Errorf("cannot access path %s: %w", path, err)
		}
		parent := filepath.Dir(path)
		if parent == path {
			return "", fmt.Errorf("no existing ancestor for %s", path)
		}
		path = parent
	}
}
