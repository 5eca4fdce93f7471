package validation

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// PathError describes a path that cannot be used as configured.
type PathError struct {
	Path    string
	Message string
}

func (e *PathError) Error() string {
	return e.Message
}

// IsNotExist reports whether err is a PathError for a missing path.
func IsNotExist(err error) bool {
	var pathErr *PathError
	return errors.As(err, &pathErr) && pathErr.Message == "not found: "+pathErr.Path
}

// CheckFileExists returns nil when path is an existing regular file.
func CheckFileExists(path string) error {
	info, err := stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return &PathError{Path: path, Message: "path is a directory, not a file: " + path}
	}
	return nil
}

// CheckDirectory returns nil when path is an existing directory.
func CheckDirectory(path string) error {
	info, err := stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return &PathError{Path: path, Message: "path is a file, not a directory: " + path}
	}
	return nil
}

// CheckWritableDir creates path if needed and proves it accepts new files by
// writing and removing a probe file. Campaign output directories are created
// lazily, so a failure here would otherwise surface only at the first image.
func CheckWritableDir(path string) error {
	if path == "" {
		return &PathError{Path: path, Message: "directory path cannot be empty"}
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return &PathError{Path: path, Message: fmt.Sprintf("cannot create %s: %v", path, err)}
	}
	probe, err := os.CreateTemp(path, ".preflight-*")
	if err != nil {
		return &PathError{Path: path, Message: fmt.Sprintf("%s is not writable: %v", path, err)}
	}
	name := probe.Name()
	probe.Close()
	if err := os.Remove(name); err != nil {
		return &PathError{Path: path, Message: fmt.Sprintf("cannot remove probe file %s: %v", filepath.Base(name), err)}
	}
	return nil
}

func stat(path string) (fs.FileInfo, error) {
	if path == "" {
		return nil, &PathError{Path: path, Message: "path cannot be empty"}
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &PathError{Path: path, Message: "not found: " + path}
	}
	if err != nil {
		return nil, &PathError{Path: path, Message: fmt.Sprintf("error checking %s: %v", path, err)}
	}
	return info, nil
}
