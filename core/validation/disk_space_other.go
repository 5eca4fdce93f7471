//go:build !linux && !darwin && !freebsd && !windows

package validation

import (
	"errors"
	"runtime"
)

func filesystemSpace(dir string) (total, free uint64, err error) {
	return 0, 0, errors.New("disk space check not supported on " + runtime.GOOS)
}
