//go:build linux || darwin || freebsd

package validation

import "golang.org/x/sys/unix"

// filesystemSpace returns total bytes and bytes available to unprivileged
// users on the filesystem holding dir.
func filesystemSpace(dir string) (total, free uint64, err error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return 0, 0, err
	}
	bsize := uint64(stat.Bsize)
	return uint64(stat.Blocks) * bsize, uint64(stat.Bavail) * bsize, nil
}
