//go:build unix

package storage

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// DiskUsage returns total and available bytes of the filesystem holding path
func DiskUsage(path string) (DiskStats, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return DiskStats{}, fmt.Errorf("statfs %s: %w", path, err)
	}
	bsize := int64(st.Bsize)
	return DiskStats{
		Total:     int64(st.Blocks) * bsize,
		Available: int64(st.Bavail) * bsize,
	}, nil
}
