package storage

import (
	"os"
	"path/filepath"
)

// DiskStats describes a filesystem's capacity in bytes
type DiskStats struct {
	Total     int64
	Available int64
}

// Used returns bytes in use by anything on the filesystem
func (d DiskStats) Used() int64 {
	return d.Total - d.Available
}

// ExistingAncestor returns path or its nearest existing parent, so stats can
// be read before the cache directory is created
func ExistingAncestor(path string) string {
	for {
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(path)
		if parent == path {
			return path
		}
		path = parent
	}
}
