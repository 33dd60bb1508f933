// Package cleaner keeps the track cache under its size quota and above the
// free-space floor of its volume.
package cleaner

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/offtrack/offtrack-core/internal/monitoring"
	"github.com/offtrack/offtrack-core/internal/storage"
)

// Exclusions lists files the cleaner must never delete. It is queried
// immediately before every sweep.
type Exclusions interface {
	InUseFiles() []string
	PinnedFiles() []string
}

// DiskUsageFunc reads capacity of the filesystem holding path
type DiskUsageFunc func(path string) (storage.DiskStats, error)

// Options configures a Cleaner
type Options struct {
	// QuotaBytes caps the bytes held by cache files; 0 disables the quota
	QuotaBytes int64
	// MinFreeBytes is the free space to keep on the cache volume; 0 disables it
	MinFreeBytes int64
	DiskUsage    DiskUsageFunc
}

// Result summarises one sweep
type Result struct {
	Files int
	Bytes int64
	Dirs  int
}

// Cleaner deletes least recently modified cache files
type Cleaner struct {
	root    string
	exclude Exclusions
	opts    Options
	logger  *zap.Logger

	// one sweep at a time
	mu sync.Mutex
}

type cacheFile struct {
	path    string
	size    int64
	modTime time.Time
}

// New creates a cleaner for the tree under root. exclude may be nil.
func New(root string, exclude Exclusions, opts Options, logger *zap.Logger) *Cleaner {
	if opts.DiskUsage == nil {
		opts.DiskUsage = storage.DiskUsage
	}
	return &Cleaner{
		root:    filepath.Clean(root),
		exclude: exclude,
		opts:    opts,
		logger:  monitoring.Component(logger, "cleaner"),
	}
}

// Clean runs the full sweep: stale partial files go first, then the oldest
// files until the quota and free-space floor are met, then empty directories
func (c *Cleaner) Clean(ctx context.Context) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keep := c.undeletable()
	files, dirs, err := c.scan(ctx)
	if err != nil {
		return Result{}, err
	}

	var res Result
	remaining := files[:0]
	for _, f := range files {
		if storage.IsPartial(f.path) && !keep[f.path] {
			if c.remove(f) {
				res.Files++
				res.Bytes += f.size
			}
			continue
		}
		remaining = append(remaining, f)
	}

	r := c.deleteOldest(ctx, remaining, keep)
	res.Files += r.Files
	res.Bytes += r.Bytes
	res.Dirs = c.removeEmptyDirs(dirs)

	c.record("full", res)
	return res, ctx.Err()
}

// CleanSpace deletes only enough of the oldest files to satisfy the quota
// and free-space floor
func (c *Cleaner) CleanSpace(ctx context.Context) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keep := c.undeletable()
	files, dirs, err := c.scan(ctx)
	if err != nil {
		return Result{}, err
	}

	res := c.deleteOldest(ctx, files, keep)
	res.Dirs = c.removeEmptyDirs(dirs)

	c.record("space", res)
	return res, ctx.Err()
}

// Usage returns the bytes held by cache files
func (c *Cleaner) Usage(ctx context.Context) (int64, error) {
	files, _, err := c.scan(ctx)
	if err != nil {
		return 0, err
	}
	return totalSize(files), nil
}

// Run sweeps now and then every interval until ctx is done
func (c *Cleaner) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := c.Clean(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warn("Cache sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// deleteOldest removes files oldest first until the target computed from
// their combined size is met
func (c *Cleaner) deleteOldest(ctx context.Context, files []cacheFile, keep map[string]bool) Result {
	var res Result
	target := c.bytesToDelete(totalSize(files))
	if target <= 0 {
		return res
	}

	sort.SliceStable(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	for _, f := range files {
		if res.Bytes >= target || ctx.Err() != nil {
			break
		}
		if keep[f.path] {
			continue
		}
		if c.remove(f) {
			res.Files++
			res.Bytes += f.size
		}
	}

	if res.Bytes < target {
		c.logger.Warn("Could not free enough space",
			zap.Int64("target", target),
			zap.Int64("freed", res.Bytes))
	}
	return res
}

// bytesToDelete is the larger of the quota excess and the free-space deficit
func (c *Cleaner) bytesToDelete(used int64) int64 {
	var forQuota, forFreeSpace int64
	if c.opts.QuotaBytes > 0 {
		forQuota = max(used-c.opts.QuotaBytes, 0)
	}
	if c.opts.MinFreeBytes > 0 {
		stats, err := c.opts.DiskUsage(storage.ExistingAncestor(c.root))
		if err != nil {
			c.logger.Warn("Failed to read disk usage", zap.Error(err))
		} else {
			forFreeSpace = max(stats.Used()-(stats.Total-c.opts.MinFreeBytes), 0)
		}
	}

	c.logger.Debug("Cache usage",
		zap.Int64("used", used),
		zap.Int64("quota_excess", forQuota),
		zap.Int64("free_space_deficit", forFreeSpace))
	return max(forQuota, forFreeSpace)
}

// scan collects cache artifacts and directories under root. A missing root
// is an empty cache.
func (c *Cleaner) scan(ctx context.Context) ([]cacheFile, []string, error) {
	var files []cacheFile
	var dirs []string

	err := filepath.WalkDir(c.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			c.logger.Warn("Failed to read cache entry", zap.String("path", path), zap.Error(err))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			dirs = append(dirs, path)
			return nil
		}
		if !storage.IsCacheArtifact(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		files = append(files, cacheFile{path: path, size: info.Size(), modTime: info.ModTime()})
		return nil
	})
	return files, dirs, err
}

// removeEmptyDirs deletes directories left empty, deepest first. A directory
// holding only the album art marker loses the marker and then itself. The
// root is never removed.
func (c *Cleaner) removeEmptyDirs(dirs []string) int {
	removed := 0
	for i := len(dirs) - 1; i >= 0; i-- {
		dir := dirs[i]
		if dir == c.root {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		if len(entries) == 1 && entries[0].Name() == storage.AlbumArtMarker {
			if err := os.Remove(storage.AlbumArtMarkerPath(dir)); err != nil {
				c.logger.Warn("Failed to delete album art", zap.String("dir", dir), zap.Error(err))
				continue
			}
			entries = nil
		}
		if len(entries) != 0 {
			continue
		}
		if err := os.Remove(dir); err != nil {
			c.logger.Warn("Failed to delete directory", zap.String("dir", dir), zap.Error(err))
			continue
		}
		removed++
	}
	return removed
}

func (c *Cleaner) remove(f cacheFile) bool {
	if err := os.Remove(f.path); err != nil {
		if !os.IsNotExist(err) {
			c.logger.Warn("Failed to delete cache file", zap.String("path", f.path), zap.Error(err))
		}
		return false
	}
	c.logger.Debug("Deleted cache file", zap.String("path", f.path), zap.Int64("size", f.size))
	return true
}

// undeletable gathers the in-use and pinned files at sweep time
func (c *Cleaner) undeletable() map[string]bool {
	keep := make(map[string]bool)
	if c.exclude == nil {
		return keep
	}
	for _, p := range c.exclude.InUseFiles() {
		keep[filepath.Clean(p)] = true
	}
	for _, p := range c.exclude.PinnedFiles() {
		keep[filepath.Clean(p)] = true
	}
	return keep
}

func (c *Cleaner) record(sweep string, res Result) {
	used, _ := c.Usage(context.Background())
	monitoring.RecordCleanerSweep(sweep, res.Files, res.Bytes, used)
	if res.Files > 0 || res.Dirs > 0 {
		c.logger.Info("Cache sweep finished",
			zap.String("sweep", sweep),
			zap.Int("files", res.Files),
			zap.Int64("bytes", res.Bytes),
			zap.Int("dirs", res.Dirs))
	}
}

func totalSize(files []cacheFile) int64 {
	var n int64
	for _, f := range files {
		n += f.size
	}
	return n
}
