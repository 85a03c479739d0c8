package openqalocal

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// Stats reports usage of one host's cache. TotalSize counts sidecar files
// and downloaded logs; MaxSize is the configured advisory bound.
type Stats struct {
	Entries     int           // Number of cached jobs
	TotalSize   int64         // Total size of sidecars and log files in bytes
	MaxSize     int64         // Configured size bound
	OldestEntry time.Duration // Age of the oldest sidecar
	NewestEntry time.Duration // Age of the newest sidecar
}

// Stats returns statistics about the cache. A host that was never written
// reports zero entries.
func (c *Cache) Stats() (Stats, error) {
	stats := Stats{MaxSize: c.maxSize}
	var oldest, newest time.Time

	err := c.walkSidecars(func(jobID string, info os.FileInfo) error {
		stats.Entries++
		stats.TotalSize += info.Size()

		if size, err := c.dirSize(c.logDir(jobID)); err == nil {
			stats.TotalSize += size
		}

		mod := info.ModTime()
		if oldest.IsZero() || mod.Before(oldest) {
			oldest = mod
		}
		if newest.IsZero() || mod.After(newest) {
			newest = mod
		}
		return nil
	})
	if err != nil {
		return Stats{}, err
	}

	now := c.now()
	if !oldest.IsZero() {
		stats.OldestEntry = now.Sub(oldest)
	}
	if !newest.IsZero() {
		stats.NewestEntry = now.Sub(newest)
	}

	return stats, nil
}

// Prune removes cached jobs whose sidecar is older than the given duration,
// together with their downloaded log files. Returns the number of jobs
// removed.
func (c *Cache) Prune(olderThan time.Duration) (int, error) {
	cutoff := c.now().Add(-olderThan)

	var toRemove []string
	err := c.walkSidecars(func(jobID string, info os.FileInfo) error {
		if info.ModTime().Before(cutoff) {
			toRemove = append(toRemove, jobID)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	count := 0
	for _, jobID := range toRemove {
		if err := c.remove(jobID); err != nil {
			return count, fmt.Errorf("failed to remove entry %s: %w", jobID, err)
		}
		count++
	}
	return count, nil
}

// remove deletes one job's sidecar and log directory under the sidecar lock.
func (c *Cache) remove(jobID string) error {
	path := c.sidecarPath(jobID)
	return c.locks.doWithLock(path, func() error {
		if exists, _ := afero.Exists(c.fs, path); exists {
			if err := c.fs.Remove(path); err != nil {
				return fmt.Errorf("failed to remove sidecar: %w", err)
			}
		}
		logDir := c.logDir(jobID)
		if exists, _ := afero.Exists(c.fs, logDir); exists {
			if err := c.fs.RemoveAll(logDir); err != nil {
				return fmt.Errorf("failed to remove log files: %w", err)
			}
		}
		return nil
	})
}

// walkSidecars calls fn for every sidecar file in the host directory.
func (c *Cache) walkSidecars(fn func(jobID string, info os.FileInfo) error) error {
	infos, err := afero.ReadDir(c.fs, c.hostDir())
	if err != nil {
		if os.IsNotExist(err) {
			// Nothing cached for this host yet.
			return nil
		}
		return fmt.Errorf("failed to read host directory: %w", err)
	}

	for _, info := range infos {
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".json") {
			continue
		}
		jobID := strings.TrimSuffix(info.Name(), ".json")
		if err := fn(jobID, info); err != nil {
			return err
		}
	}
	return nil
}

// dirSize calculates the total size of all files in a directory.
func (c *Cache) dirSize(dir string) (int64, error) {
	var size int64

	err := afero.Walk(c.fs, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})

	return size, err
}
