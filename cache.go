package openqalocal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// NowFunc defines a function that returns the current time.
type NowFunc func() time.Time

const (
	// TTLNever marks cache entries as never going stale.
	TTLNever time.Duration = -1

	// TTLDisabled makes every cache read a miss. Writes still happen, so a
	// later cache with a real TTL can pick the entries up.
	TTLDisabled time.Duration = 0

	// DefaultMaxSize is the default cache size bound in bytes (100 MiB).
	// The bound is advisory: it is reported by Stats but not enforced by
	// eviction.
	DefaultMaxSize int64 = 100 * 1024 * 1024
)

// Cache stores openQA job metadata and log files on disk, namespaced under a
// single host. Each job gets one JSON sidecar file holding its details and
// log listing, plus a directory of raw downloaded log files.
//
// Sidecar reads are governed by the cache TTL; downloaded log files are
// treated as immutable and never expire.
type Cache struct {
	root    string
	host    string
	maxSize int64
	ttl     time.Duration
	fs      afero.Fs
	nowFunc NowFunc
	logger  logrus.FieldLogger
	locks   lockGroup
}

// sidecar is the on-disk document for one job. The two facets are cached
// independently: writing one never touches the other. A nil facet has never
// been written; an empty non-nil facet was cached as empty.
type sidecar struct {
	JobDetails map[string]any `json:"job_details"`
	LogFiles   []string       `json:"log_files"`
}

// MarshalJSON emits only the facets that have been written, so an unwritten
// facet stays absent from the document while an explicitly cached empty one
// round-trips as its empty value.
func (s *sidecar) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, 2)
	if s.JobDetails != nil {
		doc["job_details"] = s.JobDetails
	}
	if s.LogFiles != nil {
		doc["log_files"] = s.LogFiles
	}
	return json.Marshal(doc)
}

// NewCache creates a cache rooted at root for a single openQA host.
// The root directory is created immediately; the host subdirectory is only
// created by the first write, so constructing a cache for a host that is
// never queried touches nothing beyond the root.
func NewCache(root, host string, options ...Option) (*Cache, error) {
	if err := validateHost(host); err != nil {
		return nil, err
	}

	// Apply options
	s := defaultSettings()
	for _, option := range options {
		option(s)
	}

	cache := &Cache{
		root:    root,
		host:    host,
		maxSize: s.maxSize,
		ttl:     s.ttl,
		fs:      s.fs,
		nowFunc: s.nowFunc,
		logger:  s.logger,
		locks:   newMemLock(),
	}
	if s.fileLocking {
		cache.locks = newFileLock()
	}

	if err := cache.fs.MkdirAll(cache.root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache root: %w", err)
	}

	return cache, nil
}

// validateHost rejects host identifiers that are empty or would escape the
// cache root when used as a directory name.
func validateHost(host string) error {
	if host == "" {
		return fmt.Errorf("%w: empty", ErrInvalidHost)
	}
	if host == "." || host == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidHost, host)
	}
	if strings.ContainsAny(host, `/\`) {
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidHost, host)
	}
	return nil
}

// validateFilename rejects log filenames that are empty or would escape the
// job directory. Listing names come from the remote service verbatim, so
// they are checked before any path is built from them.
func validateFilename(filename string) error {
	if filename == "" {
		return fmt.Errorf("%w: empty", ErrInvalidFilename)
	}
	if strings.ContainsAny(filename, `/\`) {
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidFilename, filename)
	}
	if filename == "." || filename == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}
	return nil
}

// JobDetails returns the cached details document for a job.
// Returns ErrCacheMiss if the sidecar is absent, stale, or has no details
// facet, and a *CorruptEntryError if the sidecar cannot be decoded.
func (c *Cache) JobDetails(jobID string) (map[string]any, error) {
	doc, err := c.readSidecar(jobID)
	if err != nil {
		return nil, err
	}
	if doc.JobDetails == nil {
		return nil, ErrCacheMiss
	}
	return doc.JobDetails, nil
}

// WriteJobDetails stores the details document for a job, creating the host
// directory on first use. Any cached log listing for the job is preserved.
func (c *Cache) WriteJobDetails(jobID string, details map[string]any) error {
	return c.mergeSidecar(jobID, func(doc *sidecar) {
		if details == nil {
			details = map[string]any{}
		}
		doc.JobDetails = details
	})
}

// LogList returns the cached log listing for a job, in listing order.
// Returns ErrCacheMiss if the sidecar is absent, stale, or has no listing
// facet, and a *CorruptEntryError if the sidecar cannot be decoded.
func (c *Cache) LogList(jobID string) ([]string, error) {
	doc, err := c.readSidecar(jobID)
	if err != nil {
		return nil, err
	}
	if doc.LogFiles == nil {
		return nil, ErrCacheMiss
	}
	return doc.LogFiles, nil
}

// WriteLogList stores the log listing for a job, creating the host directory
// on first use. Any cached details for the job are preserved.
func (c *Cache) WriteLogList(jobID string, files []string) error {
	return c.mergeSidecar(jobID, func(doc *sidecar) {
		copied := make([]string, len(files))
		copy(copied, files)
		doc.LogFiles = copied
	})
}

// LogFilePath resolves the on-disk path for one log file of a job.
//
// With checkExists true it returns the path only when the filename appears
// in the cached listing and the file is present on disk; either condition
// failing is ErrCacheMiss. With checkExists false it returns the
// deterministic path unconditionally, which is how callers learn the
// destination to download into before the file exists.
func (c *Cache) LogFilePath(jobID, filename string, checkExists bool) (string, error) {
	if err := validateFilename(filename); err != nil {
		return "", err
	}

	path := filepath.Join(c.logDir(jobID), filename)
	if !checkExists {
		return path, nil
	}

	files, err := c.LogList(jobID)
	if err != nil {
		return "", err
	}
	listed := false
	for _, f := range files {
		if f == filename {
			listed = true
			break
		}
	}
	if !listed {
		return "", ErrCacheMiss
	}

	exists, err := afero.Exists(c.fs, path)
	if err != nil {
		return "", fmt.Errorf("failed to check log file: %w", err)
	}
	if !exists {
		// Listed but not on disk: the download never finished. Treat as a
		// miss so the caller re-triggers it.
		return "", ErrCacheMiss
	}

	return path, nil
}

// readSidecar loads and decodes the sidecar for a job, applying the TTL.
func (c *Cache) readSidecar(jobID string) (*sidecar, error) {
	path := c.sidecarPath(jobID)

	info, err := c.fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to stat sidecar: %w", err)
	}
	if !c.fresh(info.ModTime()) {
		return nil, ErrCacheMiss
	}

	data, err := afero.ReadFile(c.fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sidecar: %w", err)
	}

	var doc sidecar
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &CorruptEntryError{Path: path, Err: err}
	}
	return &doc, nil
}

// mergeSidecar performs the read-modify-write cycle for one sidecar under
// the per-file lock: load the existing document ignoring the TTL, apply the
// mutation, and persist atomically.
func (c *Cache) mergeSidecar(jobID string, mutate func(*sidecar)) error {
	path := c.sidecarPath(jobID)

	// The file lock lives next to the sidecar, so the host directory must
	// exist before the lock is taken.
	if err := c.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create host directory: %w", err)
	}

	return c.locks.doWithLock(path, func() error {
		doc := &sidecar{}

		data, err := afero.ReadFile(c.fs, path)
		switch {
		case os.IsNotExist(err):
			// First write for this job.
		case err != nil:
			return fmt.Errorf("failed to read sidecar: %w", err)
		default:
			if err := json.Unmarshal(data, doc); err != nil {
				// The corrupt document's data is already lost; refusing the
				// write would wedge the entry permanently. Start over.
				c.logger.WithFields(logrus.Fields{
					"path":  path,
					"error": err,
				}).Warn("overwriting corrupt cache entry")
				doc = &sidecar{}
			}
		}

		mutate(doc)
		return c.writeSidecarLocked(path, doc)
	})
}

// writeSidecarLocked persists a sidecar document atomically: the document is
// written to a temporary file in the same directory and renamed into place,
// so no reader ever observes a partial file. Callers must hold the sidecar
// lock.
func (c *Cache) writeSidecarLocked(path string, doc *sidecar) error {
	if err := c.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create host directory: %w", err)
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode sidecar: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := afero.WriteFile(c.fs, tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp sidecar: %w", err)
	}
	if err := c.fs.Rename(tmpPath, path); err != nil {
		c.fs.Remove(tmpPath)
		return fmt.Errorf("failed to rename sidecar: %w", err)
	}
	return nil
}

// fresh reports whether an entry written at modTime is still usable under
// the cache TTL.
func (c *Cache) fresh(modTime time.Time) bool {
	switch {
	case c.ttl < 0:
		return true
	case c.ttl == 0:
		return false
	default:
		return c.nowFunc().Sub(modTime) <= c.ttl
	}
}

// hostDir returns the per-host directory under the cache root.
func (c *Cache) hostDir() string {
	return filepath.Join(c.root, c.host)
}

// sidecarPath returns the path to a job's sidecar file.
func (c *Cache) sidecarPath(jobID string) string {
	return filepath.Join(c.hostDir(), jobID+".json")
}

// logDir returns the directory holding a job's downloaded log files.
func (c *Cache) logDir(jobID string) string {
	return filepath.Join(c.hostDir(), jobID)
}

// now returns the current time.
func (c *Cache) now() time.Time {
	return c.nowFunc()
}
