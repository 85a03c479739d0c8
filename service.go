package openqalocal

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// ErrLogNotFound is returned when a job does not expose the requested log
// file.
var ErrLogNotFound = errors.New("log file not found")

// jobStateDone is the terminal openQA job state. Logs are assumed incomplete
// until a job reaches it.
const jobStateDone = "done"

// Service ties the cache and the client together: reads are cache-first,
// successful fetches are written through, and log access is gated on the job
// having reached its terminal state.
type Service struct {
	cache       *Cache
	client      *Client
	fs          afero.Fs
	logger      logrus.FieldLogger
	ignoreCache bool
}

// NewService creates the full cache-and-fetch stack for one openQA host.
// The same options configure the underlying Cache and Client.
func NewService(host string, options ...Option) (*Service, error) {
	s := defaultSettings()
	for _, option := range options {
		option(s)
	}

	cache, err := NewCache(s.cacheDir, host, options...)
	if err != nil {
		return nil, err
	}
	client, err := NewClient(host, options...)
	if err != nil {
		return nil, err
	}

	return &Service{
		cache:       cache,
		client:      client,
		fs:          s.fs,
		logger:      s.logger,
		ignoreCache: s.ignoreCache,
	}, nil
}

// Cache returns the underlying disk cache.
func (s *Service) Cache() *Cache {
	return s.cache
}

// Details returns the details document for a job, from cache when fresh,
// otherwise from the remote service with a write-through.
// Returns ErrJobNotFound when the remote system does not know the job.
func (s *Service) Details(ctx context.Context, jobID string) (map[string]any, error) {
	if !s.ignoreCache {
		details, err := s.cache.JobDetails(jobID)
		switch {
		case err == nil:
			s.logger.WithField("job", jobID).Debug("job details served from cache")
			return details, nil
		case errors.Is(err, ErrCacheMiss):
			// Fall through to the remote service.
		default:
			return nil, err
		}
	}

	details, err := s.client.JobDetails(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if err := s.cache.WriteJobDetails(jobID, details); err != nil {
		// The fetch succeeded; a failed write-through costs a future round
		// trip, not this result.
		s.logger.WithFields(logrus.Fields{
			"job":   jobID,
			"error": err,
		}).Warn("failed to cache job details")
	}
	return details, nil
}

// LogList returns the log file names of a job, optionally filtered by a
// regular expression.
//
// Listings exist only for finished jobs: when the job's details do not
// report the "done" state, the result is an empty list and nothing is
// cached. An empty fetched listing is likewise not written through, since
// the listing endpoint degrades to empty on transient failures and caching
// that would mask the job's real logs until the entry expires.
func (s *Service) LogList(ctx context.Context, jobID, namePattern string) ([]string, error) {
	var pattern *regexp.Regexp
	if namePattern != "" {
		var err error
		pattern, err = regexp.Compile(namePattern)
		if err != nil {
			return nil, fmt.Errorf("invalid name pattern: %w", err)
		}
	}

	details, err := s.Details(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if state, _ := details["state"].(string); state != jobStateDone {
		s.logger.WithFields(logrus.Fields{
			"job":   jobID,
			"state": details["state"],
		}).Debug("job not done, no logs yet")
		return nil, nil
	}

	files, err := s.logList(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return filterNames(files, pattern), nil
}

// logList resolves the unfiltered listing, cache-first with write-through.
func (s *Service) logList(ctx context.Context, jobID string) ([]string, error) {
	if !s.ignoreCache {
		files, err := s.cache.LogList(jobID)
		switch {
		case err == nil:
			s.logger.WithField("job", jobID).Debug("log listing served from cache")
			return files, nil
		case errors.Is(err, ErrCacheMiss):
			// Fall through to the remote service.
		default:
			return nil, err
		}
	}

	files := s.client.LogList(ctx, jobID)
	if len(files) == 0 {
		return nil, nil
	}

	if err := s.cache.WriteLogList(jobID, files); err != nil {
		s.logger.WithFields(logrus.Fields{
			"job":   jobID,
			"error": err,
		}).Warn("failed to cache log listing")
	}
	return files, nil
}

// LogFilename returns the local path of one log file of a job, downloading
// it first if it is not already cached.
// Returns ErrLogNotFound when the finished job does not expose the file and
// ErrJobNotFound when the remote system does not know the job.
func (s *Service) LogFilename(ctx context.Context, jobID, filename string) (string, error) {
	if !s.ignoreCache {
		path, err := s.cache.LogFilePath(jobID, filename, true)
		switch {
		case err == nil:
			s.logger.WithFields(logrus.Fields{
				"job":  jobID,
				"file": filename,
			}).Debug("log file served from cache")
			return path, nil
		case errors.Is(err, ErrCacheMiss):
			// Fall through to download.
		default:
			return "", err
		}
	}

	files, err := s.LogList(ctx, jobID, "")
	if err != nil {
		return "", err
	}
	found := false
	for _, f := range files {
		if f == filename {
			found = true
			break
		}
	}
	if !found {
		return "", fmt.Errorf("%w: job %s has no log %q", ErrLogNotFound, jobID, filename)
	}

	dst, err := s.cache.LogFilePath(jobID, filename, false)
	if err != nil {
		return "", err
	}
	if err := s.client.DownloadLog(ctx, jobID, filename, dst); err != nil {
		return "", err
	}

	// Confirm placement before handing the path out.
	exists, err := afero.Exists(s.fs, dst)
	if err != nil {
		return "", fmt.Errorf("failed to confirm download: %w", err)
	}
	if !exists {
		return "", fmt.Errorf("downloaded log %s for job %s did not land at %s", filename, jobID, dst)
	}
	return dst, nil
}

// LogData returns the content of one log file of a job, downloading it first
// if needed.
func (s *Service) LogData(ctx context.Context, jobID, filename string) ([]byte, error) {
	path, err := s.LogFilename(ctx, jobID, filename)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cached log: %w", err)
	}
	return data, nil
}

// filterNames applies an optional compiled pattern to a name list,
// preserving order.
func filterNames(names []string, pattern *regexp.Regexp) []string {
	if pattern == nil {
		return names
	}
	var filtered []string
	for _, name := range names {
		if pattern.MatchString(name) {
			filtered = append(filtered, name)
		}
	}
	return filtered
}
