package openqalocal

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// bufferPool is a pool of byte slices used when streaming log files to disk.
var bufferPool = sync.Pool{
	New: func() any {
		buf := make([]byte, 64*1024)
		return &buf
	},
}

// Client is an API client for one openQA host.
//
// The working transport is negotiated lazily on the first request: HTTPS is
// probed first and HTTP is tried on a connectivity failure. The outcome is
// memoized, so a fallback to HTTP is permanent for the client's lifetime.
// Certificate verification is disabled, since openQA instances commonly run
// with self-signed certificates; a warning is logged once at negotiation
// time.
type Client struct {
	host       string
	logger     logrus.FieldLogger
	fs         afero.Fs
	httpClient *http.Client

	mu       sync.Mutex
	baseURL  string // negotiated scheme://host, empty until negotiation
	warnOnce sync.Once
}

// NewClient creates a client for the given openQA host. No network
// connection is made until the first request.
func NewClient(host string, options ...Option) (*Client, error) {
	if err := validateHost(host); err != nil {
		return nil, err
	}

	// Apply options
	s := defaultSettings()
	for _, option := range options {
		option(s)
	}

	httpClient := s.httpClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		}
	}

	return &Client{
		host:       host,
		logger:     s.logger,
		fs:         s.fs,
		httpClient: httpClient,
	}, nil
}

// Host returns the host this client talks to.
func (c *Client) Host() string {
	return c.host
}

// base returns the negotiated base URL, performing scheme negotiation on the
// first call. Negotiation probes HTTPS and falls back to HTTP only on
// transport-level failures; an API-level failure response still proves the
// transport works. A failed negotiation is not memoized, so a later call may
// retry once the host is reachable again.
func (c *Client) base(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.baseURL != "" {
		return c.baseURL, nil
	}

	c.warnOnce.Do(func() {
		c.logger.WithField("host", c.host).
			Warn("TLS certificate verification is disabled for openQA connections")
	})

	var probeErr error
	for _, scheme := range []string{"https", "http"} {
		base := scheme + "://" + c.host
		if err := c.probe(ctx, base); err != nil {
			probeErr = err
			c.logger.WithFields(logrus.Fields{
				"scheme": scheme,
				"host":   c.host,
				"error":  err,
			}).Debug("scheme probe failed")
			continue
		}
		c.logger.WithFields(logrus.Fields{
			"scheme": scheme,
			"host":   c.host,
		}).Debug("negotiated transport")
		c.baseURL = base
		return base, nil
	}

	return "", &ConnectionError{Host: c.host, Err: probeErr}
}

// probe issues a lightweight capability request against the API root. Any
// HTTP response, whatever its status, proves connectivity.
func (c *Client) probe(ctx context.Context, base string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/v1", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// JobDetails fetches the job representation for one job id.
//
// A remote 404 yields ErrJobNotFound, the normal outcome for jobs the remote
// system does not know yet. Any other failure response, and any success
// response missing the expected "job" key, is a *APIError. Transport-level
// failures are *ConnectionError.
func (c *Client) JobDetails(ctx context.Context, jobID string) (map[string]any, error) {
	base, err := c.base(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/v1/jobs/"+jobID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ConnectionError{Host: c.host, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: job %s", ErrJobNotFound, jobID)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: bodySnippet(resp.Body)}
	}

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &APIError{Message: fmt.Sprintf("undecodable response: %v", err)}
	}
	job, ok := payload["job"].(map[string]any)
	if !ok {
		return nil, &APIError{Message: "response is missing the job key"}
	}
	return job, nil
}

// LogList fetches the names of the log files openQA currently exposes for a
// job, in the order the downloads view lists them.
//
// Listing is best-effort: any failure, from negotiation to a non-2xx status
// to unparsable markup, degrades to an empty slice and a logged warning
// rather than an error.
func (c *Client) LogList(ctx context.Context, jobID string) []string {
	log := c.logger.WithField("job", jobID)

	base, err := c.base(ctx)
	if err != nil {
		log.WithField("error", err).Warn("log listing skipped, host unreachable")
		return nil
	}

	listURL := fmt.Sprintf("%s/tests/%s/downloads_ajax", base, jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		log.WithField("error", err).Warn("log listing request could not be built")
		return nil
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.WithField("error", err).Warn("log listing fetch failed")
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.WithField("status", resp.StatusCode).Warn("log listing fetch failed")
		return nil
	}

	names, err := parseLogListing(resp.Body)
	if err != nil {
		log.WithField("error", err).Warn("log listing markup could not be parsed")
		return nil
	}
	return names
}

// DownloadLog streams one log file of a job to dst, overwriting any existing
// content. The body is copied in chunks, never materialized in memory. Any
// failure is a *DownloadError, fatal for this file only; the client stays
// usable for other downloads.
func (c *Client) DownloadLog(ctx context.Context, jobID, filename, dst string) error {
	if err := validateFilename(filename); err != nil {
		return &DownloadError{JobID: jobID, Filename: filename, Err: err}
	}

	base, err := c.base(ctx)
	if err != nil {
		return &DownloadError{JobID: jobID, Filename: filename, Err: err}
	}

	fileURL := fmt.Sprintf("%s/tests/%s/file/%s", base, jobID, url.PathEscape(filename))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return &DownloadError{JobID: jobID, Filename: filename, Err: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &DownloadError{JobID: jobID, Filename: filename, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DownloadError{
			JobID:    jobID,
			Filename: filename,
			Err:      fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	if err := c.streamToFile(resp.Body, dst); err != nil {
		return &DownloadError{JobID: jobID, Filename: filename, Err: err}
	}

	c.logger.WithFields(logrus.Fields{
		"job":  jobID,
		"file": filename,
		"dst":  dst,
	}).Debug("downloaded log file")
	return nil
}

// streamToFile copies body to dst through a temporary file in the same
// directory, renamed into place so a reader never sees a partial download.
func (c *Client) streamToFile(body io.Reader, dst string) error {
	if err := c.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	tmpPath := dst + ".tmp"
	tmpFile, err := c.fs.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer c.fs.Remove(tmpPath) // Clean up if something goes wrong

	bufPtr := bufferPool.Get().(*[]byte)
	_, copyErr := io.CopyBuffer(tmpFile, body, *bufPtr)
	bufferPool.Put(bufPtr)
	closeErr := tmpFile.Close()
	if copyErr != nil {
		return fmt.Errorf("failed to write temp file: %w", copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close temp file: %w", closeErr)
	}

	if err := c.fs.Rename(tmpPath, dst); err != nil {
		return fmt.Errorf("failed to rename log file: %w", err)
	}
	return nil
}

// bodySnippet reads a short, single-line prefix of a response body for use
// in error messages.
func bodySnippet(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil || len(data) == 0 {
		return "(no response body)"
	}
	return strings.Join(strings.Fields(string(data)), " ")
}
