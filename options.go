package openqalocal

import (
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Option configures a Cache, Client, or Service. Options that do not apply
// to the component being constructed are ignored.
type Option func(*settings)

// settings collects the configuration shared by all constructors.
type settings struct {
	fs          afero.Fs
	nowFunc     NowFunc
	ttl         time.Duration
	maxSize     int64
	logger      logrus.FieldLogger
	fileLocking bool
	httpClient  *http.Client
	cacheDir    string
	ignoreCache bool
}

func defaultSettings() *settings {
	return &settings{
		fs:       afero.NewOsFs(),
		nowFunc:  time.Now,
		ttl:      TTLNever,
		maxSize:  DefaultMaxSize,
		logger:   discardLogger(),
		cacheDir: ".cache",
	}
}

// discardLogger returns a logger that drops everything. Diagnostics are
// opt-in via WithLogger.
func discardLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// WithFs sets a custom filesystem.
// This is primarily useful for testing with in-memory filesystems.
//
// Example:
//
//	cache, err := openqalocal.NewCache(".cache", host, openqalocal.WithFs(afero.NewMemMapFs()))
func WithFs(fs afero.Fs) Option {
	return func(s *settings) {
		s.fs = fs
	}
}

// WithNowFunc sets a custom time function, used by the TTL check.
// This is primarily useful for testing with deterministic timestamps.
func WithNowFunc(nowFunc NowFunc) Option {
	return func(s *settings) {
		s.nowFunc = nowFunc
	}
}

// WithTTL sets the staleness threshold for sidecar reads. Use TTLNever for
// entries that never expire and TTLDisabled to make every read a miss while
// still writing through. The default is TTLNever.
func WithTTL(ttl time.Duration) Option {
	return func(s *settings) {
		s.ttl = ttl
	}
}

// WithMaxSize sets the advisory cache size bound in bytes, reported by
// Stats. The default is DefaultMaxSize.
func WithMaxSize(maxSize int64) Option {
	return func(s *settings) {
		s.maxSize = maxSize
	}
}

// WithLogger sets the diagnostic sink. The default discards all output.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithFileLocking guards sidecar read-modify-write cycles with advisory file
// locks instead of in-process mutexes, so multiple processes can share one
// cache directory. Only meaningful on a real filesystem.
func WithFileLocking() Option {
	return func(s *settings) {
		s.fileLocking = true
	}
}

// WithHTTPClient sets the underlying HTTP client used for all remote calls.
// The default client disables certificate verification, since openQA
// instances commonly run with self-signed certificates; a custom client
// replaces that behavior entirely.
func WithHTTPClient(client *http.Client) Option {
	return func(s *settings) {
		s.httpClient = client
	}
}

// WithCacheDir sets the cache root directory used by NewService.
// The default is ".cache".
func WithCacheDir(dir string) Option {
	return func(s *settings) {
		s.cacheDir = dir
	}
}

// WithIgnoreCache makes the service skip cache reads and always ask the
// remote service. Results are still written through to the cache.
func WithIgnoreCache() Option {
	return func(s *settings) {
		s.ignoreCache = true
	}
}
