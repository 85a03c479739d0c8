package openqalocal

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOpenQA is a minimal openQA lookalike serving one job.
type fakeOpenQA struct {
	mu           sync.Mutex
	jobID        string
	state        string
	logs         []fakeLog
	detailsHits  int
	listingHits  int
	downloadHits int
}

type fakeLog struct {
	name    string
	content string
}

func (f *fakeOpenQA) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		switch {
		case r.URL.Path == "/api/v1":
			w.WriteHeader(http.StatusOK)

		case r.URL.Path == "/api/v1/jobs/"+f.jobID:
			f.detailsHits++
			fmt.Fprintf(w, `{"job": {"id": %s, "state": %q}}`, f.jobID, f.state)

		case r.URL.Path == "/tests/"+f.jobID+"/downloads_ajax":
			f.listingHits++
			fmt.Fprint(w, `<ul class="resultfile-list">`)
			for _, l := range f.logs {
				fmt.Fprintf(w, `<li><a href="#">%s</a></li>`, l.name)
			}
			fmt.Fprint(w, `</ul>`)

		case strings.HasPrefix(r.URL.Path, "/tests/"+f.jobID+"/file/"):
			name := strings.TrimPrefix(r.URL.Path, "/tests/"+f.jobID+"/file/")
			for _, l := range f.logs {
				if l.name == name {
					f.downloadHits++
					fmt.Fprint(w, l.content)
					return
				}
			}
			w.WriteHeader(http.StatusNotFound)

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func (f *fakeOpenQA) hits() (details, listing, downloads int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.detailsHits, f.listingHits, f.downloadHits
}

// newTestService wires a Service to a fake openQA over an in-memory
// filesystem.
func newTestService(t *testing.T, fake *fakeOpenQA, options ...Option) (*Service, afero.Fs) {
	t.Helper()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	fs := afero.NewMemMapFs()
	svc, err := NewService(u.Host, append([]Option{
		WithFs(fs),
		WithCacheDir("/cache"),
	}, options...)...)
	require.NoError(t, err)
	return svc, fs
}

func doneJob() *fakeOpenQA {
	return &fakeOpenQA{
		jobID: "4023",
		state: "done",
		logs: []fakeLog{
			{name: "autoinst-log.txt", content: "test output\n"},
			{name: "serial0.txt", content: "serial console\n"},
			{name: "video.ogv", content: "not really a video"},
		},
	}
}

func TestServiceDetailsWritesThrough(t *testing.T) {
	fake := doneJob()
	svc, _ := newTestService(t, fake)
	ctx := context.Background()

	details, err := svc.Details(ctx, "4023")
	require.NoError(t, err)
	assert.Equal(t, "done", details["state"])

	// The second read is served from the cache.
	_, err = svc.Details(ctx, "4023")
	require.NoError(t, err)

	detailsHits, _, _ := fake.hits()
	assert.Equal(t, 1, detailsHits)

	cached, err := svc.Cache().JobDetails("4023")
	require.NoError(t, err)
	assert.Equal(t, "done", cached["state"])
}

func TestServiceDetailsIgnoreCache(t *testing.T) {
	fake := doneJob()
	svc, _ := newTestService(t, fake, WithIgnoreCache())
	ctx := context.Background()

	_, err := svc.Details(ctx, "4023")
	require.NoError(t, err)
	_, err = svc.Details(ctx, "4023")
	require.NoError(t, err)

	detailsHits, _, _ := fake.hits()
	assert.Equal(t, 2, detailsHits, "ignore-cache must always fetch")

	// Writes still happen.
	_, err = svc.Cache().JobDetails("4023")
	assert.NoError(t, err)
}

func TestServiceDetailsUnknownJob(t *testing.T) {
	svc, _ := newTestService(t, doneJob())

	_, err := svc.Details(context.Background(), "999")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestServiceDetailsCorruptEntryPropagates(t *testing.T) {
	svc, fs := newTestService(t, doneJob())

	path := svc.Cache().sidecarPath("4023")
	require.NoError(t, fs.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, afero.WriteFile(fs, path, []byte("{broken"), 0o644))

	_, err := svc.Details(context.Background(), "4023")
	var corrupt *CorruptEntryError
	assert.ErrorAs(t, err, &corrupt)
}

func TestServiceLogListGatedOnDone(t *testing.T) {
	fake := doneJob()
	fake.state = "running"
	svc, _ := newTestService(t, fake)

	files, err := svc.LogList(context.Background(), "4023", "")
	require.NoError(t, err)
	assert.Empty(t, files, "a job that is not done has no logs yet")

	_, listingHits, _ := fake.hits()
	assert.Zero(t, listingHits, "listing must not be fetched before the job is done")

	_, err = svc.Cache().LogList("4023")
	assert.ErrorIs(t, err, ErrCacheMiss, "nothing may be cached for an unfinished job")
}

func TestServiceLogListWritesThrough(t *testing.T) {
	fake := doneJob()
	svc, _ := newTestService(t, fake)
	ctx := context.Background()

	files, err := svc.LogList(ctx, "4023", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"autoinst-log.txt", "serial0.txt", "video.ogv"}, files)

	_, err = svc.LogList(ctx, "4023", "")
	require.NoError(t, err)

	_, listingHits, _ := fake.hits()
	assert.Equal(t, 1, listingHits)
}

func TestServiceLogListNamePattern(t *testing.T) {
	svc, _ := newTestService(t, doneJob())

	files, err := svc.LogList(context.Background(), "4023", `\.txt$`)
	require.NoError(t, err)
	assert.Equal(t, []string{"autoinst-log.txt", "serial0.txt"}, files)

	_, err = svc.LogList(context.Background(), "4023", `([`)
	assert.Error(t, err, "an invalid pattern is a caller bug, not an empty result")
}

func TestServiceLogFilenameDownloadsOnce(t *testing.T) {
	fake := doneJob()
	svc, fs := newTestService(t, fake)
	ctx := context.Background()

	path, err := svc.LogFilename(ctx, "4023", "autoinst-log.txt")
	require.NoError(t, err)

	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Equal(t, "test output\n", string(data))

	// Second resolution is served from disk.
	again, err := svc.LogFilename(ctx, "4023", "autoinst-log.txt")
	require.NoError(t, err)
	assert.Equal(t, path, again)

	_, _, downloadHits := fake.hits()
	assert.Equal(t, 1, downloadHits)
}

func TestServiceLogFilenameUnknownFile(t *testing.T) {
	svc, _ := newTestService(t, doneJob())

	_, err := svc.LogFilename(context.Background(), "4023", "worker-log.txt")
	assert.ErrorIs(t, err, ErrLogNotFound)
}

func TestServiceLogData(t *testing.T) {
	svc, _ := newTestService(t, doneJob())

	data, err := svc.LogData(context.Background(), "4023", "serial0.txt")
	require.NoError(t, err)
	assert.Equal(t, "serial console\n", string(data))
}

func TestServiceTTLDisabledStillWritesThrough(t *testing.T) {
	fake := doneJob()
	svc, _ := newTestService(t, fake, WithTTL(TTLDisabled))
	ctx := context.Background()

	_, err := svc.Details(ctx, "4023")
	require.NoError(t, err)
	_, err = svc.Details(ctx, "4023")
	require.NoError(t, err)

	detailsHits, _, _ := fake.hits()
	assert.Equal(t, 2, detailsHits, "TTL 0 disables reads, every lookup fetches")

	// The sidecar is still written for caches with a real TTL.
	exists, err := afero.Exists(svc.Cache().fs, svc.Cache().sidecarPath("4023"))
	require.NoError(t, err)
	assert.True(t, exists)
}
