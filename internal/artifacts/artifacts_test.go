package artifacts

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/deck-processor/internal/config"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/domain"
)

func writeTemp(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLocalStore_UploadDownload(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "")
	require.NoError(t, err)
	ctx := context.Background()

	src := writeTemp(t, "slide_1.svg", "<svg/>")
	url, err := store.Upload(ctx, src, "slide-visuals", "sess-1/slides/slide_1.svg")
	require.NoError(t, err)
	assert.Contains(t, url, "file://")
	assert.Contains(t, url, "sess-1/slides/slide_1.svg")

	dst := filepath.Join(t.TempDir(), "out", "copy.svg")
	got, err := store.Download(ctx, "slide-visuals", "sess-1/slides/slide_1.svg", dst)
	require.NoError(t, err)
	assert.Equal(t, dst, got)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "<svg/>", string(data))
}

func TestLocalStore_PublicURL(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "http://localhost:8000/artifacts/")
	require.NoError(t, err)

	url, err := store.Upload(context.Background(), writeTemp(t, "r.json", "{}"), "processing-results", "s 1/result.json")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000/artifacts/processing-results/s%201/result.json", url)
}

func TestLocalStore_DownloadMissing(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "")
	require.NoError(t, err)

	_, err = store.Download(context.Background(), "b", "nope.json", filepath.Join(t.TempDir(), "x"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLocalStore_RejectsEscapingKeys(t *testing.T) {
	root := t.TempDir()
	store, err := NewLocalStore(root, "")
	require.NoError(t, err)

	_, err = store.Upload(context.Background(), writeTemp(t, "a", "x"), "../b", "k")
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))

	// ".." segments are cleaned back under the bucket
	_, err = store.Upload(context.Background(), writeTemp(t, "a", "x"), "b", "../../etc/passwd")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, "b", "etc", "passwd"))
}

type flakyStore struct {
	failures int32
	calls    int32
	err      error
}

func (f *flakyStore) Upload(ctx context.Context, filePath, bucket, dest string) (string, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if n <= f.failures {
		return "", f.err
	}
	return "mem://" + bucket + "/" + dest, nil
}

func (f *flakyStore) Download(ctx context.Context, bucket, src, destPath string) (string, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if n <= f.failures {
		return "", f.err
	}
	return destPath, nil
}

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func TestRetry_RecoversFromTransientFailures(t *testing.T) {
	inner := &flakyStore{failures: 2, err: errors.New("connection reset")}
	store := WithRetry(inner, fastRetry(3), nil)

	url, err := store.Upload(context.Background(), "f", "b", "k")
	require.NoError(t, err)
	assert.Equal(t, "mem://b/k", url)
	assert.EqualValues(t, 3, inner.calls)
}

func TestRetry_GivesUpAsUploadError(t *testing.T) {
	inner := &flakyStore{failures: 10, err: errors.New("503 service unavailable")}
	store := WithRetry(inner, fastRetry(3), nil)

	_, err := store.Upload(context.Background(), "f", "b", "k")
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeUpload))
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.EqualValues(t, 3, inner.calls)
}

func TestRetry_DoesNotRetryNotFound(t *testing.T) {
	inner := &flakyStore{failures: 10, err: domain.ErrNotFound}
	store := WithRetry(inner, fastRetry(3), nil)

	_, err := store.Download(context.Background(), "b", "k", "d")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.EqualValues(t, 1, inner.calls)
}

func TestRetry_StopsOnCancel(t *testing.T) {
	inner := &flakyStore{failures: 10, err: errors.New("timeout")}
	store := WithRetry(inner, RetryConfig{MaxAttempts: 5, InitialBackoff: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := store.Upload(ctx, "f", "b", "k")
	assert.ErrorIs(t, err, context.Canceled)
	assert.EqualValues(t, 1, inner.calls)
}

func TestRetry_Backoff(t *testing.T) {
	r := WithRetry(nil, RetryConfig{MaxAttempts: 3, InitialBackoff: time.Second, MaxBackoff: 3 * time.Second}, nil)
	assert.Equal(t, time.Second, r.backoff(0))
	assert.Equal(t, 2*time.Second, r.backoff(1))
	assert.Equal(t, 3*time.Second, r.backoff(2))
}

func TestWithRateLimit(t *testing.T) {
	inner := &flakyStore{}
	assert.Same(t, Store(inner), WithRateLimit(inner, 0))

	store := WithRateLimit(inner, 50)
	start := time.Now()
	for i := 0; i < 60; i++ {
		_, err := store.Upload(context.Background(), "f", "b", "k")
		require.NoError(t, err)
	}
	// 50 burst tokens, then 10 more at 50/s
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "image/svg+xml", contentType("a/slide_1.svg"))
	assert.Equal(t, "image/png", contentType("thumb.PNG"))
	assert.Equal(t, "application/json", contentType("result.json"))
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.DefaultConfig().Artifacts
	cfg.LocalDir = t.TempDir()

	store, err := NewFromConfig(cfg, nil)
	require.NoError(t, err)
	_, ok := store.(*Retrying)
	assert.True(t, ok)

	cfg.UploadsPerSecond = 5
	store, err = NewFromConfig(cfg, nil)
	require.NoError(t, err)
	_, ok = store.(*Throttled)
	assert.True(t, ok)

	cfg.Driver = "ftp"
	_, err = NewFromConfig(cfg, nil)
	assert.Error(t, err)
}
