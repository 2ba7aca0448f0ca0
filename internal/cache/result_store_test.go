package cache

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/deck-processor/internal/domain"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "deck.pptx")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func sampleResult() *domain.ResultDocument {
	row := 0
	text, _ := domain.NewTextShape("shape-1", domain.ShapeKindTableCell,
		domain.BoundingBox{X: 10, Y: 20, Width: 30, Height: 40, Unit: domain.UnitEMU},
		domain.TextContent{
			Text:                "Quarterly results",
			Style:               domain.DefaultTextStyle(),
			TranslationPriority: 3,
			WordCount:           2,
			CharCount:           17,
			Segments: []domain.TextSegment{{
				Text: "Quarterly results", SegmentIndex: 0, WordCount: 2, CharCount: 17,
			}},
			Row:    &row,
			Column: &row,
		})
	text.ReadingOrder = 1

	return &domain.ResultDocument{
		SessionID:          "sess-1",
		JobID:              "job-1",
		SlideCount:         1,
		OverallStatus:      domain.OverallCompleted,
		ProcessingDuration: 1.5,
		CreatedAt:          time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Slides: []domain.Slide{{
			ID:                   "slide-1",
			SlideNumber:          1,
			Width:                9144000,
			Height:               5143500,
			Unit:                 domain.UnitEMU,
			VectorImageReference: "http://example.test/sess-1/slides/slide_1.svg",
			Shapes:               []domain.Shape{text},
		}},
	}
}

func TestGenerateKey_Idempotent(t *testing.T) {
	path := writeFile(t, strings.Repeat("slide-bytes", 5000))

	k1, ok := GenerateKey(path, map[string]string{"a": "1", "b": "2", "generate_thumbnails": "true"})
	require.True(t, ok)
	k2, ok := GenerateKey(path, map[string]string{"generate_thumbnails": "true", "b": "2", "a": "1"})
	require.True(t, ok)

	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 64)
}

func TestGenerateKey_ChangesWithContentAndParams(t *testing.T) {
	a := writeFile(t, "deck A")
	b := writeFile(t, "deck B")

	ka, _ := GenerateKey(a, map[string]string{"lang": "en"})
	kb, _ := GenerateKey(b, map[string]string{"lang": "en"})
	kc, _ := GenerateKey(a, map[string]string{"lang": "de"})

	assert.NotEqual(t, ka, kb)
	assert.NotEqual(t, ka, kc)
}

func TestGenerateKey_UnreadableFile(t *testing.T) {
	key, ok := GenerateKey(filepath.Join(t.TempDir(), "missing.pptx"), nil)
	assert.False(t, ok)
	assert.Empty(t, key)
}

func TestResultStore_RoundTrip(t *testing.T) {
	fileClient, err := NewFileClient(t.TempDir())
	require.NoError(t, err)

	backends := map[string]Client{
		"file":   fileClient,
		"memory": NewMemoryClient(10),
	}

	for name, client := range backends {
		t.Run(name, func(t *testing.T) {
			defer client.Close()
			store := NewResultStore(client, nil, ResultStoreConfig{})
			ctx := context.Background()
			want := sampleResult()

			require.True(t, store.Put(ctx, "abc123", want, "http://example.test/sess-1/result.json"))

			got, location, ok := store.Get(ctx, "abc123")
			require.True(t, ok)
			assert.Equal(t, "http://example.test/sess-1/result.json", location)
			assert.Equal(t, want, got)
		})
	}
}

func TestResultStore_MissAndClear(t *testing.T) {
	store := NewResultStore(NewMemoryClient(10), nil, ResultStoreConfig{})
	ctx := context.Background()

	_, _, ok := store.Get(ctx, "nope")
	assert.False(t, ok)

	_, _, ok = store.Get(ctx, "")
	assert.False(t, ok)

	require.True(t, store.Put(ctx, "k1", sampleResult(), "loc1"))
	require.True(t, store.Put(ctx, "k2", sampleResult(), "loc2"))

	assert.True(t, store.Clear(ctx, "k1"))
	_, _, ok = store.Get(ctx, "k1")
	assert.False(t, ok)

	assert.True(t, store.ClearAll(ctx))
	_, _, ok = store.Get(ctx, "k2")
	assert.False(t, ok)
}

func TestResultStore_OverwritesWholesale(t *testing.T) {
	store := NewResultStore(NewMemoryClient(10), nil, ResultStoreConfig{})
	ctx := context.Background()

	first := sampleResult()
	second := sampleResult()
	second.Slides = nil
	second.SlideCount = 0

	require.True(t, store.Put(ctx, "k", first, "a"))
	require.True(t, store.Put(ctx, "k", second, "b"))

	got, loc, ok := store.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "b", loc)
	assert.Empty(t, got.Slides)
}

func TestResultStore_CorruptEntryIsDeleted(t *testing.T) {
	dir := t.TempDir()
	client, err := NewFileClient(dir)
	require.NoError(t, err)
	store := NewResultStore(client, nil, ResultStoreConfig{})
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "result-bad", []byte("{not json"), 0))

	_, _, ok := store.Get(ctx, "bad")
	assert.False(t, ok)

	_, err = client.Get(ctx, "result-bad")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestResultStore_TTLExpiry(t *testing.T) {
	client, err := NewFileClient(t.TempDir())
	require.NoError(t, err)
	store := NewResultStore(client, nil, ResultStoreConfig{TTL: 20 * time.Millisecond})
	ctx := context.Background()

	require.True(t, store.Put(ctx, "k", sampleResult(), "loc"))
	_, _, ok := store.Get(ctx, "k")
	require.True(t, ok)

	time.Sleep(40 * time.Millisecond)
	_, _, ok = store.Get(ctx, "k")
	assert.False(t, ok)
}

func TestFileClient_NoTempFilesLeftBehind(t *testing.T) {
	dir := t.TempDir()
	client, err := NewFileClient(dir)
	require.NoError(t, err)

	require.NoError(t, client.Set(context.Background(), "result-x", []byte(`{}`), 0))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "result-x.json", entries[0].Name())
}

func TestMemoryClient_EvictsOldestWhenFull(t *testing.T) {
	c := NewMemoryClient(2)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), 0))
	require.NoError(t, c.Set(ctx, "a", []byte("1b"), 0))
	require.NoError(t, c.Set(ctx, "c", []byte("3"), 0))

	assert.Equal(t, 2, c.Len())
	_, err := c.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrCacheMiss)
	got, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "1b", string(got))
}

func TestMemoryClient_ExpiresLazily(t *testing.T) {
	c := NewMemoryClient(10)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "session-1", []byte("x"), time.Minute))
	require.NoError(t, c.Set(ctx, "pinned", []byte("y"), 0))

	now = now.Add(2 * time.Minute)
	_, err := c.Get(ctx, "session-1")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Equal(t, 1, c.Len())

	require.NoError(t, c.DeleteByPrefix(ctx, "pin"))
	assert.Equal(t, 0, c.Len())
}

func TestFileClient_DistinctKeysNeverShareAFile(t *testing.T) {
	client, err := NewFileClient(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	keys := []string{"session-acme/q3", "session-acme.q3", "session-acme q3", "session-acme_q3", "session-acme:q3"}
	for _, k := range keys {
		require.NoError(t, client.Set(ctx, k, []byte(k), 0))
	}
	for _, k := range keys {
		got, err := client.Get(ctx, k)
		require.NoError(t, err, k)
		assert.Equal(t, k, string(got))
	}

	require.NoError(t, client.DeleteByPrefix(ctx, "session-acme/"))
	_, err = client.Get(ctx, "session-acme/q3")
	assert.ErrorIs(t, err, ErrCacheMiss)
	for _, k := range keys[1:] {
		_, err := client.Get(ctx, k)
		assert.NoError(t, err, k)
	}
}

func TestFileClient_LongKeys(t *testing.T) {
	dir := t.TempDir()
	client, err := NewFileClient(dir)
	require.NoError(t, err)
	ctx := context.Background()

	base := "result-" + strings.Repeat("ab/", 100)
	a, b := base+"one", base+"two"
	require.NoError(t, client.Set(ctx, a, []byte("1"), 0))
	require.NoError(t, client.Set(ctx, b, []byte("2"), 0))

	got, err := client.Get(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, "1", string(got))
	got, err = client.Get(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, "2", string(got))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.LessOrEqual(t, len(e.Name()), 255)
	}

	require.NoError(t, client.DeleteByPrefix(ctx, "result-"))
	entries, err = os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestResultStore_SessionKeysWithSeparatorsStayApart(t *testing.T) {
	client, err := NewFileClient(t.TempDir())
	require.NoError(t, err)
	store := NewResultStore(client, nil, ResultStoreConfig{})
	ctx := context.Background()

	first := sampleResult()
	first.SessionID = "acme/q3"
	second := sampleResult()
	second.SessionID = "acme.q3"

	require.True(t, store.Put(ctx, "session-acme/q3", first, "a"))
	require.True(t, store.Put(ctx, "session-acme.q3", second, "b"))

	got, loc, ok := store.Get(ctx, "session-acme/q3")
	require.True(t, ok)
	assert.Equal(t, "a", loc)
	assert.Equal(t, "acme/q3", got.SessionID)

	got, loc, ok = store.Get(ctx, "session-acme.q3")
	require.True(t, ok)
	assert.Equal(t, "b", loc)
	assert.Equal(t, "acme.q3", got.SessionID)
}
