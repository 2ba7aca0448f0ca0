package jobstatus

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/deck-processor/internal/domain"
)

func newJob(id string) domain.Job {
	return domain.Job{
		ID:         id,
		SessionID:  "sess-" + id,
		SourcePath: "/uploads/" + id + ".pptx",
		Options:    domain.JobOptions{SourceLanguage: "en", GenerateThumbnails: true},
	}
}

func TestStore_CreateAndGet(t *testing.T) {
	s, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	st := s.Create(ctx, newJob("j1"))
	assert.Equal(t, domain.JobStateQueued, st.State)
	assert.Equal(t, 0, st.Progress)

	got, err := s.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, "sess-j1", got.SessionID)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_TransitionsAreValidated(t *testing.T) {
	s, err := NewStore("", nil)
	require.NoError(t, err)
	ctx := context.Background()
	s.Create(ctx, newJob("j1"))

	_, err = s.Update(ctx, "j1", domain.StatusUpdate{State: domain.Ptr(domain.JobStateCompleted)})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = s.Update(ctx, "j1", domain.StatusUpdate{State: domain.Ptr(domain.JobStateProcessing), Progress: domain.Ptr(1)})
	require.NoError(t, err)

	st, err := s.Update(ctx, "j1", domain.StatusUpdate{State: domain.Ptr(domain.JobStateFailed), Error: domain.Ptr("boom")})
	require.NoError(t, err)
	assert.Equal(t, "boom", st.Error)
	assert.NotNil(t, st.CompletedAt)

	_, err = s.Update(ctx, "j1", domain.StatusUpdate{State: domain.Ptr(domain.JobStateProcessing)})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = s.Update(ctx, "j1", domain.StatusUpdate{Message: domain.Ptr("late")})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestStore_ProgressNeverRegressesWhileProcessing(t *testing.T) {
	s, err := NewStore("", nil)
	require.NoError(t, err)
	ctx := context.Background()
	s.Create(ctx, newJob("j1"))

	_, err = s.Update(ctx, "j1", domain.StatusUpdate{State: domain.Ptr(domain.JobStateProcessing), Progress: domain.Ptr(40)})
	require.NoError(t, err)

	st, err := s.Update(ctx, "j1", domain.StatusUpdate{Progress: domain.Ptr(20)})
	require.NoError(t, err)
	assert.Equal(t, 40, st.Progress)

	st, err = s.Update(ctx, "j1", domain.StatusUpdate{Progress: domain.Ptr(250)})
	require.NoError(t, err)
	assert.Equal(t, 100, st.Progress)
}

func TestStore_CompletedForcesFullProgress(t *testing.T) {
	s, err := NewStore("", nil)
	require.NoError(t, err)
	ctx := context.Background()
	s.Create(ctx, newJob("j1"))

	_, err = s.Update(ctx, "j1", domain.StatusUpdate{State: domain.Ptr(domain.JobStateProcessing), Progress: domain.Ptr(60)})
	require.NoError(t, err)
	st, err := s.Update(ctx, "j1", domain.StatusUpdate{State: domain.Ptr(domain.JobStateCompleted)})
	require.NoError(t, err)
	assert.Equal(t, 100, st.Progress)
}

func TestStore_ResetOnlyFromFailed(t *testing.T) {
	s, err := NewStore("", nil)
	require.NoError(t, err)
	ctx := context.Background()
	s.Create(ctx, newJob("j1"))

	_, err = s.Reset(ctx, "j1")
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = s.Update(ctx, "j1", domain.StatusUpdate{State: domain.Ptr(domain.JobStateProcessing), Progress: domain.Ptr(30)})
	require.NoError(t, err)
	_, err = s.Update(ctx, "j1", domain.StatusUpdate{State: domain.Ptr(domain.JobStateFailed), Error: domain.Ptr("renderer down")})
	require.NoError(t, err)

	st, err := s.Reset(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateQueued, st.State)
	assert.Equal(t, 0, st.Progress)
	assert.Empty(t, st.Error)
	assert.Nil(t, st.CompletedAt)

	_, err = s.Reset(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_SnapshotSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s1, err := NewStore(dir, nil)
	require.NoError(t, err)
	s1.Create(ctx, newJob("j1"))
	_, err = s1.Update(ctx, "j1", domain.StatusUpdate{State: domain.Ptr(domain.JobStateProcessing), Progress: domain.Ptr(10)})
	require.NoError(t, err)
	_, err = s1.Update(ctx, "j1", domain.StatusUpdate{State: domain.Ptr(domain.JobStateFailed), Error: domain.Ptr("x")})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "j1.json"))
	require.NoError(t, err)

	s2, err := NewStore(dir, nil)
	require.NoError(t, err)

	st, err := s2.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateFailed, st.State)

	rec, err := s2.Record(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, "/uploads/j1.pptx", rec.SourcePath)
	assert.True(t, rec.Options.GenerateThumbnails)
	assert.Equal(t, "sess-j1", rec.Job().SessionID)

	st, err = s2.Reset(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateQueued, st.State)
}

func TestStore_SnapshotWriteFailureIsNotFatal(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, nil)
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(dir))

	ctx := context.Background()
	st := s.Create(ctx, newJob("j1"))
	assert.Equal(t, domain.JobStateQueued, st.State)

	_, err = s.Update(ctx, "j1", domain.StatusUpdate{State: domain.Ptr(domain.JobStateProcessing)})
	assert.NoError(t, err)
}

func TestStore_PruneReleasesObservedTerminal(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	s, err := NewStore(t.TempDir(), nil, WithClock(clock))
	require.NoError(t, err)
	ctx := context.Background()

	for _, id := range []string{"done", "unseen", "running"} {
		s.Create(ctx, newJob(id))
		_, err := s.Update(ctx, id, domain.StatusUpdate{State: domain.Ptr(domain.JobStateProcessing)})
		require.NoError(t, err)
	}
	_, err = s.Update(ctx, "done", domain.StatusUpdate{State: domain.Ptr(domain.JobStateCompleted)})
	require.NoError(t, err)
	_, err = s.Update(ctx, "unseen", domain.StatusUpdate{State: domain.Ptr(domain.JobStateCompleted)})
	require.NoError(t, err)

	_, err = s.Get(ctx, "done")
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 1, s.Prune(time.Hour))
	assert.Equal(t, 2, s.Len())

	st, err := s.Get(ctx, "done")
	require.NoError(t, err, "snapshot fallback")
	assert.Equal(t, domain.JobStateCompleted, st.State)
}

func TestStore_NotifiesEveryChange(t *testing.T) {
	var mu sync.Mutex
	var seen []int
	n := NotifierFunc(func(_ context.Context, st domain.JobStatus) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, st.Progress)
	})

	s, err := NewStore("", nil, WithNotifier(n))
	require.NoError(t, err)
	ctx := context.Background()

	s.Create(ctx, newJob("j1"))
	_, _ = s.Update(ctx, "j1", domain.StatusUpdate{State: domain.Ptr(domain.JobStateProcessing), Progress: domain.Ptr(5)})
	_, _ = s.Update(ctx, "j1", domain.StatusUpdate{State: domain.Ptr(domain.JobStateCompleted)})

	assert.Equal(t, []int{0, 5, 100}, seen)
}

type fakePublisher struct {
	channel string
	msgs    [][]byte
	err     error
}

func (p *fakePublisher) Publish(_ context.Context, channel string, payload []byte) error {
	p.channel = channel
	p.msgs = append(p.msgs, payload)
	return p.err
}

func TestPublishNotifier(t *testing.T) {
	pub := &fakePublisher{}
	n := NewPublishNotifier(pub, "job-status", nil)

	n.Notify(context.Background(), domain.JobStatus{JobID: "j1"})
	assert.Equal(t, "job-status", pub.channel)
	require.Len(t, pub.msgs, 1)
	assert.Contains(t, string(pub.msgs[0]), `"job_id":"j1"`)

	pub.err = errors.New("redis down")
	assert.NotPanics(t, func() { n.Notify(context.Background(), domain.JobStatus{JobID: "j2"}) })
}

func TestStore_ConcurrentUpdates(t *testing.T) {
	s, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		id := string(rune('a' + i))
		s.Create(ctx, newJob(id))
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := 1; p <= 10; p++ {
				_, err := s.Update(ctx, id, domain.StatusUpdate{State: domain.Ptr(domain.JobStateProcessing), Progress: domain.Ptr(p * 10)})
				assert.NoError(t, err)
				_, _ = s.Get(ctx, id)
			}
		}()
	}
	wg.Wait()

	st, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 100, st.Progress)
}

func TestStore_PendingRecoversUnfinishedJobs(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { now = now.Add(time.Second); return now }
	first, err := NewStore(dir, nil, WithClock(clock))
	require.NoError(t, err)
	ctx := context.Background()

	first.Create(ctx, newJob("running"))
	first.Create(ctx, newJob("queued"))
	first.Create(ctx, newJob("done"))
	_, err = first.Update(ctx, "running", domain.StatusUpdate{State: domain.Ptr(domain.JobStateProcessing), Progress: domain.Ptr(30)})
	require.NoError(t, err)
	_, err = first.Update(ctx, "done", domain.StatusUpdate{State: domain.Ptr(domain.JobStateProcessing)})
	require.NoError(t, err)
	_, err = first.Update(ctx, "done", domain.StatusUpdate{State: domain.Ptr(domain.JobStateCompleted)})
	require.NoError(t, err)

	second, err := NewStore(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Len())

	pending, err := second.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "running", pending[0].Status.JobID)
	assert.Equal(t, domain.JobStateProcessing, pending[0].Status.State)
	assert.Equal(t, "queued", pending[1].Status.JobID)
	assert.Equal(t, "/uploads/queued.pptx", pending[1].Job().SourcePath)
	assert.Equal(t, 2, second.Len())

	again, err := second.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, again, "already loaded records are not returned twice")
}

func TestStore_PendingWithoutPersistence(t *testing.T) {
	s, err := NewStore("", nil)
	require.NoError(t, err)
	s.Create(context.Background(), newJob("j1"))

	pending, err := s.Pending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}
