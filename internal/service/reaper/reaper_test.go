package reaper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"notehub/internal/blobstore"
	memblob "notehub/internal/blobstore/memory"
	"notehub/internal/domain"
	"notehub/internal/domain/models"
	memrepo "notehub/internal/repository/memory"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	repo    *memrepo.NoteRepository
	backend *memblob.Backend
	metrics *Metrics
	chore   *Chore
	now     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	metrics, err := NewMetrics("test_reaper", prometheus.NewRegistry())
	require.NoError(t, err)

	h := &harness{
		repo:    memrepo.NewNoteRepository(),
		backend: memblob.New(""),
		metrics: metrics,
		now:     t0,
	}
	store := blobstore.New(h.backend, logger, blobstore.Options{
		Backoff: func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) },
	})
	h.chore = NewChore(logger, Config{Enabled: true}, h.repo, store, metrics)
	h.chore.TestingSetNow(func() time.Time { return h.now })
	return h
}

// rejected stores a note rejected at `at` together with its blob
func (h *harness) rejected(t *testing.T, at time.Time) *models.Note {
	t.Helper()
	ref := fmt.Sprintf("blob-%d", h.repo.Len())
	h.backend.Put(ref, []byte("%PDF"), "application/pdf")

	note := &models.Note{
		Title:     "Rejected",
		BlobRef:   ref,
		State:     models.NoteStatePending,
		AuthorID:  "author-1",
		SubjectID: "subject-1",
		CreatedAt: at,
		UpdatedAt: at,
	}
	require.NoError(t, h.repo.Create(context.Background(), note))
	_, err := h.repo.Transition(context.Background(), note.ID, models.NoteStatePending, models.NoteStateRejected, at)
	require.NoError(t, err)
	return note
}

func (h *harness) exists(t *testing.T, id string) bool {
	t.Helper()
	_, err := h.repo.GetByID(context.Background(), id)
	if errors.Is(err, domain.ErrNotFound) {
		return false
	}
	require.NoError(t, err)
	return true
}

func TestRunOnce_RetentionWindow(t *testing.T) {
	h := newHarness(t)
	note := h.rejected(t, t0)

	h.now = t0.Add(47 * time.Hour)
	stats, err := h.chore.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
	assert.True(t, h.exists(t, note.ID))
	assert.True(t, h.backend.Exists(note.BlobRef))

	h.now = t0.Add(49 * time.Hour)
	stats, err = h.chore.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Candidates: 1, Purged: 1}, stats)
	assert.False(t, h.exists(t, note.ID))
	assert.False(t, h.backend.Exists(note.BlobRef))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.purged))
}

func TestRunOnce_IgnoresOtherStates(t *testing.T) {
	h := newHarness(t)
	h.backend.Put("public-blob", []byte("%PDF"), "application/pdf")
	public := &models.Note{Title: "Public", BlobRef: "public-blob", State: models.NoteStatePublic, CreatedAt: t0}
	require.NoError(t, h.repo.Create(context.Background(), public))

	h.now = t0.Add(1000 * time.Hour)
	stats, err := h.chore.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Candidates)
	assert.True(t, h.exists(t, public.ID))
}

func TestRunOnce_BlobFailureKeepsRecord(t *testing.T) {
	h := newHarness(t)
	note := h.rejected(t, t0)
	flaky := fmt.Errorf("%w: 503", domain.ErrTransientStore)
	h.backend.FailNext(memblob.OpDelete, flaky, flaky, flaky)

	h.now = t0.Add(49 * time.Hour)
	stats, err := h.chore.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.BlobFailures)
	assert.True(t, h.exists(t, note.ID), "record kept while its blob exists")
	assert.True(t, h.backend.Exists(note.BlobRef))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.blobFailures))

	// deferred past the next tick
	stats, err = h.chore.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)

	h.now = h.now.Add(time.Hour)
	stats, err = h.chore.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)

	// backoff elapsed: both go
	h.now = h.now.Add(time.Hour + time.Second)
	stats, err = h.chore.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Purged)
	assert.False(t, h.exists(t, note.ID))
	assert.False(t, h.backend.Exists(note.BlobRef))
}

func TestRunOnce_StuckBlobDoesNotStarveQueue(t *testing.T) {
	h := newHarness(t)
	h.chore.config.BatchSize = 1
	stuck := h.rejected(t, t0)
	healthy := h.rejected(t, t0.Add(time.Minute))
	h.backend.SetHook(func(_ context.Context, op, ref string) error {
		if op == memblob.OpDelete && ref == stuck.BlobRef {
			return errors.New("403 insufficient permissions")
		}
		return nil
	})

	h.now = t0.Add(49 * time.Hour)
	stats, err := h.chore.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Candidates: 1, BlobFailures: 1}, stats)

	h.now = h.now.Add(time.Hour)
	stats, err = h.chore.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Candidates: 1, Purged: 1}, stats)
	assert.False(t, h.exists(t, healthy.ID))
	assert.True(t, h.exists(t, stuck.ID))
}

func TestRunOnce_SkipsNotesLeasedByAnotherWorker(t *testing.T) {
	h := newHarness(t)
	h.chore.config.BatchSize = 1
	leased := h.rejected(t, t0)
	free := h.rejected(t, t0.Add(time.Minute))

	h.now = t0.Add(49 * time.Hour)
	cutoff := h.now.Add(-48 * time.Hour)
	claimed, err := h.repo.ClaimForReap(context.Background(), leased.ID, cutoff, h.now, h.now.Add(5*time.Minute))
	require.NoError(t, err)
	require.True(t, claimed)

	stats, err := h.chore.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Candidates: 1, Purged: 1}, stats)
	assert.False(t, h.exists(t, free.ID))
	assert.True(t, h.exists(t, leased.ID))
}

func TestRunOnce_ConcurrentChores(t *testing.T) {
	h := newHarness(t)
	const notes = 20
	for i := 0; i < notes; i++ {
		h.rejected(t, t0.Add(time.Duration(i)*time.Second))
	}
	h.now = t0.Add(72 * time.Hour)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := blobstore.New(h.backend, logger, blobstore.Options{})
	other := NewChore(logger, Config{Enabled: true}, h.repo, store, nil)
	other.TestingSetNow(func() time.Time { return h.now })

	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		stats [2]Stats
		errs  [2]error
	)
	for i, chore := range []*Chore{h.chore, other} {
		wg.Add(1)
		go func(i int, chore *Chore) {
			defer wg.Done()
			<-start
			stats[i], errs[i] = chore.RunOnce(context.Background())
		}(i, chore)
	}
	close(start)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, notes, stats[0].Purged+stats[1].Purged)
	assert.Zero(t, stats[0].BlobFailures+stats[1].BlobFailures)
	assert.Equal(t, notes, h.backend.Calls(memblob.OpDelete), "one blob delete per note")
	assert.Equal(t, 0, h.repo.Len())
}

func TestRunOnce_AbsentBlobStillDeletesRecord(t *testing.T) {
	h := newHarness(t)
	note := h.rejected(t, t0)
	require.NoError(t, h.backend.Delete(context.Background(), note.BlobRef))

	h.now = t0.Add(49 * time.Hour)
	stats, err := h.chore.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Purged)
	assert.False(t, h.exists(t, note.ID))
}

func TestRunOnce_BatchSize(t *testing.T) {
	h := newHarness(t)
	h.chore.config.BatchSize = 2
	for i := 0; i < 5; i++ {
		h.rejected(t, t0.Add(time.Duration(i)*time.Minute))
	}

	h.now = t0.Add(72 * time.Hour)
	stats, err := h.chore.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Purged)
	assert.Equal(t, 3, h.repo.Len())
}

func TestRun(t *testing.T) {
	t.Run("disabled returns immediately", func(t *testing.T) {
		h := newHarness(t)
		h.chore.config.Enabled = false
		require.NoError(t, h.chore.Run(context.Background()))
	})

	t.Run("first cycle runs at start and stops on close", func(t *testing.T) {
		h := newHarness(t)
		note := h.rejected(t, t0)
		h.now = t0.Add(49 * time.Hour)

		done := make(chan error, 1)
		go func() { done <- h.chore.Run(context.Background()) }()

		require.Eventually(t, func() bool { return h.repo.Len() == 0 }, time.Second, 5*time.Millisecond)
		assert.False(t, h.backend.Exists(note.BlobRef))

		require.NoError(t, h.chore.Close())
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("reaper did not stop")
		}
	})

	t.Run("stops on context cancel", func(t *testing.T) {
		h := newHarness(t)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- h.chore.Run(ctx) }()
		cancel()

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("reaper did not stop")
		}
	})
}
