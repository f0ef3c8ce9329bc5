package notes

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	memblob "notehub/internal/blobstore/memory"
	"notehub/internal/domain"
	"notehub/internal/domain/models"
	"notehub/internal/domain/repositories"
	"notehub/internal/domain/services"
	memrepo "notehub/internal/repository/memory"
)

var errFlaky = fmt.Errorf("%w: 503", domain.ErrTransientStore)

// failingCreate rejects every Create with err
type failingCreate struct {
	*memrepo.NoteRepository
	err error
}

func (r *failingCreate) Create(context.Context, *models.Note) error { return r.err }

func TestUpload_CreatesPendingNote(t *testing.T) {
	f := newFixture(t)

	note := f.upload(t, authorID)

	assert.NotEmpty(t, note.ID)
	assert.Equal(t, models.NoteStatePending, note.State)
	assert.Nil(t, note.RejectedAt)
	assert.NotEmpty(t, note.BlobRef)
	assert.Equal(t, "https://blobs.test/"+note.BlobRef, note.DocumentURL)

	obj, ok := f.backend.Get(note.BlobRef)
	require.True(t, ok)
	assert.Equal(t, []byte("%PDF-1.7 small document"), obj.Content)
	assert.Equal(t, "week3.pdf", obj.Name)

	stored, err := f.repo.GetByID(context.Background(), note.ID)
	require.NoError(t, err)
	assert.Equal(t, note.BlobRef, stored.BlobRef)
}

func TestUpload_PrivilegedAuthorSkipsReview(t *testing.T) {
	f := newFixture(t)
	note := f.upload(t, trustedID)
	assert.Equal(t, models.NoteStatePublic, note.State)

	// admins are privileged too
	note = f.upload(t, adminID)
	assert.Equal(t, models.NoteStatePublic, note.State)
}

func TestUpload_RejectsBadInputBeforeTouchingStore(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*services.UploadRequest)
	}{
		{name: "missing title", mutate: func(r *services.UploadRequest) { r.Title = "" }},
		{name: "empty file", mutate: func(r *services.UploadRequest) { r.Content = nil }},
		{name: "missing subject", mutate: func(r *services.UploadRequest) { r.SubjectID = "" }},
		{name: "unknown subject", mutate: func(r *services.UploadRequest) { r.SubjectID = "subject-unknown" }},
		{name: "missing author", mutate: func(r *services.UploadRequest) { r.AuthorID = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := uploadRequest(authorID)
			tt.mutate(req)

			_, err := f.notes.Upload(context.Background(), req)
			require.ErrorIs(t, err, domain.ErrValidation)
			assert.Equal(t, 0, f.backend.Calls(memblob.OpCreate))
			assert.Equal(t, 0, f.repo.Len())
		})
	}
}

func TestUpload_WriteFailureLeavesNothingBehind(t *testing.T) {
	f := newFixture(t)
	f.backend.FailNext(memblob.OpWrite, errFlaky, errFlaky, errFlaky)

	_, err := f.notes.Upload(context.Background(), uploadRequest(authorID))
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))

	assert.Equal(t, 0, f.backend.Len(), "placeholder deleted")
	assert.Equal(t, 0, f.repo.Len(), "no note without a written blob")
}

func TestUpload_CreatePlaceholderFailure(t *testing.T) {
	f := newFixture(t)
	f.backend.FailNext(memblob.OpCreate, domain.ErrCredentialInvalid)

	_, err := f.notes.Upload(context.Background(), uploadRequest(authorID))
	require.ErrorIs(t, err, domain.ErrCredentialInvalid)
	assert.False(t, domain.IsRetryable(err))
	assert.Equal(t, 0, f.backend.Len())
	assert.Equal(t, 0, f.repo.Len())
}

func TestUpload_RecordFailureDeletesBlob(t *testing.T) {
	dbErr := errors.New("connection reset")
	f := newFixtureWithRepo(t, func(r *memrepo.NoteRepository) repositories.NoteRepository {
		return &failingCreate{NoteRepository: r, err: dbErr}
	})

	_, err := f.notes.Upload(context.Background(), uploadRequest(authorID))
	require.ErrorIs(t, err, dbErr)
	assert.False(t, errors.Is(err, domain.ErrOrphanCleanup))
	assert.Equal(t, 0, f.backend.Len())
}

func TestUpload_RecordAndCleanupFailure(t *testing.T) {
	dbErr := errors.New("connection reset")
	f := newFixtureWithRepo(t, func(r *memrepo.NoteRepository) repositories.NoteRepository {
		return &failingCreate{NoteRepository: r, err: dbErr}
	})
	f.backend.FailNext(memblob.OpDelete, errFlaky, errFlaky, errFlaky)

	_, err := f.notes.Upload(context.Background(), uploadRequest(authorID))
	require.ErrorIs(t, err, dbErr)
	assert.ErrorIs(t, err, domain.ErrOrphanCleanup)
	assert.False(t, errors.Is(err, domain.ErrTransientStore), "cleanup failure does not change the cause")
}

func TestUpload_CancelledMidWriteCompensates(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.backend.SetHook(func(hookCtx context.Context, op, _ string) error {
		if op == memblob.OpWrite {
			cancel()
			<-hookCtx.Done()
			return hookCtx.Err()
		}
		return nil
	})

	_, err := f.notes.Upload(ctx, uploadRequest(authorID))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, f.backend.Len())
	assert.Equal(t, 0, f.repo.Len())
}

// cancelAfterWrite cancels the caller right after a successful write
type cancelAfterWrite struct {
	services.BlobStore
	cancel context.CancelFunc
}

func (c *cancelAfterWrite) WriteContent(ctx context.Context, ref string, content []byte, mimeType string) error {
	err := c.BlobStore.WriteContent(ctx, ref, content, mimeType)
	c.cancel()
	return err
}

func TestUpload_CancelledAfterWriteCompensates(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.notes.blobs = &cancelAfterWrite{BlobStore: f.notes.blobs, cancel: cancel}

	_, err := f.notes.Upload(ctx, uploadRequest(authorID))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, f.backend.Calls(memblob.OpWrite))
	assert.Equal(t, 0, f.backend.Len())
	assert.Equal(t, 0, f.repo.Len())
}

func TestAttach(t *testing.T) {
	t.Run("existing blob", func(t *testing.T) {
		f := newFixture(t)
		f.backend.Put("pre-uploaded", []byte("%PDF"), "application/pdf")

		note, err := f.notes.Attach(context.Background(), &services.AttachRequest{
			AuthorID:  authorID,
			SubjectID: subjectID,
			Title:     "Scanned notes",
			BlobRef:   "pre-uploaded",
			MimeType:  "application/pdf",
			SizeBytes: 4,
		})
		require.NoError(t, err)
		assert.Equal(t, models.NoteStatePending, note.State)
		assert.Equal(t, "pre-uploaded", note.BlobRef)
	})

	t.Run("missing blob", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.notes.Attach(context.Background(), &services.AttachRequest{
			AuthorID:  authorID,
			SubjectID: subjectID,
			Title:     "Scanned notes",
			BlobRef:   "nope",
		})
		require.ErrorIs(t, err, domain.ErrValidation)
		assert.Equal(t, 0, f.repo.Len())
	})

	t.Run("blob already owned keeps the blob", func(t *testing.T) {
		f := newFixture(t)
		owner := f.upload(t, authorID)

		_, err := f.notes.Attach(context.Background(), &services.AttachRequest{
			AuthorID:  strangerID,
			SubjectID: subjectID,
			Title:     "Stolen",
			BlobRef:   owner.BlobRef,
		})
		require.ErrorIs(t, err, domain.ErrConflict)
		assert.True(t, f.backend.Exists(owner.BlobRef))
		assert.Equal(t, 1, f.repo.Len())
	})

	t.Run("record failure deletes blob", func(t *testing.T) {
		f := newFixtureWithRepo(t, func(r *memrepo.NoteRepository) repositories.NoteRepository {
			return &failingCreate{NoteRepository: r, err: errors.New("db down")}
		})
		f.backend.Put("pre-uploaded", []byte("%PDF"), "application/pdf")

		_, err := f.notes.Attach(context.Background(), &services.AttachRequest{
			AuthorID:  authorID,
			SubjectID: subjectID,
			Title:     "Scanned notes",
			BlobRef:   "pre-uploaded",
		})
		require.Error(t, err)
		assert.False(t, f.backend.Exists("pre-uploaded"))
	})
}

// Two MiB of noisy JPEG is shrunk, stored, reviewed and read back.
func TestScenario_UploadApproveRead(t *testing.T) {
	f := newFixture(t)

	rng := rand.New(rand.NewSource(7))
	img := image.NewRGBA(image.Rect(0, 0, 1000, 1000))
	for y := 0; y < 1000; y++ {
		for x := 0; x < 1000; x++ {
			img.Set(x, y, color.RGBA{uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(rng.Intn(256)), 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 100}))
	original := buf.Bytes()
	require.Greater(t, len(original), 1<<20)

	req := uploadRequest(authorID)
	req.MimeType = "image/jpeg"
	req.Filename = "board.jpg"
	req.Content = original

	note, err := f.notes.Upload(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.NoteStatePending, note.State)
	assert.Less(t, note.SizeBytes, note.OriginalSizeBytes)
	assert.Equal(t, int64(len(original)), note.OriginalSizeBytes)

	// not visible to readers yet
	_, err = f.notes.GetNote(context.Background(), strangerID, note.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.moderation.Approve(context.Background(), adminID, note.ID)
	require.NoError(t, err)

	for i := int64(1); i <= 3; i++ {
		view, err := f.notes.GetNote(context.Background(), strangerID, note.ID)
		require.NoError(t, err)
		assert.Equal(t, i, view.ViewCount)
		assert.Equal(t, i, view.Engagement.Views)
	}
}
