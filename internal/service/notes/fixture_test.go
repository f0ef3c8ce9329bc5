package notes

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"
	"notehub/internal/blobstore"
	memblob "notehub/internal/blobstore/memory"
	"notehub/internal/domain/models"
	"notehub/internal/domain/repositories"
	"notehub/internal/domain/services"
	"notehub/internal/preprocess"
	memrepo "notehub/internal/repository/memory"
)

const (
	subjectID  = "subject-algebra"
	authorID   = "author-1"
	adminID    = "admin-1"
	strangerID = "stranger-1"
	trustedID  = "trusted-1"
)

type fixture struct {
	repo       *memrepo.NoteRepository
	backend    *memblob.Backend
	directory  *memrepo.Directory
	social     *memrepo.Social
	notes      *noteService
	moderation *moderationService
	now        time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithRepo(t, nil)
}

// newFixtureWithRepo lets tests wrap the memory repository to inject faults
func newFixtureWithRepo(t *testing.T, wrap func(*memrepo.NoteRepository) repositories.NoteRepository) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := &fixture{
		repo:      memrepo.NewNoteRepository(),
		backend:   memblob.New("https://blobs.test"),
		directory: memrepo.NewDirectory(),
		social:    memrepo.NewSocial(),
		now:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.directory.SetRole(adminID, models.RoleAdmin)
	f.directory.SetRole(trustedID, models.RolePrivileged)

	var repo repositories.NoteRepository = f.repo
	if wrap != nil {
		repo = wrap(f.repo)
	}

	registry, err := preprocess.NewRegistry(logger)
	require.NoError(t, err)

	store := blobstore.New(f.backend, logger, blobstore.Options{
		Backoff: func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) },
	})

	f.notes = newNoteService(Deps{
		Notes:        repo,
		Blobs:        store,
		Preprocessor: registry,
		Identity:     f.directory,
		Taxonomy:     memrepo.NewTaxonomy(subjectID),
		Social:       f.social,
		Logger:       logger,
	}, Options{})
	f.notes.nowFn = f.clock

	f.moderation = newModerationService(repo, f.directory, logger)
	f.moderation.nowFn = f.clock
	return f
}

func (f *fixture) clock() time.Time { return f.now }

func (f *fixture) upload(t *testing.T, author string) *models.Note {
	t.Helper()
	note, err := f.notes.Upload(context.Background(), uploadRequest(author))
	require.NoError(t, err)
	return note
}

func uploadRequest(author string) *services.UploadRequest {
	return &services.UploadRequest{
		AuthorID:    author,
		SubjectID:   subjectID,
		Title:       "Linear maps",
		Description: "Week 3 lecture notes",
		Filename:    "week3.pdf",
		MimeType:    "application/pdf",
		Content:     []byte("%PDF-1.7 small document"),
	}
}
