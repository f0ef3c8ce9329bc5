package notes

import (
	"context"

	"golang.org/x/sync/errgroup"
	"notehub/internal/domain/models"
)

// recordView atomically counts one read
func (s *noteService) recordView(ctx context.Context, noteID string) (int64, error) {
	return s.notes.IncrementViewCount(ctx, noteID)
}

// recordDownload atomically counts one download
func (s *noteService) recordDownload(ctx context.Context, noteID string) (int64, error) {
	return s.notes.IncrementDownloadCount(ctx, noteID)
}

// engagement merges stored counters with likes/comments from the social
// store. That store belongs to another feature; if it fails the read still
// succeeds with zero counts.
func (s *noteService) engagement(ctx context.Context, note *models.Note) models.Engagement {
	e := models.Engagement{
		Views:     note.ViewCount,
		Downloads: note.DownloadCount,
	}

	var g errgroup.Group
	g.Go(func() error {
		likes, err := s.social.CountLikes(ctx, note.ID)
		if err != nil {
			s.logger.Warn("failed to count likes", "note_id", note.ID, "error", err)
			return nil
		}
		e.Likes = likes
		return nil
	})
	g.Go(func() error {
		comments, err := s.social.CountComments(ctx, note.ID)
		if err != nil {
			s.logger.Warn("failed to count comments", "note_id", note.ID, "error", err)
			return nil
		}
		e.Comments = comments
		return nil
	})
	_ = g.Wait() // Never errors: failures degrade to zero

	return e
}
