package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"notehub/internal/domain"
	"notehub/internal/domain/models"
	"notehub/internal/domain/repositories"
)

// noteColumns is the select list shared by every note query (order matches scanNote)
const noteColumns = `id, title, description, blob_ref, document_url, mime_type, size_bytes,
	original_size_bytes, state, rejected_at, view_count, download_count, author_id,
	subject_id, created_at, updated_at`

// PostgresNoteRepository implements the NoteRepository interface
type PostgresNoteRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

// NewNoteRepository creates a new note repository
func NewNoteRepository(config *RepositoryConfig) repositories.NoteRepository {
	return &PostgresNoteRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

func scanNote(row pgx.Row) (*models.Note, error) {
	var note models.Note
	var state string
	err := row.Scan(
		&note.ID,
		&note.Title,
		&note.Description,
		&note.BlobRef,
		&note.DocumentURL,
		&note.MimeType,
		&note.SizeBytes,
		&note.OriginalSizeBytes,
		&state,
		&note.RejectedAt,
		&note.ViewCount,
		&note.DownloadCount,
		&note.AuthorID,
		&note.SubjectID,
		&note.CreatedAt,
		&note.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	note.State = models.NoteState(state)
	return &note, nil
}

// Create creates a new note
func (r *PostgresNoteRepository) Create(ctx context.Context, note *models.Note) error {
	if note.BlobRef == "" {
		return fmt.Errorf("%w: note has no blob reference", domain.ErrValidation)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (title, description, blob_ref, document_url, mime_type, size_bytes,
			original_size_bytes, state, rejected_at, author_id, subject_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at
	`, r.tables.Notes)

	executor := GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query,
		note.Title,
		note.Description,
		note.BlobRef,
		note.DocumentURL,
		note.MimeType,
		note.SizeBytes,
		note.OriginalSizeBytes,
		string(note.State),
		note.RejectedAt,
		note.AuthorID,
		note.SubjectID,
		note.CreatedAt,
		note.UpdatedAt,
	).Scan(&note.ID, &note.CreatedAt, &note.UpdatedAt)

	if err != nil {
		if IsPgDuplicateError(err) {
			return &domain.ConflictError{
				Message:      "blob is already attached to a note",
				ResourceType: "blob",
				ResourceID:   note.BlobRef,
			}
		}
		if IsPgCheckViolation(err) {
			return fmt.Errorf("%w: note violates state constraints: %v", domain.ErrValidation, err)
		}
		return fmt.Errorf("create note: %w", err)
	}

	return nil
}

// GetByID retrieves a note by ID
func (r *PostgresNoteRepository) GetByID(ctx context.Context, id string) (*models.Note, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, noteColumns, r.tables.Notes)

	note, err := scanNote(GetExecutor(ctx, r.pool).QueryRow(ctx, query, id))
	if err != nil {
		if IsPgNoRowsError(err) || IsPgInvalidTextError(err) {
			return nil, fmt.Errorf("note %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get note: %w", err)
	}
	return note, nil
}

// Transition is a compare-and-swap on state. The WHERE clause carries the
// expected state so two concurrent decisions cannot both win.
func (r *PostgresNoteRepository) Transition(ctx context.Context, id string, from, to models.NoteState, at time.Time) (*models.Note, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET state = $3,
			rejected_at = CASE WHEN $3 = 'rejected' THEN $4::timestamptz ELSE NULL END,
			updated_at = $4
		WHERE id = $1 AND state = $2
		RETURNING %s
	`, r.tables.Notes, noteColumns)

	note, err := scanNote(GetExecutor(ctx, r.pool).QueryRow(ctx, query, id, string(from), string(to), at))
	if err == nil {
		return note, nil
	}
	if !IsPgNoRowsError(err) {
		if IsPgInvalidTextError(err) {
			return nil, fmt.Errorf("note %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("transition note: %w", err)
	}

	// CAS lost or note missing: report what is actually there
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, &domain.InvalidTransitionError{
		NoteID:  id,
		Current: string(current.State),
		Target:  string(to),
	}
}

// IncrementViewCount atomically adds one view
func (r *PostgresNoteRepository) IncrementViewCount(ctx context.Context, id string) (int64, error) {
	return r.increment(ctx, id, "view_count")
}

// IncrementDownloadCount atomically adds one download
func (r *PostgresNoteRepository) IncrementDownloadCount(ctx context.Context, id string) (int64, error) {
	return r.increment(ctx, id, "download_count")
}

func (r *PostgresNoteRepository) increment(ctx context.Context, id, column string) (int64, error) {
	query := fmt.Sprintf(`
		UPDATE %s SET %s = %s + 1 WHERE id = $1 RETURNING %s
	`, r.tables.Notes, column, column, column)

	var count int64
	err := GetExecutor(ctx, r.pool).QueryRow(ctx, query, id).Scan(&count)
	if err != nil {
		if IsPgNoRowsError(err) || IsPgInvalidTextError(err) {
			return 0, fmt.Errorf("note %s: %w", id, domain.ErrNotFound)
		}
		return 0, fmt.Errorf("increment %s: %w", column, err)
	}
	return count, nil
}

// Update changes author-editable fields
func (r *PostgresNoteRepository) Update(ctx context.Context, id, title, description string, at time.Time) (*models.Note, error) {
	query := fmt.Sprintf(`
		UPDATE %s SET title = $2, description = $3, updated_at = $4
		WHERE id = $1
		RETURNING %s
	`, r.tables.Notes, noteColumns)

	note, err := scanNote(GetExecutor(ctx, r.pool).QueryRow(ctx, query, id, title, description, at))
	if err != nil {
		if IsPgNoRowsError(err) || IsPgInvalidTextError(err) {
			return nil, fmt.Errorf("note %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("update note: %w", err)
	}
	return note, nil
}

// Delete removes a note record
func (r *PostgresNoteRepository) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, r.tables.Notes)

	tag, err := GetExecutor(ctx, r.pool).Exec(ctx, query, id)
	if err != nil {
		if IsPgInvalidTextError(err) {
			return fmt.Errorf("note %s: %w", id, domain.ErrNotFound)
		}
		return fmt.Errorf("delete note: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("note %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// List returns notes matching the filter, newest first
func (r *PostgresNoteRepository) List(ctx context.Context, filter models.NoteFilter) ([]models.Note, error) {
	var conditions []string
	var args []interface{}

	if filter.State != nil {
		args = append(args, string(*filter.State))
		conditions = append(conditions, fmt.Sprintf("state = $%d", len(args)))
	}
	if filter.SubjectID != "" {
		args = append(args, filter.SubjectID)
		conditions = append(conditions, fmt.Sprintf("subject_id = $%d", len(args)))
	}
	if filter.AuthorID != "" {
		args = append(args, filter.AuthorID)
		conditions = append(conditions, fmt.Sprintf("author_id = $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`
		SELECT %s FROM %s %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, noteColumns, r.tables.Notes, where, len(args)-1, len(args))

	return r.queryNotes(ctx, query, args...)
}

// ListReapable returns rejected notes whose retention window has elapsed and
// that no worker currently leases
func (r *PostgresNoteRepository) ListReapable(ctx context.Context, cutoff, now time.Time, limit int) ([]models.Note, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE state = 'rejected'
			AND rejected_at <= $1
			AND (reap_lease_until IS NULL OR reap_lease_until < $2)
		ORDER BY rejected_at
		LIMIT $3
	`, noteColumns, r.tables.Notes)

	return r.queryNotes(ctx, query, cutoff, now, limit)
}

// ClaimForReap leases a reapable note to the calling worker
func (r *PostgresNoteRepository) ClaimForReap(ctx context.Context, id string, cutoff, now, leaseUntil time.Time) (bool, error) {
	query := fmt.Sprintf(`
		UPDATE %s SET reap_lease_until = $4
		WHERE id = $1
			AND state = 'rejected'
			AND rejected_at <= $2
			AND (reap_lease_until IS NULL OR reap_lease_until < $3)
	`, r.tables.Notes)

	tag, err := GetExecutor(ctx, r.pool).Exec(ctx, query, id, cutoff, now, leaseUntil)
	if err != nil {
		return false, fmt.Errorf("claim note for reap: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeferReap moves the reap lease of a rejected note to until
func (r *PostgresNoteRepository) DeferReap(ctx context.Context, id string, until time.Time) error {
	query := fmt.Sprintf(`UPDATE %s SET reap_lease_until = $2 WHERE id = $1 AND state = 'rejected'`, r.tables.Notes)

	if _, err := GetExecutor(ctx, r.pool).Exec(ctx, query, id, until); err != nil {
		return fmt.Errorf("defer reap: %w", err)
	}
	return nil
}

// DeleteRejected deletes the note only while it is still rejected
func (r *PostgresNoteRepository) DeleteRejected(ctx context.Context, id string) (bool, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND state = 'rejected'`, r.tables.Notes)

	tag, err := GetExecutor(ctx, r.pool).Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("delete rejected note: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresNoteRepository) queryNotes(ctx context.Context, query string, args ...interface{}) ([]models.Note, error) {
	rows, err := GetExecutor(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}
	defer rows.Close()

	notes := make([]models.Note, 0)
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, *note)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notes: %w", err)
	}
	return notes, nil
}
