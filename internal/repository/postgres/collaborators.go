package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"notehub/internal/domain/models"
	"notehub/internal/domain/services"
)

// PostgresProfileDirectory answers role questions from the profiles table
type PostgresProfileDirectory struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

// NewProfileDirectory creates an identity directory backed by profiles.role
func NewProfileDirectory(config *RepositoryConfig) *PostgresProfileDirectory {
	return &PostgresProfileDirectory{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// Role returns the stored role, or RoleMember for users without a profile row
func (d *PostgresProfileDirectory) Role(ctx context.Context, userID string) (string, error) {
	query := fmt.Sprintf(`SELECT role FROM %s WHERE user_id = $1`, d.tables.Profiles)

	var role string
	err := GetExecutor(ctx, d.pool).QueryRow(ctx, query, userID).Scan(&role)
	if err != nil {
		if IsPgNoRowsError(err) || IsPgInvalidTextError(err) {
			return models.RoleMember, nil
		}
		return "", fmt.Errorf("get profile role: %w", err)
	}
	return role, nil
}

// IsPrivilegedAuthor reports whether uploads by authorID skip review
func (d *PostgresProfileDirectory) IsPrivilegedAuthor(ctx context.Context, authorID string) (bool, error) {
	role, err := d.Role(ctx, authorID)
	if err != nil {
		return false, err
	}
	return role == models.RolePrivileged || role == models.RoleAdmin, nil
}

// IsAdmin reports whether actorID may moderate
func (d *PostgresProfileDirectory) IsAdmin(ctx context.Context, actorID string) (bool, error) {
	role, err := d.Role(ctx, actorID)
	if err != nil {
		return false, err
	}
	return role == models.RoleAdmin, nil
}

// SetRole upserts a profile role (used by seeding and operators)
func (d *PostgresProfileDirectory) SetRole(ctx context.Context, userID, role string) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (user_id, role)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET role = EXCLUDED.role
	`, d.tables.Profiles)

	if _, err := GetExecutor(ctx, d.pool).Exec(ctx, query, userID, role); err != nil {
		return fmt.Errorf("set profile role: %w", err)
	}
	return nil
}

// PostgresTaxonomyStore reads the subjects table
type PostgresTaxonomyStore struct {
	pool   *pgxpool.Pool
	tables *TableNames
}

// NewTaxonomyStore creates a taxonomy store
func NewTaxonomyStore(config *RepositoryConfig) *PostgresTaxonomyStore {
	return &PostgresTaxonomyStore{pool: config.Pool, tables: config.Tables}
}

// AddSubject inserts a subject if its id is not taken (used by seeding)
func (s *PostgresTaxonomyStore) AddSubject(ctx context.Context, id, name string) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, name)
		VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`, s.tables.Subjects)

	if _, err := GetExecutor(ctx, s.pool).Exec(ctx, query, id, name); err != nil {
		return fmt.Errorf("insert subject: %w", err)
	}
	return nil
}

// SubjectExists checks a subject reference before a note is created
func (s *PostgresTaxonomyStore) SubjectExists(ctx context.Context, subjectID string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, s.tables.Subjects)

	var exists bool
	if err := GetExecutor(ctx, s.pool).QueryRow(ctx, query, subjectID).Scan(&exists); err != nil {
		if IsPgInvalidTextError(err) {
			return false, nil
		}
		return false, fmt.Errorf("check subject: %w", err)
	}
	return exists, nil
}

// PostgresSocialStore counts likes and comments owned by the social feature
type PostgresSocialStore struct {
	pool   *pgxpool.Pool
	tables *TableNames
}

// NewSocialStore creates a social store
func NewSocialStore(config *RepositoryConfig) services.SocialStore {
	return &PostgresSocialStore{pool: config.Pool, tables: config.Tables}
}

// CountLikes counts like rows for a note
func (s *PostgresSocialStore) CountLikes(ctx context.Context, noteID string) (int64, error) {
	return s.count(ctx, s.tables.NoteLikes, noteID)
}

// CountComments counts comment rows for a note
func (s *PostgresSocialStore) CountComments(ctx context.Context, noteID string) (int64, error) {
	return s.count(ctx, s.tables.NoteComments, noteID)
}

func (s *PostgresSocialStore) count(ctx context.Context, table, noteID string) (int64, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE note_id = $1`, table)

	var n int64
	if err := GetExecutor(ctx, s.pool).QueryRow(ctx, query, noteID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}
