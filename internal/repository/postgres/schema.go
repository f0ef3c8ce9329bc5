package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"notehub/internal/domain/repositories"
)

// schemaStatements returns the DDL for all tables, in dependency order.
// Subjects, profiles, likes and comments belong to other features; they are
// created here so a fresh environment can run end to end.
func schemaStatements(t *TableNames) []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`,
		`CREATE TABLE IF NOT EXISTS ` + t.Subjects + ` (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS ` + t.Profiles + ` (
			user_id UUID PRIMARY KEY,
			role TEXT NOT NULL DEFAULT 'member',
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS ` + t.Notes + ` (
			id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
			title VARCHAR(255) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			blob_ref TEXT NOT NULL UNIQUE CHECK (blob_ref <> ''),
			document_url TEXT NOT NULL,
			mime_type TEXT NOT NULL,
			size_bytes BIGINT NOT NULL DEFAULT 0,
			original_size_bytes BIGINT NOT NULL DEFAULT 0,
			state TEXT NOT NULL CHECK (state IN ('pending', 'public', 'rejected')),
			rejected_at TIMESTAMPTZ,
			view_count BIGINT NOT NULL DEFAULT 0 CHECK (view_count >= 0),
			download_count BIGINT NOT NULL DEFAULT 0 CHECK (download_count >= 0),
			author_id UUID NOT NULL,
			subject_id TEXT NOT NULL REFERENCES ` + t.Subjects + `(id),
			reap_lease_until TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CHECK ((state = 'rejected') = (rejected_at IS NOT NULL))
		)`,
		`CREATE INDEX IF NOT EXISTS ` + t.Notes + `_reapable_idx ON ` + t.Notes + ` (rejected_at) WHERE state = 'rejected'`,
		`CREATE INDEX IF NOT EXISTS ` + t.Notes + `_subject_state_idx ON ` + t.Notes + ` (subject_id, state, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS ` + t.NoteLikes + ` (
			note_id UUID NOT NULL REFERENCES ` + t.Notes + `(id) ON DELETE CASCADE,
			user_id UUID NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			PRIMARY KEY (note_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS ` + t.NoteComments + ` (
			id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
			note_id UUID NOT NULL REFERENCES ` + t.Notes + `(id) ON DELETE CASCADE,
			user_id UUID NOT NULL,
			body TEXT NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS ` + t.Credentials + ` (
			provider TEXT PRIMARY KEY,
			refresh_token TEXT NOT NULL,
			access_token TEXT NOT NULL DEFAULT '',
			expiry TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}
}

// EnsureSchema creates missing tables and indexes in a single transaction
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, txManager repositories.TransactionManager, tables *TableNames) error {
	return txManager.ExecTx(ctx, func(txCtx context.Context) error {
		executor := GetExecutor(txCtx, pool)
		for _, stmt := range schemaStatements(tables) {
			if _, err := executor.Exec(txCtx, stmt); err != nil {
				return fmt.Errorf("apply schema: %w", err)
			}
		}
		return nil
	})
}

// DropSchema removes every table owned by this environment's prefix
func DropSchema(ctx context.Context, pool *pgxpool.Pool, tables *TableNames) error {
	query := fmt.Sprintf(`DROP TABLE IF EXISTS %s, %s, %s, %s, %s, %s CASCADE`,
		tables.NoteComments, tables.NoteLikes, tables.Notes, tables.Credentials, tables.Profiles, tables.Subjects)
	if _, err := pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("drop schema: %w", err)
	}
	return nil
}
