package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"notehub/internal/domain/repositories"
)

// RepositoryConfig holds configuration for repository implementations
type RepositoryConfig struct {
	Pool   *pgxpool.Pool
	Tables *TableNames
	Logger *slog.Logger
}

// TableNames holds dynamically prefixed table names
type TableNames struct {
	Notes        string
	Credentials  string
	Profiles     string
	Subjects     string
	NoteLikes    string
	NoteComments string
}

// NewTableNames creates table names with the given prefix
func NewTableNames(prefix string) *TableNames {
	return &TableNames{
		Notes:        fmt.Sprintf("%snotes", prefix),
		Credentials:  fmt.Sprintf("%soauth_credentials", prefix),
		Profiles:     fmt.Sprintf("%sprofiles", prefix),
		Subjects:     fmt.Sprintf("%ssubjects", prefix),
		NoteLikes:    fmt.Sprintf("%snote_likes", prefix),
		NoteComments: fmt.Sprintf("%snote_comments", prefix),
	}
}

// CreateConnectionPool creates a new pgx connection pool with automatic PgBouncer compatibility.
//
// Port 6543 (Supabase transaction pooler) does not support prepared statements,
// so the pool switches to QueryExecModeCacheDescribe there unless the connection
// string already chose a mode via default_query_exec_mode.
//
// Dynamic table prefixes are interpolated with fmt.Sprintf before statements are
// prepared, so each environment gets its own statement cache entries.
func CreateConnectionPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5

	if config.ConnConfig.Port == 6543 && config.ConnConfig.DefaultQueryExecMode == pgx.QueryExecModeCacheStatement {
		config.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheDescribe
		slog.Debug("auto-configured cache_describe mode for PgBouncer compatibility", "port", 6543)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// GetExecutor returns the transaction stored in ctx if there is one,
// otherwise the pool.
func GetExecutor(ctx context.Context, pool *pgxpool.Pool) repositories.DBTX {
	if tx := repositories.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}
