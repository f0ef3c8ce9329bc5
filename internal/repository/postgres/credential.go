package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"notehub/internal/domain/models"
	"notehub/internal/domain/repositories"
)

// PostgresCredentialRepository implements the CredentialRepository interface
type PostgresCredentialRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

// NewCredentialRepository creates a new credential repository
func NewCredentialRepository(config *RepositoryConfig) repositories.CredentialRepository {
	return &PostgresCredentialRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// Get retrieves the credential for a provider
func (r *PostgresCredentialRepository) Get(ctx context.Context, provider string) (*models.Credential, error) {
	query := fmt.Sprintf(`
		SELECT provider, refresh_token, access_token, expiry, updated_at
		FROM %s
		WHERE provider = $1
	`, r.tables.Credentials)

	var cred models.Credential
	err := GetExecutor(ctx, r.pool).QueryRow(ctx, query, provider).Scan(
		&cred.Provider,
		&cred.RefreshToken,
		&cred.AccessToken,
		&cred.Expiry,
		&cred.UpdatedAt,
	)
	if err != nil {
		if IsPgNoRowsError(err) {
			// Nothing stored yet - not an error
			return nil, nil
		}
		return nil, fmt.Errorf("get credential: %w", err)
	}

	return &cred, nil
}

// Save creates or replaces the credential for its provider
func (r *PostgresCredentialRepository) Save(ctx context.Context, cred *models.Credential) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (provider, refresh_token, access_token, expiry, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider) DO UPDATE SET
			refresh_token = EXCLUDED.refresh_token,
			access_token = EXCLUDED.access_token,
			expiry = EXCLUDED.expiry,
			updated_at = EXCLUDED.updated_at
	`, r.tables.Credentials)

	_, err := GetExecutor(ctx, r.pool).Exec(ctx, query,
		cred.Provider,
		cred.RefreshToken,
		cred.AccessToken,
		cred.Expiry,
		cred.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}

	r.logger.Debug("credential saved", "provider", cred.Provider)
	return nil
}
