package repositories

import (
	"context"

	"notehub/internal/domain/models"
)

// CredentialRepository persists OAuth tokens for a blob store provider
type CredentialRepository interface {
	// Get returns the stored credential for a provider.
	// Returns nil (not an error) if nothing has been stored yet.
	Get(ctx context.Context, provider string) (*models.Credential, error)

	// Save creates or replaces the credential for its provider
	Save(ctx context.Context, cred *models.Credential) error
}
