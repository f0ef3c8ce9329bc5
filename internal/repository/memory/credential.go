package memory

import (
	"context"
	"sync"

	"notehub/internal/domain/models"
)

// CredentialRepository keeps credentials in process memory
type CredentialRepository struct {
	mu    sync.Mutex
	creds map[string]models.Credential
	saves int
}

// NewCredentialRepository creates an empty store
func NewCredentialRepository() *CredentialRepository {
	return &CredentialRepository{creds: make(map[string]models.Credential)}
}

// Get returns nil, nil when nothing is stored for provider
func (r *CredentialRepository) Get(_ context.Context, provider string) (*models.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cred, ok := r.creds[provider]
	if !ok {
		return nil, nil
	}
	return &cred, nil
}

// Save replaces the stored credential
func (r *CredentialRepository) Save(_ context.Context, cred *models.Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creds[cred.Provider] = *cred
	r.saves++
	return nil
}

// Saves returns how many times Save was called
func (r *CredentialRepository) Saves() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves
}
