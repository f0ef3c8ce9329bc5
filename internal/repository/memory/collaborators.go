package memory

import (
	"context"
	"sync"

	"notehub/internal/domain/models"
)

// Directory is an in-memory identity directory keyed by user ID
type Directory struct {
	mu    sync.RWMutex
	roles map[string]string
	err   error
}

// NewDirectory creates a directory where every unknown user is a member
func NewDirectory() *Directory {
	return &Directory{roles: make(map[string]string)}
}

// SetRole assigns a role
func (d *Directory) SetRole(userID, role string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.roles[userID] = role
}

// FailWith makes every lookup return err (nil clears it)
func (d *Directory) FailWith(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *Directory) role(userID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.err != nil {
		return "", d.err
	}
	if role, ok := d.roles[userID]; ok {
		return role, nil
	}
	return models.RoleMember, nil
}

// IsPrivilegedAuthor reports whether the author bypasses review
func (d *Directory) IsPrivilegedAuthor(_ context.Context, authorID string) (bool, error) {
	role, err := d.role(authorID)
	if err != nil {
		return false, err
	}
	return role == models.RolePrivileged || role == models.RoleAdmin, nil
}

// IsAdmin reports whether the actor may moderate
func (d *Directory) IsAdmin(_ context.Context, actorID string) (bool, error) {
	role, err := d.role(actorID)
	if err != nil {
		return false, err
	}
	return role == models.RoleAdmin, nil
}

// Taxonomy is a fixed set of subject IDs
type Taxonomy struct {
	mu       sync.RWMutex
	subjects map[string]struct{}
}

// NewTaxonomy creates a taxonomy containing subjectIDs
func NewTaxonomy(subjectIDs ...string) *Taxonomy {
	t := &Taxonomy{subjects: make(map[string]struct{})}
	for _, id := range subjectIDs {
		t.subjects[id] = struct{}{}
	}
	return t
}

// AddSubject registers a subject
func (t *Taxonomy) AddSubject(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subjects[id] = struct{}{}
}

// SubjectExists reports whether id was registered
func (t *Taxonomy) SubjectExists(_ context.Context, subjectID string) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.subjects[subjectID]
	return ok, nil
}

// Social holds like and comment counts per note
type Social struct {
	mu       sync.RWMutex
	likes    map[string]int64
	comments map[string]int64
	err      error
}

// NewSocial creates an empty social store
func NewSocial() *Social {
	return &Social{
		likes:    make(map[string]int64),
		comments: make(map[string]int64),
	}
}

// Set stores counts for a note
func (s *Social) Set(noteID string, likes, comments int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.likes[noteID] = likes
	s.comments[noteID] = comments
}

// FailWith makes every count return err (nil clears it)
func (s *Social) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// CountLikes returns the like count
func (s *Social) CountLikes(_ context.Context, noteID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return 0, s.err
	}
	return s.likes[noteID], nil
}

// CountComments returns the comment count
func (s *Social) CountComments(_ context.Context, noteID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return 0, s.err
	}
	return s.comments[noteID], nil
}
