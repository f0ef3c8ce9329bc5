package services

import "context"

// IdentityDirectory answers role questions about users. Users are owned by
// the identity provider; this service only reads their roles.
type IdentityDirectory interface {
	// IsPrivilegedAuthor reports whether uploads by authorID skip review
	IsPrivilegedAuthor(ctx context.Context, authorID string) (bool, error)

	// IsAdmin reports whether actorID may moderate and delete any note
	IsAdmin(ctx context.Context, actorID string) (bool, error)
}

// TaxonomyStore validates references into the year/semester/subject taxonomy
type TaxonomyStore interface {
	SubjectExists(ctx context.Context, subjectID string) (bool, error)
}

// SocialStore counts records owned by the comments/likes feature
type SocialStore interface {
	CountLikes(ctx context.Context, noteID string) (int64, error)
	CountComments(ctx context.Context, noteID string) (int64, error)
}
