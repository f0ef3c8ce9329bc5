// Package identity fronts the identity directory with a short-lived cache.
// Role lookups happen on every upload and moderation request.
package identity

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"notehub/internal/domain/services"
)

const (
	DefaultCacheSize = 4096
	DefaultCacheTTL  = time.Minute
)

// Cache implements services.IdentityDirectory over another directory.
// Errors are never cached.
type Cache struct {
	dir        services.IdentityDirectory
	privileged *expirable.LRU[string, bool]
	admins     *expirable.LRU[string, bool]
}

var _ services.IdentityDirectory = (*Cache)(nil)

// NewCache wraps dir. Zero size or ttl take the defaults.
func NewCache(dir services.IdentityDirectory, size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		dir:        dir,
		privileged: expirable.NewLRU[string, bool](size, nil, ttl),
		admins:     expirable.NewLRU[string, bool](size, nil, ttl),
	}
}

// IsPrivilegedAuthor reports whether uploads by authorID skip review
func (c *Cache) IsPrivilegedAuthor(ctx context.Context, authorID string) (bool, error) {
	return lookup(ctx, c.privileged, authorID, c.dir.IsPrivilegedAuthor)
}

// IsAdmin reports whether actorID may moderate
func (c *Cache) IsAdmin(ctx context.Context, actorID string) (bool, error) {
	return lookup(ctx, c.admins, actorID, c.dir.IsAdmin)
}

// Forget drops cached answers for userID after a role change
func (c *Cache) Forget(userID string) {
	c.privileged.Remove(userID)
	c.admins.Remove(userID)
}

func lookup(ctx context.Context, cache *expirable.LRU[string, bool], userID string, fetch func(context.Context, string) (bool, error)) (bool, error) {
	if v, ok := cache.Get(userID); ok {
		return v, nil
	}
	v, err := fetch(ctx, userID)
	if err != nil {
		return false, err
	}
	cache.Add(userID, v)
	return v, nil
}
