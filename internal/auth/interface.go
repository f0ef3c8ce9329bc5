package auth

import "notehub/internal/domain/models"

// JWTVerifier verifies bearer tokens for the HTTP middleware.
type JWTVerifier interface {
	// VerifyToken validates a token and returns its claims.
	// Invalid, expired or anonymous tokens yield domain.ErrUnauthorized.
	VerifyToken(tokenString string) (*models.SupabaseClaims, error)

	// Close releases resources held by the verifier (JWKS refresh).
	Close() error
}
