package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"notehub/internal/domain"
	"notehub/internal/domain/models"
)

// SupabaseJWTVerifier implements JWTVerifier using JWKS from Supabase.
type SupabaseJWTVerifier struct {
	keyfunc jwt.Keyfunc
	cancel  context.CancelFunc
	logger  *slog.Logger
}

// NewJWTVerifier creates a verifier that fetches public keys from the JWKS
// endpoint. keyfunc caches the keys and refreshes them in the background
// until Close is called.
func NewJWTVerifier(jwksURL string, logger *slog.Logger) (JWTVerifier, error) {
	if jwksURL == "" {
		return nil, errors.New("JWKS URL cannot be empty")
	}

	ctx, cancel := context.WithCancel(context.Background())
	jwks, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create JWKS client: %w", err)
	}

	logger.Info("JWT verifier initialized", "jwks_url", jwksURL)
	return newVerifier(jwks.Keyfunc, cancel, logger), nil
}

func newVerifier(kf jwt.Keyfunc, cancel context.CancelFunc, logger *slog.Logger) *SupabaseJWTVerifier {
	return &SupabaseJWTVerifier{keyfunc: kf, cancel: cancel, logger: logger}
}

// VerifyToken validates a JWT token and extracts Supabase claims.
func (v *SupabaseJWTVerifier) VerifyToken(tokenString string) (*models.SupabaseClaims, error) {
	// Only asymmetric algorithms; rejects alg confusion with HS256
	token, err := jwt.ParseWithClaims(tokenString, &models.SupabaseClaims{}, v.keyfunc,
		jwt.WithValidMethods([]string{"RS256", "ES256"}),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		v.logger.Debug("token parse failed", "error", err)
		return nil, domain.ErrUnauthorized
	}

	claims, ok := token.Claims.(*models.SupabaseClaims)
	if !ok {
		v.logger.Error("failed to extract claims from token")
		return nil, domain.ErrUnauthorized
	}

	if claims.Subject == "" {
		v.logger.Debug("token missing subject claim")
		return nil, domain.ErrUnauthorized
	}

	// Anonymous sessions cannot upload or moderate
	if claims.Role != "authenticated" || claims.IsAnonymous {
		v.logger.Debug("token has non-authenticated role",
			"role", claims.Role,
			"user_id", claims.Subject,
		)
		return nil, domain.ErrUnauthorized
	}

	return claims, nil
}

// Close stops the background JWKS refresh.
func (v *SupabaseJWTVerifier) Close() error {
	if v.cancel != nil {
		v.cancel()
	}
	v.logger.Info("JWT verifier closed")
	return nil
}
