package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"notehub/internal/auth"
	"notehub/internal/httputil"
)

// publicPaths never require a token
var publicPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// AuthMiddleware verifies bearer tokens and stores the user ID in the
// request context. Reads (GET outside /admin) proceed anonymously when no
// token is sent so public notes can be served; everything else requires one.
func AuthMiddleware(verifier auth.JWTVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				if allowsAnonymous(r) {
					next.ServeHTTP(w, r)
					return
				}
				httputil.RespondError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				httputil.RespondError(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}

			claims, err := verifier.VerifyToken(token)
			if err != nil {
				logger.Debug("token rejected", "path", r.URL.Path, "error", err)
				httputil.RespondError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			next.ServeHTTP(w, httputil.WithViewer(r, claims.GetUserID()))
		})
	}
}

func allowsAnonymous(r *http.Request) bool {
	return r.Method == http.MethodGet && !strings.HasPrefix(r.URL.Path, "/admin/")
}
