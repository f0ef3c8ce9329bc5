package models

import "github.com/golang-jwt/jwt/v5"

// SupabaseClaims represents the JWT claims structure from Supabase Auth.
// See: https://supabase.com/docs/guides/auth/jwts
type SupabaseClaims struct {
	jwt.RegisteredClaims                        // Standard JWT claims (sub, iss, aud, exp, iat, etc.)
	Email                string                 `json:"email"`
	AppMetadata          map[string]interface{} `json:"app_metadata"`
	Role                 string                 `json:"role"` // "authenticated" or "anon"
	SessionID            string                 `json:"session_id"`
	IsAnonymous          bool                   `json:"is_anonymous"`
}

// GetUserID returns the user ID from the JWT subject claim.
func (c *SupabaseClaims) GetUserID() string {
	return c.Subject
}

// Profile roles stored by the identity collaborator
const (
	RoleMember     = "member"
	RolePrivileged = "privileged" // Uploads skip review
	RoleAdmin      = "admin"      // Moderates and is implicitly privileged
)
