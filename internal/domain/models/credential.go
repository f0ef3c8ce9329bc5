package models

import "time"

// Credential is the persisted OAuth state for one blob store provider.
// The refresh token rotates, so the latest value always lives here.
type Credential struct {
	Provider     string     `db:"provider"`
	RefreshToken string     `db:"refresh_token"`
	AccessToken  string     `db:"access_token"`
	Expiry       *time.Time `db:"expiry"`
	UpdatedAt    time.Time  `db:"updated_at"`
}
