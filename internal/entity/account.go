package entity

import (
	"time"

	"github.com/google/uuid"
)

// ExternalAccount is a connected publishing destination. Tokens are stored
// encrypted; see internal/secret.
type ExternalAccount struct {
	ID               uuid.UUID  `json:"id"`
	UserID           uuid.UUID  `json:"user_id"`
	Platform         string     `json:"platform"`
	OpenID           string     `json:"open_id"`
	Username         string     `json:"username"`
	DisplayName      string     `json:"display_name"`
	AccessTokenEnc   string     `json:"-"`
	RefreshTokenEnc  string     `json:"-"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	RefreshExpiresAt *time.Time `json:"refresh_expires_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// AccessTokenExpired treats a missing expiry as still valid; a 401 from the
// platform will force a refresh anyway.
func (a *ExternalAccount) AccessTokenExpired(now time.Time) bool {
	if a.ExpiresAt == nil {
		return false
	}
	return !now.Before(*a.ExpiresAt)
}
