package models

import (
	"time"
)

const (
	ProviderFacebook  = "facebook"
	ProviderInstagram = "instagram"
	ProviderZalo      = "zalo"
)

const (
	AccountStatusConnected    = "connected"
	AccountStatusExpired      = "expired"
	AccountStatusError        = "error"
	AccountStatusDisconnected = "disconnected"
)

// SocialAccount is a tenant-owned platform credential. Access and refresh
// tokens are stored encrypted; a non-connected account must never be used
// for publishing.
type SocialAccount struct {
	ID                int64      `db:"id" json:"id"`
	UserID            int64      `db:"user_id" json:"user_id"`
	Provider          string     `db:"provider" json:"provider"`
	ProviderAccountID string     `db:"provider_account_id" json:"provider_account_id"`
	AccountName       string     `db:"account_name" json:"account_name"`
	AccessToken       string     `db:"access_token" json:"-"`
	RefreshToken      string     `db:"refresh_token" json:"-"`
	TokenExpiresAt    *time.Time `db:"token_expires_at" json:"token_expires_at"`
	Status            string     `db:"status" json:"status"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// Publishable reports whether the account may be used for an outbound call.
func (sa *SocialAccount) Publishable() bool {
	return sa.Status == AccountStatusConnected
}

// NonExpiring reports whether the token has no known expiry.
func (sa *SocialAccount) NonExpiring() bool {
	return sa.TokenExpiresAt == nil
}

func KnownProvider(provider string) bool {
	switch provider {
	case ProviderFacebook, ProviderInstagram, ProviderZalo:
		return true
	}
	return false
}
