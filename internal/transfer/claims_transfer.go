package transfer

import "github.com/golang-jwt/jwt/v5"

// CustomClaims is the service token payload. UserID identifies the tenant
// the caller acts for.
type CustomClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}
