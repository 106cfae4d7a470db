package publisher

import "fmt"

// Category is the user-facing classification of a platform failure. It
// drives the orchestrator's retry decision.
type Category string

const (
	CategoryExpiredToken Category = "expired_token"
	CategoryPermission   Category = "permission_denied"
	CategoryRestricted   Category = "restricted"
	CategoryPolicy       Category = "policy_violation"
	CategoryRateLimited  Category = "rate_limited"
	CategoryInvalidMedia Category = "invalid_media"
	CategoryNotApproved  Category = "not_approved"
	CategoryValidation   Category = "validation"
	CategoryTransient    Category = "transient"
)

// Error is a structured platform failure. Raw carries the untouched
// platform payload for support diagnosis.
type Error struct {
	Platform string
	Code     int
	Category Category
	Message  string
	Raw      string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error %d (%s): %s", e.Platform, e.Code, e.Category, e.Message)
}

// Retryable reports whether the orchestrator may attempt this schedule
// again. Policy, permission and validation failures are terminal.
func (e *Error) Retryable() bool {
	switch e.Category {
	case CategoryTransient, CategoryRateLimited:
		return true
	}
	return false
}

// RateLimited satisfies the rate-limit helper's retry hook.
func (e *Error) RateLimited() bool {
	return e.Category == CategoryRateLimited
}

func transientError(platform, message, raw string) *Error {
	return &Error{Platform: platform, Category: CategoryTransient, Message: message, Raw: raw}
}
