package models

import "time"

const (
	ActionPublishAttempt = "publish_attempt"
	ActionTokenRefresh   = "token_refresh"
	ActionScheduleCancel = "schedule_cancel"

	// ActionInfraFailure marks attempt records written before the owning
	// tenant could be resolved (the post row itself was unreadable).
	ActionInfraFailure = "infra_failure"
)

const (
	TargetTypeSchedule = "post_schedule"
	TargetTypeAccount  = "social_account"
)

// ActivityLog is one audit record per publish attempt, credential refresh
// or cancellation. ProviderData carries the raw platform payload for
// support diagnosis.
type ActivityLog struct {
	ID           string    `db:"id" json:"id"`
	UserID       int64     `db:"user_id" json:"user_id"`
	ActionType   string    `db:"action_type" json:"action_type"`
	Status       string    `db:"status" json:"status"`
	TargetType   string    `db:"target_type" json:"target_type"`
	TargetID     int64     `db:"target_id" json:"target_id"`
	ProviderData string    `db:"provider_data" json:"provider_data"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
