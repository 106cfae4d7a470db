package models

import "time"

const (
	ScheduleStatusPending    = "pending"
	ScheduleStatusProcessing = "processing"
	ScheduleStatusPublished  = "published"
	ScheduleStatusFailed     = "failed"
	ScheduleStatusCancelled  = "cancelled"
)

const DefaultMaxAttempts = 3

// PostSchedule binds one post to one social account at a target time. It is
// the unit of work the orchestrator advances through its state machine.
// Terminal statuses (published, failed, cancelled) are immutable once set.
type PostSchedule struct {
	ID              int64     `db:"id" json:"id"`
	PostID          int64     `db:"post_id" json:"post_id"`
	SocialAccountID int64     `db:"social_account_id" json:"social_account_id"`
	ScheduledAt     time.Time `db:"scheduled_at" json:"scheduled_at"`
	Status          string    `db:"status" json:"status"`
	Attempts        int       `db:"attempts" json:"attempts"`
	MaxAttempts     int       `db:"max_attempts" json:"max_attempts"`
	LastError       string    `db:"last_error" json:"last_error"`
	ExternalPostID  string    `db:"external_post_id" json:"external_post_id"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

func (s *PostSchedule) Terminal() bool {
	switch s.Status {
	case ScheduleStatusPublished, ScheduleStatusFailed, ScheduleStatusCancelled:
		return true
	}
	return false
}

// AttemptsLeft reports whether another publish attempt is allowed.
func (s *PostSchedule) AttemptsLeft() bool {
	return s.Attempts < s.MaxAttempts
}
