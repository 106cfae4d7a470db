package models

import "time"

const (
	PostStatusDraft     = "draft"
	PostStatusScheduled = "scheduled"
	PostStatusPublished = "published"
	PostStatusFailed    = "failed"
	PostStatusCancelled = "cancelled"
)

// Post is the tenant content unit. The engine only reads content and media
// and derives the aggregate status from the post's schedules.
type Post struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	Content   string    `db:"content" json:"content"`
	MediaURLs []string  `db:"media_urls" json:"media_urls"`
	Status    string    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// DerivePostStatus folds the multiset of schedule statuses into the post's
// aggregate status. Partial success counts as published: one reachable
// audience beats none.
func DerivePostStatus(scheduleStatuses []string) string {
	if len(scheduleStatuses) == 0 {
		return PostStatusDraft
	}

	var published, failed, cancelled, terminal int
	for _, s := range scheduleStatuses {
		switch s {
		case ScheduleStatusPublished:
			published++
			terminal++
		case ScheduleStatusFailed:
			failed++
			terminal++
		case ScheduleStatusCancelled:
			cancelled++
			terminal++
		}
	}

	switch {
	case published > 0:
		return PostStatusPublished
	case terminal < len(scheduleStatuses):
		return PostStatusScheduled
	case failed > 0:
		return PostStatusFailed
	default:
		return PostStatusCancelled
	}
}
