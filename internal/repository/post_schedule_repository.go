package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/cuongccna/autopost-vn-sub000/internal/models"
)

const scheduleColumns = `id, post_id, social_account_id, scheduled_at, status,
	attempts, max_attempts, last_error, external_post_id, created_at, updated_at`

type PostScheduleRepository interface {
	GetByID(ctx context.Context, id int64) (*models.PostSchedule, error)
	ListByPostID(ctx context.Context, postID int64) ([]*models.PostSchedule, error)
	// ClaimDue atomically flips due pending schedules to processing and
	// increments attempts. Each schedule is claimed by exactly one worker.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.PostSchedule, error)
	// ClaimByID is the single-schedule variant used by the queue worker.
	// Returns nil when the schedule is not claimable (already terminal,
	// processing elsewhere, or not yet due).
	ClaimByID(ctx context.Context, id int64, now time.Time) (*models.PostSchedule, error)
	MarkPublished(ctx context.Context, id int64, externalPostID string) error
	MarkFailed(ctx context.Context, id int64, lastError string) error
	// Release returns a processing schedule to the pool for a later claim.
	Release(ctx context.Context, id int64, nextAttemptAt time.Time, lastError string) error
	// Cancel only touches pending/processing schedules; terminal statuses
	// are immutable.
	Cancel(ctx context.Context, id int64) (bool, error)
}

type postScheduleRepository struct {
	db *sql.DB
}

func NewPostScheduleRepository(db *sql.DB) PostScheduleRepository {
	return &postScheduleRepository{db: db}
}

func scanSchedule(scanner interface{ Scan(...any) error }) (*models.PostSchedule, error) {
	var s models.PostSchedule
	err := scanner.Scan(&s.ID, &s.PostID, &s.SocialAccountID, &s.ScheduledAt, &s.Status,
		&s.Attempts, &s.MaxAttempts, &s.LastError, &s.ExternalPostID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *postScheduleRepository) GetByID(ctx context.Context, id int64) (*models.PostSchedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM post_schedules WHERE id = $1`
	s, err := scanSchedule(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return s, nil
}

func (r *postScheduleRepository) ListByPostID(ctx context.Context, postID int64) ([]*models.PostSchedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM post_schedules WHERE post_id = $1 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, postID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var schedules []*models.PostSchedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		schedules = append(schedules, s)
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return schedules, nil
}

func (r *postScheduleRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.PostSchedule, error) {
	query := `
		UPDATE post_schedules
		SET status = $1, attempts = attempts + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id IN (
			SELECT id FROM post_schedules
			WHERE status = $2 AND scheduled_at <= $3
			ORDER BY scheduled_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + scheduleColumns
	rows, err := r.db.QueryContext(ctx, query,
		models.ScheduleStatusProcessing, models.ScheduleStatusPending, now, limit)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var schedules []*models.PostSchedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		schedules = append(schedules, s)
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return schedules, nil
}

func (r *postScheduleRepository) ClaimByID(ctx context.Context, id int64, now time.Time) (*models.PostSchedule, error) {
	query := `
		UPDATE post_schedules
		SET status = $1, attempts = attempts + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2 AND status = $3 AND scheduled_at <= $4
		RETURNING ` + scheduleColumns
	s, err := scanSchedule(r.db.QueryRowContext(ctx, query,
		models.ScheduleStatusProcessing, id, models.ScheduleStatusPending, now))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return s, nil
}

// MarkPublished records the external post id on a processing schedule. A
// cancel landing between the platform call and this update wins the row
// (the status guard makes this a no-op); the external id of such a publish
// survives only in the activity log.
func (r *postScheduleRepository) MarkPublished(ctx context.Context, id int64, externalPostID string) error {
	query := `
		UPDATE post_schedules
		SET status = $2, external_post_id = $3, last_error = '', updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND status = $4`
	_, err := r.db.ExecContext(ctx, query, id, models.ScheduleStatusPublished, externalPostID, models.ScheduleStatusProcessing)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *postScheduleRepository) MarkFailed(ctx context.Context, id int64, lastError string) error {
	query := `
		UPDATE post_schedules
		SET status = $2, last_error = $3, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND status = $4`
	_, err := r.db.ExecContext(ctx, query, id, models.ScheduleStatusFailed, lastError, models.ScheduleStatusProcessing)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *postScheduleRepository) Release(ctx context.Context, id int64, nextAttemptAt time.Time, lastError string) error {
	query := `
		UPDATE post_schedules
		SET status = $2, scheduled_at = $3, last_error = $4, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND status = $5`
	_, err := r.db.ExecContext(ctx, query, id, models.ScheduleStatusPending, nextAttemptAt, lastError, models.ScheduleStatusProcessing)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *postScheduleRepository) Cancel(ctx context.Context, id int64) (bool, error) {
	query := `
		UPDATE post_schedules
		SET status = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND status IN ($3, $4)`
	result, err := r.db.ExecContext(ctx, query, id, models.ScheduleStatusCancelled,
		models.ScheduleStatusPending, models.ScheduleStatusProcessing)
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	return affected == 1, nil
}
