package repository

import (
	"context"
	"database/sql"
	"log/slog"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/cuongccna/autopost-vn-sub000/internal/models"
)

type ActivityLogRepository interface {
	Create(ctx context.Context, entry *models.ActivityLog) (string, error)
}

type activityLogRepository struct {
	db *sql.DB
}

func NewActivityLogRepository(db *sql.DB) ActivityLogRepository {
	return &activityLogRepository{db: db}
}

func (r *activityLogRepository) Create(ctx context.Context, entry *models.ActivityLog) (string, error) {
	if entry.ID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return "", err
		}
		entry.ID = id
	}

	query := `
		INSERT INTO activity_logs (id, user_id, action_type, status, target_type, target_id, provider_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.UserID, entry.ActionType, entry.Status,
		entry.TargetType, entry.TargetID, entry.ProviderData)
	if err != nil {
		slog.Info(err.Error())
		return "", err
	}
	return entry.ID, nil
}
