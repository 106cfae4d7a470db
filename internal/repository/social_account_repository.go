package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/cuongccna/autopost-vn-sub000/internal/models"
)

type SocialAccountRepository interface {
	GetByID(ctx context.Context, id int64) (*models.SocialAccount, error)
	ListConnectedWithExpiry(ctx context.Context) ([]*models.SocialAccount, error)
	UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken string, expiresAt *time.Time) error
	UpdateStatus(ctx context.Context, id int64, status string) error
}

type socialAccountRepository struct {
	db *sql.DB
}

func NewSocialAccountRepository(db *sql.DB) SocialAccountRepository {
	return &socialAccountRepository{db: db}
}

func (r *socialAccountRepository) GetByID(ctx context.Context, id int64) (*models.SocialAccount, error) {
	query := `
		SELECT id, user_id, provider, provider_account_id, account_name,
			access_token, refresh_token, token_expires_at, status, created_at, updated_at
		FROM social_accounts WHERE id = $1`
	row := r.db.QueryRowContext(ctx, query, id)

	var sa models.SocialAccount
	err := row.Scan(&sa.ID, &sa.UserID, &sa.Provider, &sa.ProviderAccountID, &sa.AccountName,
		&sa.AccessToken, &sa.RefreshToken, &sa.TokenExpiresAt, &sa.Status, &sa.CreatedAt, &sa.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return &sa, nil
}

// ListConnectedWithExpiry returns connected accounts with a known token
// expiry, for the lifecycle job. Non-expiring accounts are skipped at the
// query level.
func (r *socialAccountRepository) ListConnectedWithExpiry(ctx context.Context) ([]*models.SocialAccount, error) {
	query := `
		SELECT id, user_id, provider, provider_account_id, account_name,
			access_token, refresh_token, token_expires_at, status, created_at, updated_at
		FROM social_accounts
		WHERE status = $1 AND token_expires_at IS NOT NULL`
	rows, err := r.db.QueryContext(ctx, query, models.AccountStatusConnected)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var accounts []*models.SocialAccount
	for rows.Next() {
		var sa models.SocialAccount
		err := rows.Scan(&sa.ID, &sa.UserID, &sa.Provider, &sa.ProviderAccountID, &sa.AccountName,
			&sa.AccessToken, &sa.RefreshToken, &sa.TokenExpiresAt, &sa.Status, &sa.CreatedAt, &sa.UpdatedAt)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		accounts = append(accounts, &sa)
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return accounts, nil
}

// UpdateTokens replaces both tokens and the expiry in one statement. Zalo
// rotates refresh tokens, so the pair must land atomically.
func (r *socialAccountRepository) UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken string, expiresAt *time.Time) error {
	query := `
		UPDATE social_accounts
		SET access_token = $2,
			refresh_token = COALESCE(NULLIF($3, ''), refresh_token),
			token_expires_at = $4,
			status = $5,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id, accessToken, refreshToken, expiresAt, models.AccountStatusConnected)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *socialAccountRepository) UpdateStatus(ctx context.Context, id int64, status string) error {
	query := `UPDATE social_accounts SET status = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id, status)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
