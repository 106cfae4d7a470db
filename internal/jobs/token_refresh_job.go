package job

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	config "github.com/cuongccna/autopost-vn-sub000/configs"
	"github.com/cuongccna/autopost-vn-sub000/internal/models"
	"github.com/cuongccna/autopost-vn-sub000/internal/repository"
	"github.com/cuongccna/autopost-vn-sub000/pkg/crypto"
)

const (
	// Zalo tokens live ~25 hours; Facebook and Instagram ~60 days.
	zaloRefreshWindow = 5 * time.Hour
	metaRefreshWindow = 7 * 24 * time.Hour

	// Past this point no refresh material can be assumed valid, the
	// tenant has to reconnect.
	manualAuthGrace = time.Hour

	defaultMetaTokenLifetime = 60 * 24 * time.Hour
	defaultZaloTokenLifetime = 25 * time.Hour
)

type refreshAction int

const (
	actionNone refreshAction = iota
	actionRefresh
	actionManualAuth
)

// TokenRefreshJob scans connected accounts and refreshes tokens before
// they expire, each platform through its own protocol.
type TokenRefreshJob struct {
	sr     repository.SocialAccountRepository
	ar     repository.ActivityLogRepository
	cipher *crypto.TokenCipher
	cfg    config.Config
	client *http.Client

	graphBaseURL     string
	instagramBaseURL string
	zaloOAuthBaseURL string

	now func() time.Time
}

func NewTokenRefreshJob(
	sr repository.SocialAccountRepository,
	ar repository.ActivityLogRepository,
	cipher *crypto.TokenCipher,
	cfg config.Config) *TokenRefreshJob {
	return &TokenRefreshJob{
		sr:               sr,
		ar:               ar,
		cipher:           cipher,
		cfg:              cfg,
		client:           &http.Client{Timeout: cfg.HTTPTimeout},
		graphBaseURL:     "https://graph.facebook.com/v21.0",
		instagramBaseURL: "https://graph.instagram.com",
		zaloOAuthBaseURL: "https://oauth.zaloapp.com/v4",
		now:              time.Now,
	}
}

// RefreshTokens is the cron entrypoint.
func (j *TokenRefreshJob) RefreshTokens() {
	ctx := context.Background()

	accounts, err := j.sr.ListConnectedWithExpiry(ctx)
	if err != nil {
		slog.Info(err.Error())
		return
	}

	var wg sync.WaitGroup

	concurrencyLimit := 10
	semaphore := make(chan struct{}, concurrencyLimit)

	for _, acc := range accounts {
		action := j.classify(acc)
		if action == actionNone {
			continue
		}

		wg.Add(1)
		semaphore <- struct{}{}

		go func(acc *models.SocialAccount, action refreshAction) {
			defer wg.Done()
			defer func() { <-semaphore }()

			if action == actionManualAuth {
				j.flagManualAuth(ctx, acc)
				return
			}
			j.refreshAccount(ctx, acc)
		}(acc, action)
	}

	wg.Wait()
}

// classify decides what to do with one account this cycle. Accounts expired
// for more than the grace period are flagged for manual reconnection, not
// auto-refreshed.
func (j *TokenRefreshJob) classify(acc *models.SocialAccount) refreshAction {
	if acc.NonExpiring() {
		return actionNone
	}

	untilExpiry := acc.TokenExpiresAt.Sub(j.now())
	if untilExpiry < -manualAuthGrace {
		return actionManualAuth
	}

	switch acc.Provider {
	case models.ProviderZalo:
		if untilExpiry <= zaloRefreshWindow {
			return actionRefresh
		}
	case models.ProviderFacebook, models.ProviderInstagram:
		if untilExpiry <= metaRefreshWindow {
			return actionRefresh
		}
	}
	return actionNone
}

func (j *TokenRefreshJob) flagManualAuth(ctx context.Context, acc *models.SocialAccount) {
	slog.Warn("token expired beyond grace, manual reconnection required",
		"account_id", acc.ID,
		"provider", acc.Provider)

	if err := j.sr.UpdateStatus(ctx, acc.ID, models.AccountStatusExpired); err != nil {
		slog.Info(err.Error())
	}
	j.logRefresh(ctx, acc, "needs_manual_auth", "")
}

func (j *TokenRefreshJob) refreshAccount(ctx context.Context, acc *models.SocialAccount) {
	var err error
	switch acc.Provider {
	case models.ProviderFacebook:
		err = j.refreshFacebook(ctx, acc)
	case models.ProviderInstagram:
		err = j.refreshInstagram(ctx, acc)
	case models.ProviderZalo:
		err = j.refreshZalo(ctx, acc)
	default:
		err = fmt.Errorf("unsupported provider %q", acc.Provider)
	}

	if err != nil {
		// Left as-is for the next cycle; surfaced to operators via the
		// activity log, never retried in a tight loop.
		slog.Warn("token refresh failed",
			"account_id", acc.ID,
			"provider", acc.Provider,
			"error", err.Error())
		j.logRefresh(ctx, acc, "failed", err.Error())
		return
	}

	j.logRefresh(ctx, acc, "success", "")
}

// refreshFacebook exchanges the current long-lived token for a fresh one.
func (j *TokenRefreshJob) refreshFacebook(ctx context.Context, acc *models.SocialAccount) error {
	accessToken, err := j.cipher.Decrypt(acc.AccessToken)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf(
		"%s/oauth/access_token?grant_type=fb_exchange_token&client_id=%s&client_secret=%s&fb_exchange_token=%s",
		j.graphBaseURL,
		url.QueryEscape(j.cfg.FacebookAppID),
		url.QueryEscape(j.cfg.FacebookAppSecret),
		url.QueryEscape(accessToken),
	)

	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := j.getJSON(ctx, endpoint, &result); err != nil {
		return err
	}
	if result.AccessToken == "" {
		return fmt.Errorf("no access token in exchange response")
	}

	expiresAt := j.expiresAt(result.ExpiresIn, defaultMetaTokenLifetime)
	return j.storeTokens(ctx, acc.ID, result.AccessToken, "", expiresAt)
}

// refreshInstagram refreshes the long-lived token in place.
func (j *TokenRefreshJob) refreshInstagram(ctx context.Context, acc *models.SocialAccount) error {
	accessToken, err := j.cipher.Decrypt(acc.AccessToken)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf(
		"%s/refresh_access_token?grant_type=ig_refresh_token&access_token=%s",
		j.instagramBaseURL,
		url.QueryEscape(accessToken),
	)

	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := j.getJSON(ctx, endpoint, &result); err != nil {
		return err
	}
	if result.AccessToken == "" {
		return fmt.Errorf("no access token in refresh response")
	}

	expiresAt := j.expiresAt(result.ExpiresIn, defaultMetaTokenLifetime)
	return j.storeTokens(ctx, acc.ID, result.AccessToken, "", expiresAt)
}

// refreshZalo exchanges the refresh token for a new access+refresh pair.
// The platform rotates refresh tokens: the old one dies with this call, so
// the new pair is persisted in one statement.
func (j *TokenRefreshJob) refreshZalo(ctx context.Context, acc *models.SocialAccount) error {
	refreshToken, err := j.cipher.Decrypt(acc.RefreshToken)
	if err != nil {
		return err
	}

	form := url.Values{}
	form.Set("app_id", j.cfg.ZaloAppID)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		j.zaloOAuthBaseURL+"/oa/access_token", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("secret_key", j.cfg.ZaloSecretKey)

	resp, err := j.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var result struct {
		AccessToken  string      `json:"access_token"`
		RefreshToken string      `json:"refresh_token"`
		ExpiresIn    json.Number `json:"expires_in"`
		Error        int         `json:"error"`
		Message      string      `json:"error_description"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("unreadable refresh response: %w", err)
	}
	if result.AccessToken == "" || result.RefreshToken == "" {
		return fmt.Errorf("refresh rejected: %s (error %d)", result.Message, result.Error)
	}

	expiresIn, _ := result.ExpiresIn.Int64()
	expiresAt := j.expiresAt(expiresIn, defaultZaloTokenLifetime)
	return j.storeTokens(ctx, acc.ID, result.AccessToken, result.RefreshToken, expiresAt)
}

func (j *TokenRefreshJob) storeTokens(ctx context.Context, accountID int64, accessToken, refreshToken string, expiresAt time.Time) error {
	encryptedAccess, err := j.cipher.Encrypt(accessToken)
	if err != nil {
		return err
	}

	var encryptedRefresh string
	if refreshToken != "" {
		encryptedRefresh, err = j.cipher.Encrypt(refreshToken)
		if err != nil {
			return err
		}
	}

	return j.sr.UpdateTokens(ctx, accountID, encryptedAccess, encryptedRefresh, &expiresAt)
}

func (j *TokenRefreshJob) expiresAt(expiresIn int64, fallback time.Duration) time.Time {
	if expiresIn <= 0 {
		return j.now().Add(fallback)
	}
	return j.now().Add(time.Duration(expiresIn) * time.Second)
}

func (j *TokenRefreshJob) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := j.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("refresh endpoint returned %d: %s", resp.StatusCode, body)
	}
	return json.Unmarshal(body, out)
}

func (j *TokenRefreshJob) logRefresh(ctx context.Context, acc *models.SocialAccount, status, detail string) {
	providerData, _ := json.Marshal(map[string]string{
		"provider": acc.Provider,
		"detail":   detail,
	})
	if _, err := j.ar.Create(ctx, &models.ActivityLog{
		UserID:       acc.UserID,
		ActionType:   models.ActionTokenRefresh,
		Status:       status,
		TargetType:   models.TargetTypeAccount,
		TargetID:     acc.ID,
		ProviderData: string(providerData),
	}); err != nil {
		slog.Info(err.Error())
	}
}
