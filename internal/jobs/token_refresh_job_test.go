package job

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/cuongccna/autopost-vn-sub000/configs"
	"github.com/cuongccna/autopost-vn-sub000/internal/models"
	"github.com/cuongccna/autopost-vn-sub000/pkg/crypto"
)

const testKey = "0123456789abcdef0123456789abcdef"

type stubAccountRepo struct {
	mu       sync.Mutex
	accounts []*models.SocialAccount

	tokenUpdates  map[int64][3]string // access, refresh, status of expiry
	statusUpdates map[int64]string
}

func newStubAccountRepo(accounts ...*models.SocialAccount) *stubAccountRepo {
	return &stubAccountRepo{
		accounts:      accounts,
		tokenUpdates:  map[int64][3]string{},
		statusUpdates: map[int64]string{},
	}
}

func (r *stubAccountRepo) GetByID(_ context.Context, id int64) (*models.SocialAccount, error) {
	for _, a := range r.accounts {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, nil
}

func (r *stubAccountRepo) ListConnectedWithExpiry(_ context.Context) ([]*models.SocialAccount, error) {
	return r.accounts, nil
}

func (r *stubAccountRepo) UpdateTokens(_ context.Context, id int64, accessToken, refreshToken string, expiresAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	expiry := ""
	if expiresAt != nil {
		expiry = expiresAt.Format(time.RFC3339)
	}
	r.tokenUpdates[id] = [3]string{accessToken, refreshToken, expiry}
	return nil
}

func (r *stubAccountRepo) UpdateStatus(_ context.Context, id int64, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statusUpdates[id] = status
	return nil
}

type stubActivityRepo struct {
	mu      sync.Mutex
	entries []models.ActivityLog
}

func (r *stubActivityRepo) Create(_ context.Context, entry *models.ActivityLog) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	return "log-id", nil
}

func (r *stubActivityRepo) statuses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Status)
	}
	return out
}

func newTestJob(t *testing.T, sr *stubAccountRepo, ar *stubActivityRepo) *TokenRefreshJob {
	t.Helper()

	cipher, err := crypto.New(testKey)
	require.NoError(t, err)

	cfg := config.Config{
		FacebookAppID:     "fb-app",
		FacebookAppSecret: "fb-secret",
		ZaloAppID:         "zalo-app",
		ZaloSecretKey:     "zalo-secret",
		HTTPTimeout:       5 * time.Second,
	}
	return NewTokenRefreshJob(sr, ar, cipher, cfg)
}

func expiresIn(d time.Duration) *time.Time {
	ts := time.Now().Add(d)
	return &ts
}

func TestClassify(t *testing.T) {
	j := newTestJob(t, newStubAccountRepo(), &stubActivityRepo{})

	tests := []struct {
		name     string
		provider string
		expiry   *time.Time
		want     refreshAction
	}{
		{"no expiry is ignored", models.ProviderFacebook, nil, actionNone},
		{"zalo within five hours", models.ProviderZalo, expiresIn(4 * time.Hour), actionRefresh},
		{"zalo outside window", models.ProviderZalo, expiresIn(20 * time.Hour), actionNone},
		{"facebook within seven days", models.ProviderFacebook, expiresIn(6 * 24 * time.Hour), actionRefresh},
		{"facebook outside window", models.ProviderFacebook, expiresIn(30 * 24 * time.Hour), actionNone},
		{"instagram within seven days", models.ProviderInstagram, expiresIn(24 * time.Hour), actionRefresh},
		{"just expired still refreshable", models.ProviderZalo, expiresIn(-30 * time.Minute), actionRefresh},
		{"expired beyond grace needs reconnect", models.ProviderFacebook, expiresIn(-2 * time.Hour), actionManualAuth},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			acc := &models.SocialAccount{Provider: tc.provider, TokenExpiresAt: tc.expiry}
			assert.Equal(t, tc.want, j.classify(acc))
		})
	}
}

func TestRefreshZaloRotatesBothTokens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/oa/access_token", r.URL.Path)
		require.Equal(t, "zalo-secret", r.Header.Get("secret_key"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.FormValue("grant_type"))
		assert.Equal(t, "old-refresh", r.FormValue("refresh_token"))

		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "new-access",
			"refresh_token": "new-refresh",
			"expires_in":    "90000",
		})
	}))
	defer server.Close()

	cipher, err := crypto.New(testKey)
	require.NoError(t, err)
	encRefresh, err := cipher.Encrypt("old-refresh")
	require.NoError(t, err)

	account := &models.SocialAccount{
		ID:             1,
		UserID:         7,
		Provider:       models.ProviderZalo,
		RefreshToken:   encRefresh,
		Status:         models.AccountStatusConnected,
		TokenExpiresAt: expiresIn(2 * time.Hour),
	}

	sr := newStubAccountRepo(account)
	ar := &stubActivityRepo{}
	j := newTestJob(t, sr, ar)
	j.zaloOAuthBaseURL = server.URL

	j.RefreshTokens()

	update, ok := sr.tokenUpdates[1]
	require.True(t, ok, "tokens should have been rotated")

	gotAccess, err := cipher.Decrypt(update[0])
	require.NoError(t, err)
	assert.Equal(t, "new-access", gotAccess)

	gotRefresh, err := cipher.Decrypt(update[1])
	require.NoError(t, err)
	assert.Equal(t, "new-refresh", gotRefresh)

	assert.NotEmpty(t, update[2], "expiry should be recorded")
	assert.Contains(t, ar.statuses(), "success")
}

func TestRefreshZaloRejectionLeavesTokensAlone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"error":             -216,
			"error_description": "refresh token invalid",
		})
	}))
	defer server.Close()

	cipher, err := crypto.New(testKey)
	require.NoError(t, err)
	encRefresh, err := cipher.Encrypt("old-refresh")
	require.NoError(t, err)

	account := &models.SocialAccount{
		ID:             1,
		Provider:       models.ProviderZalo,
		RefreshToken:   encRefresh,
		Status:         models.AccountStatusConnected,
		TokenExpiresAt: expiresIn(time.Hour),
	}

	sr := newStubAccountRepo(account)
	ar := &stubActivityRepo{}
	j := newTestJob(t, sr, ar)
	j.zaloOAuthBaseURL = server.URL

	j.RefreshTokens()

	assert.Empty(t, sr.tokenUpdates)
	assert.Contains(t, ar.statuses(), "failed")
}

func TestRefreshFacebookExchangesLongLivedToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/oauth/access_token", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "fb_exchange_token", q.Get("grant_type"))
		assert.Equal(t, "fb-app", q.Get("client_id"))
		assert.Equal(t, "current-token", q.Get("fb_exchange_token"))

		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "exchanged-token",
			"expires_in":   5183944,
		})
	}))
	defer server.Close()

	cipher, err := crypto.New(testKey)
	require.NoError(t, err)
	encAccess, err := cipher.Encrypt("current-token")
	require.NoError(t, err)

	account := &models.SocialAccount{
		ID:             1,
		Provider:       models.ProviderFacebook,
		AccessToken:    encAccess,
		Status:         models.AccountStatusConnected,
		TokenExpiresAt: expiresIn(3 * 24 * time.Hour),
	}

	sr := newStubAccountRepo(account)
	j := newTestJob(t, sr, &stubActivityRepo{})
	j.graphBaseURL = server.URL

	j.RefreshTokens()

	update, ok := sr.tokenUpdates[1]
	require.True(t, ok)

	got, err := cipher.Decrypt(update[0])
	require.NoError(t, err)
	assert.Equal(t, "exchanged-token", got)
	assert.Empty(t, update[1], "facebook has no refresh token to rotate")
}

func TestExpiredBeyondGraceFlagsManualAuth(t *testing.T) {
	account := &models.SocialAccount{
		ID:             1,
		Provider:       models.ProviderInstagram,
		Status:         models.AccountStatusConnected,
		TokenExpiresAt: expiresIn(-3 * time.Hour),
	}

	sr := newStubAccountRepo(account)
	ar := &stubActivityRepo{}
	j := newTestJob(t, sr, ar)

	j.RefreshTokens()

	assert.Equal(t, models.AccountStatusExpired, sr.statusUpdates[1])
	assert.Contains(t, ar.statuses(), "needs_manual_auth")
	assert.Empty(t, sr.tokenUpdates)
}
