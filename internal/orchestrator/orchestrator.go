package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	config "github.com/cuongccna/autopost-vn-sub000/configs"
	"github.com/cuongccna/autopost-vn-sub000/internal/models"
	"github.com/cuongccna/autopost-vn-sub000/internal/publisher"
	"github.com/cuongccna/autopost-vn-sub000/internal/ratelimit"
	"github.com/cuongccna/autopost-vn-sub000/internal/repository"
	"github.com/cuongccna/autopost-vn-sub000/pkg/crypto"
)

const (
	claimConcurrency = 10
	admissionRetries = 2
	maxRetryDelay    = 5 * time.Minute
)

// PublisherSelector picks the adapter for a provider tag.
type PublisherSelector interface {
	For(provider string) (publisher.Publisher, error)
}

// Orchestrator advances post schedules through
// pending → processing → {published | failed | cancelled}.
type Orchestrator struct {
	cfg      config.Config
	cipher   *crypto.TokenCipher
	limiter  *ratelimit.Limiter
	registry PublisherSelector

	schedules repository.PostScheduleRepository
	accounts  repository.SocialAccountRepository
	posts     repository.PostRepository
	activity  repository.ActivityLogRepository

	now func() time.Time
}

func New(
	cfg config.Config,
	cipher *crypto.TokenCipher,
	limiter *ratelimit.Limiter,
	registry PublisherSelector,
	schedules repository.PostScheduleRepository,
	accounts repository.SocialAccountRepository,
	posts repository.PostRepository,
	activity repository.ActivityLogRepository) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		cipher:    cipher,
		limiter:   limiter,
		registry:  registry,
		schedules: schedules,
		accounts:  accounts,
		posts:     posts,
		activity:  activity,
		now:       time.Now,
	}
}

// ProcessDue claims a batch of due schedules and processes them with
// bounded concurrency. Used by the periodic sweep; the queue path goes
// through Run.
func (o *Orchestrator) ProcessDue(ctx context.Context, limit int) error {
	claimed, err := o.schedules.ClaimDue(ctx, o.now(), limit)
	if err != nil {
		return err
	}
	if len(claimed) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, claimConcurrency)

	for _, sched := range claimed {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(sched *models.PostSchedule) {
			defer wg.Done()
			defer func() { <-semaphore }()
			o.processClaimed(ctx, sched)
		}(sched)
	}

	wg.Wait()
	return nil
}

// Run claims and processes one schedule. Returns a non-zero delay when the
// attempt failed transiently and the caller should re-enqueue.
func (o *Orchestrator) Run(ctx context.Context, scheduleID int64) (time.Duration, error) {
	sched, err := o.schedules.ClaimByID(ctx, scheduleID, o.now())
	if err != nil {
		return 0, err
	}
	if sched == nil {
		// Not due, already claimed elsewhere, or terminal.
		return 0, nil
	}
	return o.processClaimed(ctx, sched), nil
}

// processClaimed runs one publish attempt for a schedule already in
// processing. Returns the retry delay when the schedule was released back
// to pending.
func (o *Orchestrator) processClaimed(ctx context.Context, sched *models.PostSchedule) time.Duration {
	post, err := o.posts.GetByID(ctx, sched.PostID)
	if err != nil {
		return o.releaseOrFail(ctx, sched, 0, "", fmt.Sprintf("post lookup failed: %v", err))
	}
	if post == nil {
		o.fail(ctx, sched, 0, "post no longer exists", "")
		return 0
	}

	account, err := o.accounts.GetByID(ctx, sched.SocialAccountID)
	if err != nil {
		return o.releaseOrFail(ctx, sched, post.UserID, "", fmt.Sprintf("account lookup failed: %v", err))
	}
	if account == nil {
		o.fail(ctx, sched, post.UserID, "social account no longer exists", "")
		return 0
	}
	if !account.Publishable() {
		o.fail(ctx, sched, account.UserID, fmt.Sprintf("account is %s, not connected", account.Status), "")
		return 0
	}

	pub, err := o.registry.For(account.Provider)
	if err != nil {
		// Wiring bug, not a platform condition. Never retried.
		o.fail(ctx, sched, account.UserID, err.Error(), "")
		return 0
	}

	accessToken, err := o.cipher.Decrypt(account.AccessToken)
	if err != nil {
		if errors.Is(err, crypto.ErrDecryptFailed) {
			if uerr := o.accounts.UpdateStatus(ctx, account.ID, models.AccountStatusError); uerr != nil {
				slog.Info(uerr.Error())
			}
		}
		o.fail(ctx, sched, account.UserID, "stored credential is unusable", "")
		return 0
	}

	req := publisher.PublishRequest{
		Content:           post.Content,
		MediaURLs:         post.MediaURLs,
		ScheduledAt:       &sched.ScheduledAt,
		AccessToken:       accessToken,
		ProviderAccountID: account.ProviderAccountID,
	}

	result, err := o.publishAdmitted(ctx, pub, account, req)
	if err != nil {
		if errors.Is(err, ratelimit.ErrRateLimitExceeded) {
			return o.retryOrFail(ctx, sched, account, &publisher.Error{
				Platform: account.Provider,
				Category: publisher.CategoryRateLimited,
				Message:  "rate limit window exhausted",
			})
		}
		// Programming/config errors from the adapter are terminal.
		o.fail(ctx, sched, account.UserID, err.Error(), "")
		return 0
	}

	if result.Success {
		if err := o.schedules.MarkPublished(ctx, sched.ID, result.ExternalPostID); err != nil {
			slog.Info(err.Error())
		}
		o.logAttempt(ctx, sched, account.UserID, account.Provider, "published", result.ExternalPostID, "", result.PlatformResponse)
		o.refreshPostStatus(ctx, sched.PostID)
		slog.Info("schedule published",
			"schedule_id", sched.ID,
			"provider", account.Provider,
			"external_post_id", result.ExternalPostID)
		return 0
	}

	return o.retryOrFail(ctx, sched, account, result.Err)
}

// publishAdmitted runs the platform call under rate-limit admission.
// Platform-side rate limit errors feed the limiter's backoff loop.
func (o *Orchestrator) publishAdmitted(ctx context.Context, pub publisher.Publisher, account *models.SocialAccount, req publisher.PublishRequest) (*publisher.PublishResult, error) {
	tenantKey := strconv.FormatInt(account.UserID, 10)

	var result *publisher.PublishResult
	err := o.limiter.WithRetry(ctx, account.Provider, tenantKey, func() error {
		res, perr := pub.Publish(ctx, req)
		if perr != nil {
			return perr
		}
		result = res
		if res.Err != nil && res.Err.RateLimited() {
			return res.Err
		}
		return nil
	}, admissionRetries)

	if err != nil {
		var pe *publisher.Error
		if errors.As(err, &pe) {
			// Backoff exhausted on a platform rate limit; fold it back
			// into the structured result.
			return &publisher.PublishResult{Err: pe, PlatformResponse: pe.Raw}, nil
		}
		return nil, err
	}
	return result, nil
}

// retryOrFail applies the failure classification: retryable failures with
// attempts left go back to pending, everything else is terminal.
func (o *Orchestrator) retryOrFail(ctx context.Context, sched *models.PostSchedule, account *models.SocialAccount, perr *publisher.Error) time.Duration {
	if perr.Category == publisher.CategoryExpiredToken {
		// Hand the credential to the lifecycle job.
		if err := o.accounts.UpdateStatus(ctx, account.ID, models.AccountStatusExpired); err != nil {
			slog.Info(err.Error())
		}
	}

	if perr.Retryable() && sched.AttemptsLeft() {
		return o.release(ctx, sched, account.UserID, account.Provider, perr.Error())
	}

	reason := perr.Message
	if perr.Retryable() {
		// Distinguish exhaustion from an immediately terminal failure.
		reason = fmt.Sprintf("gave up after %d attempts: %s", sched.Attempts, perr.Message)
	}
	o.fail(ctx, sched, account.UserID, reason, perr.Raw)
	return 0
}

// releaseOrFail handles infrastructure failures under the same attempt
// budget as platform failures: every claim costs an attempt, so a
// persistently failing lookup must still terminate in failed.
func (o *Orchestrator) releaseOrFail(ctx context.Context, sched *models.PostSchedule, userID int64, provider, reason string) time.Duration {
	if sched.AttemptsLeft() {
		return o.release(ctx, sched, userID, provider, reason)
	}
	o.fail(ctx, sched, userID, fmt.Sprintf("gave up after %d attempts: %s", sched.Attempts, reason), "")
	return 0
}

// release returns the schedule to the pool with a backoff delay.
func (o *Orchestrator) release(ctx context.Context, sched *models.PostSchedule, userID int64, provider, lastError string) time.Duration {
	delay := o.retryDelay(sched.Attempts)
	if err := o.schedules.Release(ctx, sched.ID, o.now().Add(delay), lastError); err != nil {
		slog.Info(err.Error())
	}
	o.logAttempt(ctx, sched, userID, provider, "retrying", "", lastError, "")
	slog.Info("schedule released for retry",
		"schedule_id", sched.ID,
		"attempt", sched.Attempts,
		"next_in", delay.String())
	return delay
}

func (o *Orchestrator) fail(ctx context.Context, sched *models.PostSchedule, userID int64, reason, raw string) {
	if err := o.schedules.MarkFailed(ctx, sched.ID, reason); err != nil {
		slog.Info(err.Error())
	}
	o.logAttempt(ctx, sched, userID, "", "failed", "", reason, raw)
	o.refreshPostStatus(ctx, sched.PostID)
	slog.Info("schedule failed",
		"schedule_id", sched.ID,
		"attempt", sched.Attempts,
		"reason", reason)
}

// Cancel stops a pending or processing schedule. A publish already past
// the network call stands; cancellation only prevents further attempts.
func (o *Orchestrator) Cancel(ctx context.Context, scheduleID int64) (bool, error) {
	sched, err := o.schedules.GetByID(ctx, scheduleID)
	if err != nil {
		return false, err
	}
	if sched == nil {
		return false, nil
	}

	cancelled, err := o.schedules.Cancel(ctx, scheduleID)
	if err != nil {
		return false, err
	}
	if cancelled {
		if _, err := o.activity.Create(ctx, &models.ActivityLog{
			ActionType:   models.ActionScheduleCancel,
			Status:       "cancelled",
			TargetType:   models.TargetTypeSchedule,
			TargetID:     sched.ID,
			ProviderData: "{}",
		}); err != nil {
			slog.Info(err.Error())
		}
		o.refreshPostStatus(ctx, sched.PostID)
	}
	return cancelled, nil
}

// refreshPostStatus re-derives the post's aggregate status from its
// schedules. Outcomes are independent per account, so partial success is
// normal and must stay visible.
func (o *Orchestrator) refreshPostStatus(ctx context.Context, postID int64) {
	schedules, err := o.schedules.ListByPostID(ctx, postID)
	if err != nil {
		slog.Info(err.Error())
		return
	}

	statuses := make([]string, 0, len(schedules))
	for _, s := range schedules {
		statuses = append(statuses, s.Status)
	}

	if err := o.posts.UpdateStatus(ctx, postID, models.DerivePostStatus(statuses)); err != nil {
		slog.Info(err.Error())
	}
}

func (o *Orchestrator) retryDelay(attempt int) time.Duration {
	base := o.cfg.BaseRetryDelay
	if base <= 0 {
		base = time.Second
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := base << uint(attempt-1)
	if delay > maxRetryDelay || delay <= 0 {
		return maxRetryDelay
	}
	return delay
}

func (o *Orchestrator) logAttempt(ctx context.Context, sched *models.PostSchedule, userID int64, provider, status, externalPostID, errMessage, raw string) {
	data := map[string]string{}
	if provider != "" {
		data["provider"] = provider
	}
	if externalPostID != "" {
		data["external_post_id"] = externalPostID
	}
	if errMessage != "" {
		data["error"] = errMessage
	}
	if raw != "" {
		data["platform_response"] = raw
	}
	providerData, _ := json.Marshal(data)

	action := models.ActionPublishAttempt
	if userID == 0 {
		action = models.ActionInfraFailure
	}

	if _, err := o.activity.Create(ctx, &models.ActivityLog{
		UserID:       userID,
		ActionType:   action,
		Status:       status,
		TargetType:   models.TargetTypeSchedule,
		TargetID:     sched.ID,
		ProviderData: string(providerData),
	}); err != nil {
		slog.Info(err.Error())
	}
}
