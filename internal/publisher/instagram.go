package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	config "github.com/cuongccna/autopost-vn-sub000/configs"
	"github.com/cuongccna/autopost-vn-sub000/internal/media"
	"github.com/cuongccna/autopost-vn-sub000/internal/models"
)

const defaultInstagramBaseURL = "https://graph.instagram.com/v21.0"

// InstagramPublisher stages media containers, waits for video processing
// and publishes either a single container or a carousel.
type InstagramPublisher struct {
	client   *apiClient
	uploader *media.Uploader
	assets   *media.AssetStore
	baseURL  string

	pollInterval time.Duration
	maxPolls     int
	sleep        func(d time.Duration)
}

func NewInstagramPublisher(cfg config.Config, uploader *media.Uploader, assets *media.AssetStore) *InstagramPublisher {
	return &InstagramPublisher{
		client:       newAPIClient(cfg.HTTPTimeout),
		uploader:     uploader,
		assets:       assets,
		baseURL:      defaultInstagramBaseURL,
		pollInterval: 2 * time.Second,
		maxPolls:     10,
		sleep:        time.Sleep,
	}
}

func (p *InstagramPublisher) Platform() string { return models.ProviderInstagram }

func (p *InstagramPublisher) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	if len(req.MediaURLs) == 0 {
		return failure(&Error{
			Platform: p.Platform(),
			Category: CategoryValidation,
			Message:  "instagram requires at least one media item",
		}), nil
	}

	if len(req.MediaURLs) == 1 {
		return p.publishSingle(ctx, req)
	}
	return p.publishCarousel(ctx, req)
}

func (p *InstagramPublisher) publishSingle(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	containerID, isVideo, err := p.createContainer(ctx, req, req.MediaURLs[0], false)
	if err != nil {
		return failure(p.asPlatformError(err)), nil
	}

	if isVideo {
		if err := p.waitForContainer(ctx, containerID, req.AccessToken); err != nil {
			return failure(p.asPlatformError(err)), nil
		}
	}

	return p.publishContainer(ctx, req, containerID, map[string]string{"containers": "1"})
}

func (p *InstagramPublisher) publishCarousel(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	// Each carousel item is its own container; failed items are dropped and
	// the carousel proceeds with whatever finished.
	containerIDs := p.uploader.UploadBatch(ctx, req.MediaURLs, func(ctx context.Context, mediaURL string, _ int) (string, error) {
		id, isVideo, err := p.createContainer(ctx, req, mediaURL, true)
		if err != nil {
			return "", err
		}
		if isVideo {
			if err := p.waitForContainer(ctx, id, req.AccessToken); err != nil {
				return "", err
			}
		}
		return id, nil
	})

	if len(containerIDs) == 0 {
		return failure(&Error{
			Platform: p.Platform(),
			Category: CategoryInvalidMedia,
			Message:  "no carousel item could be prepared",
		}), nil
	}
	if len(containerIDs) < len(req.MediaURLs) {
		slog.Info("carousel proceeding with partial media",
			"requested", len(req.MediaURLs),
			"prepared", len(containerIDs))
	}

	payload := map[string]any{
		"media_type":   "CAROUSEL",
		"children":     strings.Join(containerIDs, ","),
		"caption":      req.Content,
		"access_token": req.AccessToken,
	}
	carouselID, err := p.postForContainerID(ctx, fmt.Sprintf("%s/%s/media", p.baseURL, req.ProviderAccountID), payload)
	if err != nil {
		return failure(p.asPlatformError(err)), nil
	}

	return p.publishContainer(ctx, req, carouselID, map[string]string{
		"containers": strconv.Itoa(len(containerIDs)),
		"carousel":   "true",
	})
}

// createContainer stages one media item. For carousel items the caption is
// carried by the wrapping container instead.
func (p *InstagramPublisher) createContainer(ctx context.Context, req PublishRequest, mediaURL string, carouselItem bool) (string, bool, error) {
	publicURL, err := p.assets.PublicURL(ctx, mediaURL, time.Hour)
	if err != nil {
		return "", false, err
	}

	isVideo := media.KindForURL(mediaURL) == media.KindVideo

	payload := map[string]any{
		"access_token": req.AccessToken,
	}
	if isVideo {
		payload["video_url"] = publicURL
		payload["media_type"] = "REELS"
	} else {
		payload["image_url"] = publicURL
	}
	if carouselItem {
		payload["is_carousel_item"] = true
	} else {
		payload["caption"] = req.Content
	}

	id, err := p.postForContainerID(ctx, fmt.Sprintf("%s/%s/media", p.baseURL, req.ProviderAccountID), payload)
	return id, isVideo, err
}

func (p *InstagramPublisher) postForContainerID(ctx context.Context, endpoint string, payload map[string]any) (string, error) {
	body, status, err := p.client.postJSON(ctx, endpoint, nil, payload)
	if err != nil {
		return "", transientError(p.Platform(), err.Error(), "")
	}
	if gerr, ok := parseGraphError(body); ok {
		return "", p.mapError(gerr.Code, gerr.Message, string(body), status)
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &result); err != nil || result.ID == "" {
		return "", transientError(p.Platform(), "no container id in response", string(body))
	}
	return result.ID, nil
}

// waitForContainer polls a video container until FINISHED. Publishing
// before processing completes is rejected by the platform.
func (p *InstagramPublisher) waitForContainer(ctx context.Context, containerID, accessToken string) error {
	endpoint := fmt.Sprintf("%s/%s?fields=status_code&access_token=%s", p.baseURL, containerID, url.QueryEscape(accessToken))

	for attempt := 0; attempt < p.maxPolls; attempt++ {
		if attempt > 0 {
			p.sleep(p.pollInterval)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		body, status, err := p.client.get(ctx, endpoint)
		if err != nil {
			return transientError(p.Platform(), err.Error(), "")
		}
		if gerr, ok := parseGraphError(body); ok {
			return p.mapError(gerr.Code, gerr.Message, string(body), status)
		}

		var result struct {
			StatusCode string `json:"status_code"`
		}
		if err := json.Unmarshal(body, &result); err != nil {
			return transientError(p.Platform(), "bad container status response", string(body))
		}

		switch result.StatusCode {
		case "FINISHED":
			return nil
		case "ERROR":
			return &Error{
				Platform: p.Platform(),
				Category: CategoryInvalidMedia,
				Message:  "video processing failed",
				Raw:      string(body),
			}
		}
	}

	return transientError(p.Platform(), fmt.Sprintf("container not ready after %d polls", p.maxPolls), "")
}

func (p *InstagramPublisher) publishContainer(ctx context.Context, req PublishRequest, containerID string, metadata map[string]string) (*PublishResult, error) {
	payload := map[string]any{
		"creation_id":  containerID,
		"access_token": req.AccessToken,
	}
	body, status, err := p.client.postJSON(ctx, fmt.Sprintf("%s/%s/media_publish", p.baseURL, req.ProviderAccountID), nil, payload)
	if err != nil {
		return failure(transientError(p.Platform(), err.Error(), "")), nil
	}
	if gerr, ok := parseGraphError(body); ok {
		return failure(p.mapError(gerr.Code, gerr.Message, string(body), status)), nil
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &result); err != nil || result.ID == "" {
		return failure(transientError(p.Platform(), "no media id in publish response", string(body))), nil
	}

	return &PublishResult{
		Success:          true,
		ExternalPostID:   result.ID,
		PlatformResponse: string(body),
		Metadata:         metadata,
	}, nil
}

func (p *InstagramPublisher) asPlatformError(err error) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	return transientError(p.Platform(), err.Error(), "")
}

func (p *InstagramPublisher) mapError(code int, message, raw string, status int) *Error {
	e := &Error{Platform: p.Platform(), Code: code, Message: message, Raw: raw}
	switch code {
	case 190:
		e.Category = CategoryExpiredToken
		e.Message = "access token expired, reconnect the account"
	case 100:
		e.Category = CategoryValidation
		e.Message = "invalid publish parameters"
	case 9007:
		e.Category = CategoryNotApproved
		e.Message = "account is not a business account"
	case 9004:
		e.Category = CategoryPolicy
		e.Message = "content rejected by platform policy"
	case 36000:
		e.Category = CategoryRateLimited
		e.Message = "daily publish limit reached"
	default:
		if status == 429 {
			e.Category = CategoryRateLimited
		} else if status >= 500 {
			e.Category = CategoryTransient
		} else {
			e.Category = CategoryValidation
		}
	}
	return e
}
