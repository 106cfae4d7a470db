package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	config "github.com/cuongccna/autopost-vn-sub000/configs"
	"github.com/cuongccna/autopost-vn-sub000/internal/media"
	"github.com/cuongccna/autopost-vn-sub000/internal/models"
)

const defaultGraphBaseURL = "https://graph.facebook.com/v21.0"

// Facebook rejects native scheduling closer than ~10 minutes out.
const fbMinScheduleLead = 10 * time.Minute

// FacebookPublisher posts to a page feed. Media is staged as unpublished
// photos first, then attached to the feed call.
type FacebookPublisher struct {
	client   *apiClient
	uploader *media.Uploader
	assets   *media.AssetStore
	baseURL  string
}

func NewFacebookPublisher(cfg config.Config, uploader *media.Uploader, assets *media.AssetStore) *FacebookPublisher {
	return &FacebookPublisher{
		client:   newAPIClient(cfg.HTTPTimeout),
		uploader: uploader,
		assets:   assets,
		baseURL:  defaultGraphBaseURL,
	}
}

func (p *FacebookPublisher) Platform() string { return models.ProviderFacebook }

func (p *FacebookPublisher) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	metadata := map[string]string{}

	var mediaIDs []string
	if len(req.MediaURLs) > 0 {
		mediaIDs = p.uploader.UploadBatch(ctx, req.MediaURLs, func(ctx context.Context, mediaURL string, _ int) (string, error) {
			return p.uploadUnpublishedPhoto(ctx, req.ProviderAccountID, req.AccessToken, mediaURL)
		})
		if len(mediaIDs) == 0 {
			return failure(transientError(p.Platform(), "all media uploads failed", "")), nil
		}
		metadata["uploaded_media"] = strconv.Itoa(len(mediaIDs))
	}

	form := url.Values{}
	form.Set("message", req.Content)
	form.Set("access_token", req.AccessToken)

	switch len(mediaIDs) {
	case 0:
	case 1:
		form.Set("object_attachment", mediaIDs[0])
	default:
		for i, id := range mediaIDs {
			attached, err := json.Marshal(map[string]string{"media_fbid": id})
			if err != nil {
				return nil, err
			}
			form.Set(fmt.Sprintf("attached_media[%d]", i), string(attached))
		}
	}

	if req.ScheduledAt != nil {
		if time.Until(*req.ScheduledAt) > fbMinScheduleLead {
			form.Set("published", "false")
			form.Set("scheduled_publish_time", strconv.FormatInt(req.ScheduledAt.Unix(), 10))
			metadata["native_schedule"] = "true"
		} else {
			// The platform rejects closer times, so publish immediately.
			slog.Info("scheduled time too close for facebook native scheduling, publishing now",
				"page_id", req.ProviderAccountID,
				"scheduled_at", req.ScheduledAt.Format(time.RFC3339))
			metadata["schedule_degraded"] = "true"
		}
	}

	body, status, err := p.client.postForm(ctx, fmt.Sprintf("%s/%s/feed", p.baseURL, req.ProviderAccountID), form)
	if err != nil {
		return failure(transientError(p.Platform(), err.Error(), "")), nil
	}

	if gerr, ok := parseGraphError(body); ok {
		return failure(p.mapError(gerr.Code, gerr.Message, string(body), status)), nil
	}
	if status != 200 {
		return failure(p.mapError(0, fmt.Sprintf("unexpected status %d", status), string(body), status)), nil
	}

	var result struct {
		ID     string `json:"id"`
		PostID string `json:"post_id"`
	}
	if err := json.Unmarshal(body, &result); err != nil || (result.ID == "" && result.PostID == "") {
		return failure(transientError(p.Platform(), "no post id in response", string(body))), nil
	}

	externalID := result.PostID
	if externalID == "" {
		externalID = result.ID
	}

	return &PublishResult{
		Success:          true,
		ExternalPostID:   externalID,
		PlatformResponse: string(body),
		Metadata:         metadata,
	}, nil
}

// uploadUnpublishedPhoto stages one photo without publishing it and returns
// the media id to attach to the feed call.
func (p *FacebookPublisher) uploadUnpublishedPhoto(ctx context.Context, pageID, accessToken, mediaURL string) (string, error) {
	publicURL, err := p.assets.PublicURL(ctx, mediaURL, time.Hour)
	if err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("url", publicURL)
	form.Set("published", "false")
	form.Set("access_token", accessToken)

	body, status, err := p.client.postForm(ctx, fmt.Sprintf("%s/%s/photos", p.baseURL, pageID), form)
	if err != nil {
		return "", err
	}
	if gerr, ok := parseGraphError(body); ok {
		return "", p.mapError(gerr.Code, gerr.Message, string(body), status)
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &result); err != nil || result.ID == "" {
		return "", fmt.Errorf("no media id in photo upload response")
	}
	return result.ID, nil
}

func (p *FacebookPublisher) mapError(code int, message, raw string, status int) *Error {
	e := &Error{Platform: p.Platform(), Code: code, Message: message, Raw: raw}
	switch code {
	case 190:
		e.Category = CategoryExpiredToken
		e.Message = "access token expired, reconnect the page"
	case 200:
		e.Category = CategoryPermission
		e.Message = "missing page publish permission"
	case 368:
		e.Category = CategoryRestricted
		e.Message = "page is temporarily restricted"
	case 506:
		e.Category = CategoryPolicy
		e.Message = "content rejected by platform policy"
	case 4, 17, 32:
		e.Category = CategoryRateLimited
	case 1500:
		e.Category = CategoryTransient
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

type graphError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

func parseGraphError(body []byte) (*graphError, bool) {
	var wrapper struct {
		Error *graphError `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil || wrapper.Error == nil {
		return nil, false
	}
	return wrapper.Error, true
}
