package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"
	"time"

	config "github.com/cuongccna/autopost-vn-sub000/configs"
	"github.com/cuongccna/autopost-vn-sub000/internal/media"
	"github.com/cuongccna/autopost-vn-sub000/internal/models"
)

const defaultZaloBaseURL = "https://openapi.zalo.me/v2.0"

// Zalo list templates carry at most 4 elements.
const zaloMaxListItems = 4

// ZaloPublisher sends OA broadcast messages: plain text, a single uploaded
// attachment, or a list template of up to 4 images. The platform has no
// native scheduling.
type ZaloPublisher struct {
	client  *apiClient
	assets  *media.AssetStore
	baseURL string
}

func NewZaloPublisher(cfg config.Config, assets *media.AssetStore) *ZaloPublisher {
	return &ZaloPublisher{
		client:  newAPIClient(cfg.HTTPTimeout),
		assets:  assets,
		baseURL: defaultZaloBaseURL,
	}
}

func (p *ZaloPublisher) Platform() string { return models.ProviderZalo }

func (p *ZaloPublisher) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	metadata := map[string]string{}

	if req.ScheduledAt != nil {
		slog.Info("zalo has no native scheduling, publishing immediately",
			"oa_id", req.ProviderAccountID,
			"scheduled_at", req.ScheduledAt.Format(time.RFC3339))
		metadata["schedule_unsupported"] = "true"
	}

	message, uploadMeta, perr := p.buildMessage(ctx, req)
	if perr != nil {
		return failure(perr), nil
	}
	for k, v := range uploadMeta {
		metadata[k] = v
	}

	payload := map[string]any{
		"recipient": map[string]any{"target": map[string]any{}},
		"message":   message,
	}

	body, status, err := p.client.postJSON(ctx, p.baseURL+"/oa/message",
		map[string]string{"access_token": req.AccessToken}, payload)
	if err != nil {
		return failure(transientError(p.Platform(), err.Error(), "")), nil
	}

	var result struct {
		Error   int    `json:"error"`
		Message string `json:"message"`
		Data    struct {
			MessageID string `json:"message_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return failure(transientError(p.Platform(), "unreadable response", string(body))), nil
	}
	if result.Error != 0 {
		return failure(p.mapError(result.Error, result.Message, string(body), status)), nil
	}

	return &PublishResult{
		Success:          true,
		ExternalPostID:   result.Data.MessageID,
		PlatformResponse: string(body),
		Metadata:         metadata,
	}, nil
}

// buildMessage picks one of the three supported shapes from the input.
func (p *ZaloPublisher) buildMessage(ctx context.Context, req PublishRequest) (map[string]any, map[string]string, *Error) {
	if len(req.MediaURLs) == 0 {
		if req.Content == "" {
			return nil, nil, &Error{
				Platform: p.Platform(),
				Category: CategoryValidation,
				Message:  "message needs text or media",
			}
		}
		return map[string]any{"text": req.Content}, map[string]string{"shape": "text"}, nil
	}

	if len(req.MediaURLs) == 1 {
		return p.buildSingleAttachment(ctx, req)
	}
	return p.buildListTemplate(ctx, req)
}

func (p *ZaloPublisher) buildSingleAttachment(ctx context.Context, req PublishRequest) (map[string]any, map[string]string, *Error) {
	mediaURL := req.MediaURLs[0]
	data, err := p.assets.Fetch(ctx, mediaURL)
	if err != nil {
		return p.fallbackToText(req, fmt.Sprintf("attachment fetch failed: %v", err))
	}

	kind := media.DetectKind(data, mediaURL)
	if kind == media.KindVideo {
		// The OA message API only takes images and generic files.
		kind = media.KindFile
	}

	attachmentID, err := p.uploadAttachment(ctx, req.AccessToken, mediaURL, data, kind)
	if err != nil {
		return p.fallbackToText(req, fmt.Sprintf("attachment upload failed: %v", err))
	}

	var attachment map[string]any
	if kind == media.KindImage {
		attachment = map[string]any{
			"type": "template",
			"payload": map[string]any{
				"template_type": "media",
				"elements": []map[string]any{
					{"media_type": "image", "attachment_id": attachmentID},
				},
			},
		}
	} else {
		attachment = map[string]any{
			"type":    "file",
			"payload": map[string]any{"token": attachmentID},
		}
	}

	message := map[string]any{"attachment": attachment}
	if req.Content != "" {
		message["text"] = req.Content
	}
	return message, map[string]string{"shape": "attachment", "attachment_kind": string(kind)}, nil
}

func (p *ZaloPublisher) buildListTemplate(ctx context.Context, req PublishRequest) (map[string]any, map[string]string, *Error) {
	urls := req.MediaURLs
	if len(urls) > zaloMaxListItems {
		slog.Info("truncating zalo list template", "requested", len(urls), "kept", zaloMaxListItems)
		urls = urls[:zaloMaxListItems]
	}

	var elements []map[string]any
	for i, mediaURL := range urls {
		data, err := p.assets.Fetch(ctx, mediaURL)
		if err != nil {
			slog.Info("dropping list item, fetch failed", "url", mediaURL, "error", err.Error())
			continue
		}
		attachmentID, err := p.uploadAttachment(ctx, req.AccessToken, mediaURL, data, media.KindImage)
		if err != nil {
			slog.Info("dropping list item, upload failed", "url", mediaURL, "error", err.Error())
			continue
		}

		title := req.Content
		if i > 0 || title == "" {
			title = path.Base(mediaURL)
		}
		elements = append(elements, map[string]any{
			"title":         title,
			"attachment_id": attachmentID,
		})
	}

	if len(elements) == 0 {
		return p.fallbackToText(req, "no list item could be uploaded")
	}

	message := map[string]any{
		"attachment": map[string]any{
			"type": "template",
			"payload": map[string]any{
				"template_type": "list",
				"elements":      elements,
			},
		},
	}
	return message, map[string]string{
		"shape":          "list",
		"uploaded_media": strconv.Itoa(len(elements)),
	}, nil
}

// fallbackToText degrades a media message to plain text when every upload
// failed; with no text either, the attempt is a transient failure.
func (p *ZaloPublisher) fallbackToText(req PublishRequest, reason string) (map[string]any, map[string]string, *Error) {
	if req.Content == "" {
		return nil, nil, transientError(p.Platform(), reason, "")
	}
	slog.Info("zalo media unavailable, sending text only", "reason", reason)
	return map[string]any{"text": req.Content}, map[string]string{"shape": "text", "media_dropped": "true"}, nil
}

func (p *ZaloPublisher) uploadAttachment(ctx context.Context, accessToken, mediaURL string, data []byte, kind media.Kind) (string, error) {
	endpoint := p.baseURL + "/oa/upload/file"
	if kind == media.KindImage {
		endpoint = p.baseURL + "/oa/upload/image"
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", path.Base(mediaURL))
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	body, status, err := p.client.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf.Bytes()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())
		req.Header.Set("access_token", accessToken)
		return req, nil
	})
	if err != nil {
		return "", err
	}

	var result struct {
		Error   int    `json:"error"`
		Message string `json:"message"`
		Data    struct {
			AttachmentID string `json:"attachment_id"`
			Token        string `json:"token"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("unreadable upload response")
	}
	if result.Error != 0 {
		return "", p.mapError(result.Error, result.Message, string(body), status)
	}
	if result.Data.AttachmentID != "" {
		return result.Data.AttachmentID, nil
	}
	return result.Data.Token, nil
}

func (p *ZaloPublisher) mapError(code int, message, raw string, status int) *Error {
	e := &Error{Platform: p.Platform(), Code: code, Message: message, Raw: raw}
	switch code {
	case -124:
		e.Category = CategoryExpiredToken
		e.Message = "access token expired, reconnect the official account"
	case -201:
		e.Category = CategoryNotApproved
		e.Message = "official account is not approved"
	case -213:
		e.Category = CategoryPermission
		e.Message = "recipient has not allowed messages from this account"
	case -214:
		e.Category = CategoryPolicy
		e.Message = "content rejected by platform policy"
	case -216:
		e.Category = CategoryRateLimited
		e.Message = "daily message quota reached"
	case -232:
		e.Category = CategoryInvalidMedia
		e.Message = "attachment rejected"
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
