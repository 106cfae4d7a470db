package publisher

import (
	"context"
	"fmt"
	"time"

	config "github.com/cuongccna/autopost-vn-sub000/configs"
	"github.com/cuongccna/autopost-vn-sub000/internal/media"
	"github.com/cuongccna/autopost-vn-sub000/internal/models"
)

// PublishRequest carries everything one platform call needs. The access
// token arrives already decrypted.
type PublishRequest struct {
	Content           string
	MediaURLs         []string
	ScheduledAt       *time.Time
	AccessToken       string
	ProviderAccountID string
}

// PublishResult is the structured outcome of one publish attempt. Platform
// failures land in Err, never in a returned error: only programming or
// configuration mistakes cross the publish boundary as errors.
type PublishResult struct {
	Success          bool
	ExternalPostID   string
	Err              *Error
	PlatformResponse string
	Metadata         map[string]string
}

func failure(err *Error) *PublishResult {
	return &PublishResult{Err: err, PlatformResponse: err.Raw}
}

// Publisher encapsulates one platform's publish protocol.
type Publisher interface {
	Platform() string
	Publish(ctx context.Context, req PublishRequest) (*PublishResult, error)
}

// Registry holds the closed set of platform adapters. Unknown providers are
// rejected here, at wiring time, not at call time.
type Registry struct {
	publishers map[string]Publisher
}

func NewRegistry(cfg config.Config, uploader *media.Uploader, assets *media.AssetStore) *Registry {
	return &Registry{
		publishers: map[string]Publisher{
			models.ProviderFacebook:  NewFacebookPublisher(cfg, uploader, assets),
			models.ProviderInstagram: NewInstagramPublisher(cfg, uploader, assets),
			models.ProviderZalo:      NewZaloPublisher(cfg, assets),
		},
	}
}

// For selects the adapter for a provider tag. An unrecognized provider is a
// configuration error, not a retry case.
func (r *Registry) For(provider string) (Publisher, error) {
	p, ok := r.publishers[provider]
	if !ok {
		return nil, fmt.Errorf("unsupported provider %q", provider)
	}
	return p, nil
}
