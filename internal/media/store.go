package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	config "github.com/cuongccna/autopost-vn-sub000/configs"
)

// AssetStore resolves post media URLs to bytes or public URLs. Workspace
// assets live in Cloudflare R2 and are addressed as r2://key; anything else
// is fetched over plain HTTP. Platforms that ingest by URL get a presigned
// link for R2 keys.
type AssetStore struct {
	cfg  config.Config
	http *http.Client
}

func NewAssetStore(cfg config.Config) *AssetStore {
	timeout := cfg.MediaTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &AssetStore{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
	}
}

const r2Scheme = "r2://"

func (s *AssetStore) client(ctx context.Context) (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(s.cfg.R2.AccessKey, s.cfg.R2.SecretKey, "")),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", s.cfg.R2.AccountID))
	}), nil
}

// Fetch returns the raw bytes behind a media URL, for platforms that need a
// binary upload (Zalo attachments).
func (s *AssetStore) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if key, ok := strings.CutPrefix(rawURL, r2Scheme); ok {
		return s.fetchR2(ctx, key)
	}
	return s.fetchHTTP(ctx, rawURL)
}

func (s *AssetStore) fetchR2(ctx context.Context, key string) ([]byte, error) {
	client, err := s.client(ctx)
	if err != nil {
		return nil, err
	}

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.R2.BucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("fetch r2 object %s: %w", key, err)
	}
	defer out.Body.Close()

	return io.ReadAll(out.Body)
}

func (s *AssetStore) fetchHTTP(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch media %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch media %s: unexpected status %d", rawURL, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// PublicURL turns an R2 key into a time-limited presigned URL. Absolute
// URLs pass through untouched.
func (s *AssetStore) PublicURL(ctx context.Context, rawURL string, ttl time.Duration) (string, error) {
	key, ok := strings.CutPrefix(rawURL, r2Scheme)
	if !ok {
		return rawURL, nil
	}

	client, err := s.client(ctx)
	if err != nil {
		return "", err
	}

	presigner := s3.NewPresignClient(client)
	out, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.R2.BucketName),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		slog.Info(err.Error())
		return "", fmt.Errorf("presign r2 object %s: %w", key, err)
	}
	return out.URL, nil
}
