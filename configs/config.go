package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

type R2 struct {
	AccountID  string
	AccessKey  string
	SecretKey  string
	BucketName string
}

type PlatformLimit struct {
	MaxRequests int
	Window      time.Duration
}

type Config struct {
	ListenAddr    string `validate:"required"`
	PostgresURI   string `validate:"required"`
	RedisURI      string `validate:"required"`
	ServiceSecret string `validate:"required"`

	// EncryptionKey protects stored platform tokens. Must be exactly
	// 32 bytes: either 64 hex characters or 32 raw characters.
	EncryptionKey string `validate:"required"`

	FacebookAppID     string
	FacebookAppSecret string
	ZaloAppID         string
	ZaloSecretKey     string

	R2 R2

	RateLimits map[string]PlatformLimit

	MaxAttempts      int
	BaseRetryDelay   time.Duration
	MediaConcurrency int
	HTTPTimeout      time.Duration
	MediaTimeout     time.Duration
}

func LoadConfig() *Config {
	return &Config{
		ListenAddr:    getEnv("LISTEN_ADDR", ":3000"),
		PostgresURI:   getEnv("POSTGRES_URI", ""),
		RedisURI:      getEnv("REDIS_URI", ""),
		ServiceSecret: getEnv("SERVICE_SECRET", ""),
		EncryptionKey: getEnv("ENCRYPTION_KEY", ""),

		FacebookAppID:     getEnv("FACEBOOK_APP_ID", ""),
		FacebookAppSecret: getEnv("FACEBOOK_APP_SECRET", ""),
		ZaloAppID:         getEnv("ZALO_APP_ID", ""),
		ZaloSecretKey:     getEnv("ZALO_SECRET_KEY", ""),

		R2: R2{
			AccountID:  getEnv("R2_ACCOUNT_ID", ""),
			AccessKey:  getEnv("R2_ACCESS_KEY", ""),
			SecretKey:  getEnv("R2_SECRET_KEY", ""),
			BucketName: getEnv("R2_BUCKET_NAME", ""),
		},

		RateLimits: map[string]PlatformLimit{
			"facebook":  {MaxRequests: getEnvInt("FACEBOOK_RATE_LIMIT", 200), Window: time.Hour},
			"instagram": {MaxRequests: getEnvInt("INSTAGRAM_RATE_LIMIT", 200), Window: time.Hour},
			"zalo":      {MaxRequests: getEnvInt("ZALO_RATE_LIMIT", 100), Window: time.Hour},
		},

		MaxAttempts:      getEnvInt("PUBLISH_MAX_ATTEMPTS", 3),
		BaseRetryDelay:   time.Duration(getEnvInt("PUBLISH_BASE_RETRY_MS", 1000)) * time.Millisecond,
		MediaConcurrency: getEnvInt("MEDIA_CONCURRENCY", 3),
		HTTPTimeout:      time.Duration(getEnvInt("HTTP_TIMEOUT_SECONDS", 15)) * time.Second,
		MediaTimeout:     time.Duration(getEnvInt("MEDIA_TIMEOUT_SECONDS", 20)) * time.Second,
	}
}

// Validate fails fast on a config the engine cannot safely start with.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if _, err := c.EncryptionKeyBytes(); err != nil {
		return err
	}
	for platform, limit := range c.RateLimits {
		if limit.MaxRequests <= 0 || limit.Window <= 0 {
			return fmt.Errorf("invalid rate limit for %s", platform)
		}
	}
	return nil
}

// EncryptionKeyBytes decodes the configured key to its 32 raw bytes.
func (c *Config) EncryptionKeyBytes() ([]byte, error) {
	switch len(c.EncryptionKey) {
	case 64:
		key, err := hex.DecodeString(c.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("encryption key is 64 chars but not valid hex: %w", err)
		}
		return key, nil
	case 32:
		return []byte(c.EncryptionKey), nil
	default:
		return nil, fmt.Errorf("encryption key must be 64 hex chars or 32 raw chars, got %d", len(c.EncryptionKey))
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
