package media

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// UploadFunc uploads one media URL and returns the platform-side identifier.
type UploadFunc func(ctx context.Context, url string, index int) (string, error)

// Uploader runs batch media uploads with bounded concurrency.
type Uploader struct {
	Concurrency int
}

func NewUploader(concurrency int) *Uploader {
	if concurrency <= 0 {
		concurrency = 3
	}
	return &Uploader{Concurrency: concurrency}
}

// UploadBatch uploads every URL using up to Concurrency workers pulling from
// a shared cursor, so a slow item never starves the rest of a fixed
// partition. Failed items are logged and dropped; the returned ids are in
// no guaranteed order. Callers must cope with fewer ids than URLs.
func (u *Uploader) UploadBatch(ctx context.Context, urls []string, upload UploadFunc) []string {
	if len(urls) == 0 {
		return nil
	}

	workers := u.Concurrency
	if workers > len(urls) {
		workers = len(urls)
	}

	var (
		cursor atomic.Int64
		mu     sync.Mutex
		ids    []string
		wg     sync.WaitGroup
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(cursor.Add(1)) - 1
				if i >= len(urls) {
					return
				}
				if ctx.Err() != nil {
					return
				}

				id, err := upload(ctx, urls[i], i)
				if err != nil {
					slog.Info("media upload failed, dropping item",
						"url", urls[i],
						"index", i,
						"error", err.Error())
					continue
				}

				mu.Lock()
				ids = append(ids, id)
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	return ids
}

// UploadWithRetry retries fn with exponential backoff for transient upload
// failures. This is per-item retry, distinct from the batch drop-on-failure
// policy above.
func UploadWithRetry(ctx context.Context, fn func() error, maxRetries int, baseDelay time.Duration) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := baseDelay<<uint(attempt-1) + time.Duration(rand.Int63n(int64(baseDelay)))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err = fn(); err == nil {
			return nil
		}
	}
	return err
}
