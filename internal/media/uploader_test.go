package media

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadBatchPartialFailure(t *testing.T) {
	urls := []string{"a.jpg", "b.jpg", "c.jpg", "d.jpg", "e.jpg"}

	u := NewUploader(2)
	ids := u.UploadBatch(context.Background(), urls, func(_ context.Context, url string, index int) (string, error) {
		if index == 2 {
			return "", errors.New("upload rejected")
		}
		return fmt.Sprintf("media-%d", index), nil
	})

	sort.Strings(ids)
	assert.Equal(t, []string{"media-0", "media-1", "media-3", "media-4"}, ids)
}

func TestUploadBatchEmpty(t *testing.T) {
	u := NewUploader(3)
	ids := u.UploadBatch(context.Background(), nil, func(context.Context, string, int) (string, error) {
		t.Fatal("upload must not be called")
		return "", nil
	})
	assert.Nil(t, ids)
}

func TestUploadBatchVisitsEveryIndexOnce(t *testing.T) {
	urls := make([]string, 20)
	for i := range urls {
		urls[i] = fmt.Sprintf("item-%d.jpg", i)
	}

	var seen [20]atomic.Int32
	u := NewUploader(4)
	ids := u.UploadBatch(context.Background(), urls, func(_ context.Context, url string, index int) (string, error) {
		seen[index].Add(1)
		return url, nil
	})

	assert.Len(t, ids, 20)
	for i := range seen {
		assert.Equal(t, int32(1), seen[i].Load(), "index %d", i)
	}
}

func TestUploadBatchSharedCursorKeepsWorkersBusy(t *testing.T) {
	// One slow item must not block the other worker from draining the rest.
	urls := []string{"slow.jpg", "x1.jpg", "x2.jpg", "x3.jpg", "x4.jpg", "x5.jpg"}
	release := make(chan struct{})
	var fastDone atomic.Int32

	u := NewUploader(2)
	done := make(chan []string, 1)
	go func() {
		done <- u.UploadBatch(context.Background(), urls, func(_ context.Context, url string, index int) (string, error) {
			if index == 0 {
				<-release
				return url, nil
			}
			fastDone.Add(1)
			return url, nil
		})
	}()

	require.Eventually(t, func() bool { return fastDone.Load() == 5 }, time.Second, 5*time.Millisecond,
		"fast items should finish while the slow one is in flight")
	close(release)

	ids := <-done
	assert.Len(t, ids, 6)
}

func TestUploadWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := UploadWithRetry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	}, 2, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestUploadWithRetryExhausts(t *testing.T) {
	boom := errors.New("timeout")
	calls := 0
	err := UploadWithRetry(context.Background(), func() error {
		calls++
		return boom
	}, 2, time.Millisecond)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestKindForURL(t *testing.T) {
	assert.Equal(t, KindImage, KindForURL("https://cdn.example.com/a.JPG?sig=abc"))
	assert.Equal(t, KindVideo, KindForURL("r2://posts/42/clip.mp4"))
	assert.Equal(t, KindFile, KindForURL("https://cdn.example.com/doc.pdf"))
}
