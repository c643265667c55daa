package game

import (
	"errors"
	"testing"
	"time"
)

func TestRateLimiterRejectsSixthInWindow(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < DefaultChatLimit; i++ {
		if err := rl.Allow(base.Add(time.Duration(i) * time.Second)); err != nil {
			t.Fatalf("action %d rejected: %v", i, err)
		}
	}
	err := rl.Allow(base.Add(5 * time.Second))
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("sixth action err = %v, want ErrRateLimited", err)
	}
	var rle *RateLimitError
	if !errors.As(err, &rle) || rle.RetryAfter != 5*time.Second {
		t.Fatalf("RetryAfter = %v, want 5s", rle)
	}
	if err := rl.Allow(base.Add(DefaultChatWindow + time.Millisecond)); err != nil {
		t.Fatalf("action after window rejected: %v", err)
	}
}

func TestRateLimiterDoesNotCountRejections(t *testing.T) {
	rl := NewRateLimiter(1, time.Second)
	base := time.Now()
	if err := rl.Allow(base); err != nil {
		t.Fatalf("first action: %v", err)
	}
	for i := 0; i < 10; i++ {
		_ = rl.Allow(base.Add(time.Duration(i) * 50 * time.Millisecond))
	}
	if err := rl.Allow(base.Add(time.Second + time.Millisecond)); err != nil {
		t.Fatalf("rejections extended the window: %v", err)
	}
}
