package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLimiterSlidingWindow(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewMemoryLimiter()
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, remaining, _, err := limiter.Allow(ctx, "ip", time.Minute, 2)
		if err != nil || !allowed {
			t.Fatalf("expected request %d allowed, err=%v", i, err)
		}
		if remaining != 1-i {
			t.Fatalf("unexpected remaining %d", remaining)
		}
		now = now.Add(10 * time.Second)
	}
	allowed, _, reset, _ := limiter.Allow(ctx, "ip", time.Minute, 2)
	if allowed {
		t.Fatal("expected third request rejected")
	}
	if want := time.Date(2024, 5, 1, 12, 1, 0, 0, time.UTC); !reset.Equal(want) {
		t.Fatalf("unexpected reset %v", reset)
	}

	if allowed, _, _, _ := limiter.Allow(ctx, "other", time.Minute, 2); !allowed {
		t.Fatal("keys must be independent")
	}

	now = now.Add(time.Minute)
	if allowed, _, _, _ := limiter.Allow(ctx, "ip", time.Minute, 2); !allowed {
		t.Fatal("expected request after window allowed")
	}
}
