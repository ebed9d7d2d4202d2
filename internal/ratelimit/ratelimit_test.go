package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/user/docqa/internal/store"
)

func TestLimiter_MinInterval(t *testing.T) {
	l := New(store.NewMemory(), 3*time.Second, time.Hour)
	ctx := context.Background()
	t0 := time.Now()

	ok, err := l.Allow(ctx, "u1", "document", t0)
	if err != nil || !ok {
		t.Fatalf("first request should pass: ok=%v err=%v", ok, err)
	}
	ok, _ = l.Allow(ctx, "u1", "document", t0.Add(2*time.Second))
	if ok {
		t.Error("request inside the interval should be denied")
	}
	ok, _ = l.Allow(ctx, "u1", "document", t0.Add(4*time.Second))
	if !ok {
		t.Error("request after the interval should pass")
	}
}

func TestLimiter_DenyDoesNotSlideWindow(t *testing.T) {
	l := New(store.NewMemory(), 3*time.Second, time.Hour)
	ctx := context.Background()
	t0 := time.Now()

	_, _ = l.Allow(ctx, "u1", "retrieve", t0)
	_, _ = l.Allow(ctx, "u1", "retrieve", t0.Add(2*time.Second)) // denied
	// 3s after the first accepted request, not 3s after the denial
	ok, _ := l.Allow(ctx, "u1", "retrieve", t0.Add(3*time.Second))
	if !ok {
		t.Error("denial must not refresh the marker")
	}
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l := New(store.NewMemory(), 3*time.Second, time.Hour)
	ctx := context.Background()
	t0 := time.Now()

	_, _ = l.Allow(ctx, "u1", "document", t0)
	if ok, _ := l.Allow(ctx, "u1", "retrieve", t0); !ok {
		t.Error("different endpoint should not share the marker")
	}
	if ok, _ := l.Allow(ctx, "u2", "document", t0); !ok {
		t.Error("different user should not share the marker")
	}
}
