package session

import (
	"context"
	"log"
	"testing"
	"time"
)

func TestSweeper_EvictsIdleSessions(t *testing.T) {
	reg, cache := newTestRegistry()
	ctx := context.Background()

	// u1 is idle since long ago, u2 is fresh
	past := time.Now().Add(-48 * time.Hour)
	reg.now = func() time.Time { return past }
	_ = reg.SetProcessing(ctx, "u1")
	_ = reg.SetReady(ctx, "u1", []byte(`{}`))
	reg.now = time.Now
	_ = reg.SetProcessing(ctx, "u2")

	cache.Put("u1", nil)

	sw := NewSweeper(reg, cache, 30*time.Minute, 30*time.Hour, "")
	if err := sw.Sweep(ctx); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	state, _ := reg.Status(ctx, "u1")
	if state.Status != StatusAbsent {
		t.Errorf("idle session should be evicted, got %s", state.Status)
	}
	if _, ok := cache.Get("u1"); ok {
		t.Error("cache entry of evicted session should be gone")
	}
	state, _ = reg.Status(ctx, "u2")
	if state.Status != StatusProcessing {
		t.Errorf("fresh session should survive, got %s", state.Status)
	}
}

func TestSweeper_DropsOrphanedCacheEntries(t *testing.T) {
	reg, cache := newTestRegistry()
	// cached artifact whose session never existed (e.g. expired by store TTL)
	cache.Put("gone", nil)

	sw := NewSweeper(reg, cache, 30*time.Minute, 30*time.Hour, "")
	if err := sw.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if _, ok := cache.Get("gone"); ok {
		t.Error("orphaned cache entry should be dropped")
	}
}

func TestSweeper_IsDue(t *testing.T) {
	sw := &Sweeper{CronSpec: "@hourly", Interval: time.Minute, now: time.Now,
		logger: log.New(log.Writer(), "[SWEEP] ", log.LstdFlags)}
	if !sw.isDue() {
		t.Error("first run should always be due")
	}
	sw.lastRun = time.Now().Add(-30 * time.Minute)
	if sw.isDue() {
		t.Error("@hourly should not be due after 30 minutes")
	}
	sw.lastRun = time.Now().Add(-2 * time.Hour)
	if !sw.isDue() {
		t.Error("@hourly should be due after 2 hours")
	}

	sw.CronSpec = "*/5 * * * *"
	sw.lastRun = time.Now().Add(-10 * time.Minute)
	if !sw.isDue() {
		t.Error("5-minute cron should be due after 10 minutes")
	}
}

func TestCache_GetPutInvalidate(t *testing.T) {
	cache := NewCache()
	if _, ok := cache.Get("u1"); ok {
		t.Error("empty cache should miss")
	}
	cache.Put("u1", nil)
	if _, ok := cache.Get("u1"); !ok {
		t.Error("cache should hit after Put")
	}
	cache.Invalidate("u1")
	if _, ok := cache.Get("u1"); ok {
		t.Error("cache should miss after Invalidate")
	}
	if cache.Len() != 0 {
		t.Errorf("expected empty cache, got %d entries", cache.Len())
	}
}
