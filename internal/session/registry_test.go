package session

import (
	"context"
	"testing"
	"time"

	"github.com/user/docqa/internal/store"
)

func newTestRegistry() (*Registry, *Cache) {
	cache := NewCache()
	reg := NewRegistry(store.NewMemory(), cache, 30*time.Minute, 30*time.Hour)
	return reg, cache
}

func TestRegistry_AbsentByDefault(t *testing.T) {
	reg, _ := newTestRegistry()
	state, err := reg.Status(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if state.Status != StatusAbsent {
		t.Errorf("expected absent, got %s", state.Status)
	}
}

func TestRegistry_StatusTransitions(t *testing.T) {
	reg, _ := newTestRegistry()
	ctx := context.Background()
	uid := "u1"

	if err := reg.SetProcessing(ctx, uid); err != nil {
		t.Fatalf("SetProcessing failed: %v", err)
	}
	state, _ := reg.Status(ctx, uid)
	if state.Status != StatusProcessing {
		t.Fatalf("expected processing, got %s", state.Status)
	}

	if err := reg.SetReady(ctx, uid, []byte(`{"version":1}`)); err != nil {
		t.Fatalf("SetReady failed: %v", err)
	}
	state, _ = reg.Status(ctx, uid)
	if state.Status != StatusReady {
		t.Fatalf("expected ready, got %s", state.Status)
	}
	data, ok, _ := reg.Artifact(ctx, uid)
	if !ok || string(data) != `{"version":1}` {
		t.Errorf("artifact not stored: ok=%v data=%s", ok, data)
	}

	// re-upload supersedes
	if err := reg.SetProcessing(ctx, uid); err != nil {
		t.Fatalf("supersede failed: %v", err)
	}
	state, _ = reg.Status(ctx, uid)
	if state.Status != StatusProcessing {
		t.Errorf("expected processing after re-upload, got %s", state.Status)
	}
	if _, ok, _ := reg.Artifact(ctx, uid); ok {
		t.Error("artifact should be gone after supersede")
	}
}

func TestRegistry_SetError(t *testing.T) {
	reg, _ := newTestRegistry()
	ctx := context.Background()
	_ = reg.SetProcessing(ctx, "u1")
	if err := reg.SetError(ctx, "u1", "document exceeds processing capacity"); err != nil {
		t.Fatalf("SetError failed: %v", err)
	}
	state, _ := reg.Status(ctx, "u1")
	if state.Status != StatusError {
		t.Fatalf("expected error status, got %s", state.Status)
	}
	if state.Detail != "document exceeds processing capacity" {
		t.Errorf("unexpected detail: %s", state.Detail)
	}
}

func TestRegistry_SetReadyIdempotent(t *testing.T) {
	reg, _ := newTestRegistry()
	ctx := context.Background()
	artifact := []byte(`{"version":1,"chunks":[]}`)
	_ = reg.SetProcessing(ctx, "u1")
	if err := reg.SetReady(ctx, "u1", artifact); err != nil {
		t.Fatal(err)
	}
	if err := reg.SetReady(ctx, "u1", artifact); err != nil {
		t.Fatal(err)
	}
	state, _ := reg.Status(ctx, "u1")
	if state.Status != StatusReady {
		t.Errorf("expected ready after repeated SetReady, got %s", state.Status)
	}
	data, _, _ := reg.Artifact(ctx, "u1")
	if string(data) != string(artifact) {
		t.Error("artifact changed across idempotent writes")
	}
}

func TestRegistry_CacheInvalidation(t *testing.T) {
	reg, cache := newTestRegistry()
	ctx := context.Background()

	_ = reg.SetProcessing(ctx, "u1")
	_ = reg.SetReady(ctx, "u1", []byte(`{}`))
	cache.Put("u1", nil)

	// superseding upload must drop the cached artifact
	_ = reg.SetProcessing(ctx, "u1")
	if _, ok := cache.Get("u1"); ok {
		t.Error("cache should miss after superseding SetProcessing")
	}

	cache.Put("u1", nil)
	_ = reg.SetError(ctx, "u1", "boom")
	if _, ok := cache.Get("u1"); ok {
		t.Error("cache should miss after SetError")
	}

	cache.Put("u1", nil)
	_ = reg.Delete(ctx, "u1")
	if _, ok := cache.Get("u1"); ok {
		t.Error("cache should miss after Delete")
	}
	state, _ := reg.Status(ctx, "u1")
	if state.Status != StatusAbsent {
		t.Errorf("expected absent after Delete, got %s", state.Status)
	}
}

func TestRegistry_SetReadyDropsStaleCacheEntry(t *testing.T) {
	reg, cache := newTestRegistry()
	ctx := context.Background()

	_ = reg.SetProcessing(ctx, "u1")
	_ = reg.SetReady(ctx, "u1", []byte(`{"version":1}`))

	// superseding upload invalidates, but a query that read the old blob just
	// before can still re-cache the stale artifact afterwards
	_ = reg.SetProcessing(ctx, "u1")
	cache.Put("u1", nil)

	_ = reg.SetReady(ctx, "u1", []byte(`{"version":1,"chunks":[]}`))
	if _, ok := cache.Get("u1"); ok {
		t.Error("cache must miss after SetReady so the fresh artifact gets loaded")
	}
}

func TestRegistry_LastActivity(t *testing.T) {
	reg, _ := newTestRegistry()
	ctx := context.Background()
	_ = reg.SetProcessing(ctx, "u1")
	_ = reg.SetProcessing(ctx, "u2")

	activity, err := reg.LastActivity(ctx)
	if err != nil {
		t.Fatalf("LastActivity failed: %v", err)
	}
	if len(activity) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(activity))
	}
	for uid, last := range activity {
		if time.Since(last) > time.Minute {
			t.Errorf("activity for %s too old: %v", uid, last)
		}
	}
}
