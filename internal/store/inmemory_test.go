package store

import (
	"context"
	"testing"
	"time"
)

func TestMemory_SetGet(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if err := m.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	val, ok, err := m.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get failed: ok=%v err=%v", ok, err)
	}
	if val != "v" {
		t.Errorf("unexpected value: %s", val)
	}
}

func TestMemory_Expiry(t *testing.T) {
	now := time.Now()
	m := NewMemoryWithClock(func() time.Time { return now })
	ctx := context.Background()
	_ = m.Set(ctx, "k", "v", time.Second)

	if _, ok, _ := m.Get(ctx, "k"); !ok {
		t.Fatal("key should exist before expiry")
	}
	now = now.Add(2 * time.Second)
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Error("key should be gone after expiry")
	}
}

func TestMemory_SetNX(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	ok, err := m.SetNX(ctx, "k", "a", 0)
	if err != nil || !ok {
		t.Fatalf("first SetNX should win: ok=%v err=%v", ok, err)
	}
	ok, _ = m.SetNX(ctx, "k", "b", 0)
	if ok {
		t.Error("second SetNX should lose")
	}
	val, _, _ := m.Get(ctx, "k")
	if val != "a" {
		t.Errorf("value should be unchanged, got %s", val)
	}
}

func TestMemory_SetNXAfterExpiry(t *testing.T) {
	now := time.Now()
	m := NewMemoryWithClock(func() time.Time { return now })
	ctx := context.Background()
	_, _ = m.SetNX(ctx, "k", "a", time.Second)
	now = now.Add(5 * time.Second)
	ok, _ := m.SetNX(ctx, "k", "b", time.Second)
	if !ok {
		t.Error("SetNX should succeed once the old key expired")
	}
}

func TestMemory_Keys(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_ = m.Set(ctx, "user:u1:status", "ready", 0)
	_ = m.Set(ctx, "user:u2:status", "processing", 0)
	_ = m.Set(ctx, "task:abc", "{}", 0)

	keys, err := m.Keys(ctx, "user:*:status")
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("expected 2 keys, got %d: %v", len(keys), keys)
	}
}

func TestMemory_Expire(t *testing.T) {
	now := time.Now()
	m := NewMemoryWithClock(func() time.Time { return now })
	ctx := context.Background()
	_ = m.Set(ctx, "k", "v", time.Second)
	_ = m.Expire(ctx, "k", time.Hour)
	now = now.Add(2 * time.Second)
	if _, ok, _ := m.Get(ctx, "k"); !ok {
		t.Error("Expire should have extended the TTL")
	}
}
