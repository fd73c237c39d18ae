package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStore_SetGetDelete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, found, _ := s.Get(ctx, "k"); found {
		t.Fatal("empty store should miss")
	}

	_ = s.Set(ctx, "k", []byte("v"), time.Minute)
	got, found, err := s.Get(ctx, "k")
	if err != nil || !found || string(got) != "v" {
		t.Fatalf("Get = %q, %v, %v", got, found, err)
	}

	_ = s.Delete(ctx, "k", "missing")
	if _, found, _ := s.Get(ctx, "k"); found {
		t.Error("deleted key should miss")
	}
}

func TestMemoryStore_ExpiresAfterTTL(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	_ = s.Set(ctx, "k", []byte("v"), 5*time.Minute)

	now = now.Add(4*time.Minute + 59*time.Second)
	if _, found, _ := s.Get(ctx, "k"); !found {
		t.Error("entry should still be valid before TTL")
	}

	now = now.Add(time.Second)
	if _, found, _ := s.Get(ctx, "k"); found {
		t.Error("entry should expire at TTL")
	}
}

func TestMemoryStore_ZeroTTLNeverExpires(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	_ = s.Set(ctx, "k", []byte("v"), 0)
	now = now.Add(24 * time.Hour)
	if _, found, _ := s.Get(ctx, "k"); !found {
		t.Error("zero TTL entry should not expire")
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	src := []byte("abc")
	_ = s.Set(ctx, "k", src, time.Minute)
	src[0] = 'x'

	got, _, _ := s.Get(ctx, "k")
	got[1] = 'y'

	again, _, _ := s.Get(ctx, "k")
	if string(again) != "abc" {
		t.Errorf("stored value mutated: %q", again)
	}
}
