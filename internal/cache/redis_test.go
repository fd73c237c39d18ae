package cache

import (
	"context"
	"os"
	"testing"
	"time"
)

// newTestRedisStore はTEST_REDIS_ADDRのRedisに接続する。接続できない場合はスキップする。
func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client, err := NewRedisClient(ctx, RedisOptions{Addr: addr, DB: 15})
	if err != nil {
		t.Skipf("テスト用Redisに接続できません（スキップ）: %v", err)
	}
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	return NewRedisStore(client)
}

func TestRedisStore_SetGetDelete(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	if _, found, err := s.Get(ctx, KeyLots); err != nil || found {
		t.Fatalf("expected miss, got found=%v err=%v", found, err)
	}

	if err := s.Set(ctx, KeyLots, []byte(`[1,2]`), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, found, err := s.Get(ctx, KeyLots)
	if err != nil || !found || string(got) != `[1,2]` {
		t.Fatalf("Get = %q, %v, %v", got, found, err)
	}

	if err := s.Delete(ctx, KeyLots, KeyDashboard); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, found, _ := s.Get(ctx, KeyLots); found {
		t.Error("deleted key should miss")
	}
}

func TestRedisStore_DeleteNoKeys(t *testing.T) {
	s := NewRedisStore(nil)
	if err := s.Delete(context.Background()); err != nil {
		t.Errorf("Delete with no keys should be a no-op, got %v", err)
	}
}
