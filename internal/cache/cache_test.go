package cache

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"testing"
	"time"
)

// mockStore はテスト用のStore実装。
type mockStore struct {
	getFn    func(ctx context.Context, key string) ([]byte, bool, error)
	setFn    func(ctx context.Context, key string, value []byte, ttl time.Duration) error
	deleteFn func(ctx context.Context, keys ...string) error
}

func (m *mockStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if m.getFn != nil {
		return m.getFn(ctx, key)
	}
	return nil, false, nil
}

func (m *mockStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if m.setFn != nil {
		return m.setFn(ctx, key, value, ttl)
	}
	return nil
}

func (m *mockStore) Delete(ctx context.Context, keys ...string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, keys...)
	}
	return nil
}

// mockMetrics はキャッシュ参照結果を記録する。
type mockMetrics struct {
	cacheResults []string
}

func (m *mockMetrics) RecordAllocation(string, time.Duration) {}
func (m *mockMetrics) RecordAllocationRetry()                 {}
func (m *mockMetrics) RecordRelease(string)                   {}
func (m *mockMetrics) RecordBilledAmount(float64)             {}
func (m *mockMetrics) RecordEventDropped()                    {}
func (m *mockMetrics) RecordHTTPStatus(int)                   {}
func (m *mockMetrics) RecordCacheRequest(key, result string) {
	m.cacheResults = append(m.cacheResults, key+"/"+result)
}

type lotsView struct {
	Names []string `json:"names"`
}

func newTestCache(store Store, mc *mockMetrics, buf *bytes.Buffer) *Cache {
	logger := slog.New(slog.NewJSONHandler(buf, nil))
	return New(store, time.Minute, logger, mc)
}

func TestReadThrough_MissLoadsAndStores(t *testing.T) {
	store := NewMemoryStore()
	mc := &mockMetrics{}
	c := newTestCache(store, mc, &bytes.Buffer{})
	ctx := context.Background()

	calls := 0
	load := func(ctx context.Context) (lotsView, error) {
		calls++
		return lotsView{Names: []string{"Central"}}, nil
	}

	got, err := ReadThrough(ctx, c, KeyLots, load)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Names) != 1 || got.Names[0] != "Central" {
		t.Errorf("got %+v", got)
	}

	got, err = ReadThrough(ctx, c, KeyLots, load)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("load called %d times, want 1 (second read should hit)", calls)
	}
	if got.Names[0] != "Central" {
		t.Errorf("cached value = %+v", got)
	}
	want := []string{"lots/miss", "lots/hit"}
	if strings.Join(mc.cacheResults, ",") != strings.Join(want, ",") {
		t.Errorf("cache results = %v, want %v", mc.cacheResults, want)
	}
}

func TestReadThrough_StoreErrorFallsBackToLoad(t *testing.T) {
	store := &mockStore{
		getFn: func(ctx context.Context, key string) ([]byte, bool, error) {
			return nil, false, errors.New("connection refused")
		},
		setFn: func(ctx context.Context, key string, value []byte, ttl time.Duration) error {
			return errors.New("connection refused")
		},
	}
	mc := &mockMetrics{}
	var logs bytes.Buffer
	c := newTestCache(store, mc, &logs)

	got, err := ReadThrough(context.Background(), c, KeyDashboard, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("cache failure must not fail the read: %v", err)
	}
	if got != 42 {
		t.Errorf("got %d, want 42", got)
	}
	if len(mc.cacheResults) != 1 || mc.cacheResults[0] != "dashboard/error" {
		t.Errorf("cache results = %v", mc.cacheResults)
	}
	if !strings.Contains(logs.String(), "cache get failed") || !strings.Contains(logs.String(), "cache set failed") {
		t.Errorf("expected warnings in log, got %s", logs.String())
	}
}

func TestReadThrough_CorruptEntryTreatedAsMiss(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Set(ctx, HistoryKey("u1"), []byte("{not json"), time.Minute)
	c := newTestCache(store, &mockMetrics{}, &bytes.Buffer{})

	got, err := ReadThrough(ctx, c, HistoryKey("u1"), func(ctx context.Context) ([]string, error) {
		return []string{"r1"}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0] != "r1" {
		t.Errorf("got %v", got)
	}

	raw, found, _ := store.Get(ctx, HistoryKey("u1"))
	if !found || string(raw) != `["r1"]` {
		t.Errorf("corrupt entry should be overwritten, got %q", raw)
	}
}

func TestReadThrough_LoadErrorIsNotCached(t *testing.T) {
	store := NewMemoryStore()
	c := newTestCache(store, &mockMetrics{}, &bytes.Buffer{})
	ctx := context.Background()
	boom := errors.New("db down")

	_, err := ReadThrough(ctx, c, KeyLots, func(ctx context.Context) (int, error) {
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected load error, got %v", err)
	}
	if _, found, _ := store.Get(ctx, KeyLots); found {
		t.Error("failed load must not be cached")
	}
}

func TestReadThrough_NilCacheLoadsDirectly(t *testing.T) {
	got, err := ReadThrough(context.Background(), nil, KeyLots, func(ctx context.Context) (string, error) {
		return "direct", nil
	})
	if err != nil || got != "direct" {
		t.Errorf("got %q, %v", got, err)
	}
}

func TestAfterReservationChange_DeletesAllThreeKeys(t *testing.T) {
	var deleted []string
	store := &mockStore{
		deleteFn: func(ctx context.Context, keys ...string) error {
			deleted = append(deleted, keys...)
			return nil
		},
	}
	c := newTestCache(store, &mockMetrics{}, &bytes.Buffer{})

	c.AfterReservationChange(context.Background(), "u1")

	sort.Strings(deleted)
	want := []string{"dashboard:summary", "history:user:u1", "lots:list"}
	if strings.Join(deleted, ",") != strings.Join(want, ",") {
		t.Errorf("deleted = %v, want %v", deleted, want)
	}
}

func TestAfterLotChange_DeletesLotsAndDashboard(t *testing.T) {
	var deleted []string
	store := &mockStore{
		deleteFn: func(ctx context.Context, keys ...string) error {
			deleted = append(deleted, keys...)
			return nil
		},
	}
	c := newTestCache(store, &mockMetrics{}, &bytes.Buffer{})

	c.AfterLotChange(context.Background())

	sort.Strings(deleted)
	if strings.Join(deleted, ",") != "dashboard:summary,lots:list" {
		t.Errorf("deleted = %v", deleted)
	}
}

func TestInvalidate_ErrorIsLoggedNotReturned(t *testing.T) {
	store := &mockStore{
		deleteFn: func(ctx context.Context, keys ...string) error {
			return errors.New("redis timeout")
		},
	}
	var logs bytes.Buffer
	c := newTestCache(store, &mockMetrics{}, &logs)

	c.AfterLotChange(context.Background())

	if !strings.Contains(logs.String(), "cache invalidation failed") {
		t.Errorf("expected error log, got %s", logs.String())
	}
}

func TestInvalidate_RunsEvenIfRequestCanceled(t *testing.T) {
	var ctxErr error
	store := &mockStore{
		deleteFn: func(ctx context.Context, keys ...string) error {
			ctxErr = ctx.Err()
			return nil
		},
	}
	c := newTestCache(store, &mockMetrics{}, &bytes.Buffer{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.AfterReservationChange(ctx, "u1")

	if ctxErr != nil {
		t.Errorf("delete ran with canceled context: %v", ctxErr)
	}
}

func TestKeyKind(t *testing.T) {
	tests := map[string]string{
		KeyLots:           "lots",
		KeyDashboard:      "dashboard",
		HistoryKey("abc"): "history",
		"plain":           "plain",
	}
	for key, want := range tests {
		if got := keyKind(key); got != want {
			t.Errorf("keyKind(%q) = %q, want %q", key, got, want)
		}
	}
}
