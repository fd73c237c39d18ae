package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hitoshi/parkman/internal/metrics"
)

// Invalidator は書き込み完了後にキャッシュを無効化するインターフェース。
// 無効化の失敗はログに記録するのみで呼び出し元には返さない。
type Invalidator interface {
	// AfterReservationChange は予約の作成・解放後に呼ぶ。
	// 駐車場一覧・ダッシュボード・当該ユーザーの履歴を無効化する。
	AfterReservationChange(ctx context.Context, userID string)
	// AfterLotChange は駐車場の作成・変更・削除後に呼ぶ。
	// 駐車場一覧とダッシュボードを無効化する。
	AfterLotChange(ctx context.Context)
}

// Cache はStoreにTTL・ログ・メトリクスを結び付けた読み取りキャッシュ。
type Cache struct {
	store   Store
	ttl     time.Duration
	logger  *slog.Logger
	metrics metrics.MetricsCollector
}

// New はCacheを生成する。
func New(store Store, ttl time.Duration, logger *slog.Logger, mc metrics.MetricsCollector) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Cache{store: store, ttl: ttl, logger: logger, metrics: mc}
}

// ReadThrough はキャッシュにあればそれを返し、なければloadの結果を保存して返す。
// キャッシュの取得・復元・保存に失敗した場合はログに記録し、loadの結果を返す。
func ReadThrough[T any](ctx context.Context, c *Cache, key string, load func(ctx context.Context) (T, error)) (T, error) {
	if c == nil {
		return load(ctx)
	}
	kind := keyKind(key)

	raw, found, err := c.store.Get(ctx, key)
	switch {
	case err != nil:
		c.metrics.RecordCacheRequest(kind, metrics.CacheError)
		c.logger.Warn("cache get failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	case found:
		var cached T
		decodeErr := json.Unmarshal(raw, &cached)
		if decodeErr == nil {
			c.metrics.RecordCacheRequest(kind, metrics.CacheHit)
			return cached, nil
		}
		c.metrics.RecordCacheRequest(kind, metrics.CacheError)
		c.logger.Warn("cache decode failed",
			slog.String("key", key),
			slog.String("error", decodeErr.Error()),
		)
	default:
		c.metrics.RecordCacheRequest(kind, metrics.CacheMiss)
	}

	value, err := load(ctx)
	if err != nil {
		return value, err
	}

	c.Put(ctx, key, value)
	return value, nil
}

// Put は値をJSONで保存する。失敗はログに記録する。
func (c *Cache) Put(ctx context.Context, key string, value any) {
	encoded, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("cache encode failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := c.store.Set(ctx, key, encoded, c.ttl); err != nil {
		c.logger.Warn("cache set failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// AfterReservationChange は駐車場一覧・ダッシュボード・ユーザー履歴を無効化する。
func (c *Cache) AfterReservationChange(ctx context.Context, userID string) {
	c.invalidate(ctx, KeyLots, KeyDashboard, HistoryKey(userID))
}

// AfterLotChange は駐車場一覧とダッシュボードを無効化する。
func (c *Cache) AfterLotChange(ctx context.Context) {
	c.invalidate(ctx, KeyLots, KeyDashboard)
}

// invalidate はリクエストがキャンセルされていても削除を実行する。
func (c *Cache) invalidate(ctx context.Context, keys ...string) {
	if err := c.store.Delete(context.WithoutCancel(ctx), keys...); err != nil {
		c.logger.Error("cache invalidation failed",
			slog.Any("keys", keys),
			slog.String("error", err.Error()),
		)
	}
}

// compile-time interface check
var _ Invalidator = (*Cache)(nil)
