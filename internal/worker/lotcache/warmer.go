// Package lotcache は駐車場一覧キャッシュの定期更新ジョブを提供する。
// 一覧はTTLで失効するため、ワーカーが一定間隔で最新値を書き込み
// 利用者のリクエストがストアへ直接届く頻度を抑える。
package lotcache

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/parkman/internal/cache"
	"github.com/hitoshi/parkman/internal/report"
)

// LotLoader はキャッシュを経由せずに駐車場一覧を組み立てるインターフェース。
type LotLoader interface {
	LoadLots(ctx context.Context) ([]report.LotSummary, error)
}

// Warmer は駐車場一覧キャッシュを定期的に更新する。
type Warmer struct {
	loader LotLoader
	cache  *cache.Cache
	logger *slog.Logger
}

// NewWarmer はWarmerの新しいインスタンスを生成する。
func NewWarmer(loader LotLoader, c *cache.Cache, logger *slog.Logger) *Warmer {
	return &Warmer{
		loader: loader,
		cache:  c,
		logger: logger,
	}
}

// Start はinterval間隔のティッカーで更新を実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (w *Warmer) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.logger.Info("駐車場一覧キャッシュの更新ジョブを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	w.runAndLog(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("駐車場一覧キャッシュの更新ジョブを停止しました")
			return
		case <-ticker.C:
			w.runAndLog(ctx)
		}
	}
}

func (w *Warmer) runAndLog(ctx context.Context) {
	if err := w.RunOnce(ctx); err != nil {
		w.logger.Error("駐車場一覧キャッシュの更新に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce は駐車場一覧を1回読み込み、キャッシュへ書き込む。
func (w *Warmer) RunOnce(ctx context.Context) error {
	start := time.Now()

	lots, err := w.loader.LoadLots(ctx)
	if err != nil {
		return err
	}
	w.cache.Put(ctx, cache.KeyLots, lots)

	w.logger.Info("駐車場一覧キャッシュを更新しました",
		slog.Int("lot_count", len(lots)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}
