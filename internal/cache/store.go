// Package cache は集計結果の読み取りキャッシュと無効化を提供する。
package cache

import (
	"context"
	"strings"
	"time"
)

// Store はキャッシュの保存先を抽象化するインターフェース。
type Store interface {
	// Get はキーの値を返す。存在しない場合はfalseを返す。
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set はキーに値をTTL付きで保存する。
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete は指定キーを削除する。存在しないキーは無視する。
	Delete(ctx context.Context, keys ...string) error
}

// キャッシュキー
const (
	KeyLots      = "lots:list"
	KeyDashboard = "dashboard:summary"

	historyKeyPrefix = "history:user:"
)

// HistoryKey はユーザーの予約履歴のキャッシュキーを返す。
func HistoryKey(userID string) string {
	return historyKeyPrefix + userID
}

// keyKind はメトリクスラベル用にキーの種別（先頭セグメント）を返す。
func keyKind(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}
