// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitoshi/parkman/internal/model"
)

// 処理結果ラベル
const (
	ResultSuccess     = "success"
	ResultValidation  = "validation"
	ResultConflict    = "conflict"
	ResultNotFound    = "not_found"
	ResultUnavailable = "unavailable"
	ResultError       = "error"
)

// キャッシュ参照結果ラベル
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層・キャッシュ層・ミドルウェアから利用する。
type MetricsCollector interface {
	RecordAllocation(result string, duration time.Duration)
	RecordAllocationRetry()
	RecordRelease(result string)
	RecordBilledAmount(amount float64)
	RecordCacheRequest(key, result string)
	RecordEventDropped()
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	allocations       *prometheus.CounterVec
	allocationLatency prometheus.Histogram
	allocationRetries prometheus.Counter
	releases          *prometheus.CounterVec
	billedAmount      prometheus.Counter
	cacheRequests     *prometheus.CounterVec
	eventsDropped     prometheus.Counter
	httpStatus        *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parkman_allocations_total",
			Help: "結果別のスペース割り当て数",
		}, []string{"result"}),
		allocationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "parkman_allocation_latency_seconds",
			Help:    "スペース割り当てのレイテンシ（秒、再試行を含む）",
			Buckets: prometheus.DefBuckets,
		}),
		allocationRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parkman_allocation_retries_total",
			Help: "競合・一時障害による割り当ての再試行数",
		}),
		releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parkman_releases_total",
			Help: "結果別の予約解放数",
		}, []string{"result"}),
		billedAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parkman_billed_amount_total",
			Help: "解放時に確定した利用料金の合計",
		}),
		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parkman_cache_requests_total",
			Help: "キー種別・結果別のキャッシュ参照数",
		}, []string{"key", "result"}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parkman_events_dropped_total",
			Help: "配信できずに破棄したイベント数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parkman_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.allocations,
		c.allocationLatency,
		c.allocationRetries,
		c.releases,
		c.billedAmount,
		c.cacheRequests,
		c.eventsDropped,
		c.httpStatus,
	)

	return c
}

// RecordAllocation は割り当て結果とレイテンシを記録する。
func (c *Collector) RecordAllocation(result string, duration time.Duration) {
	c.allocations.WithLabelValues(result).Inc()
	c.allocationLatency.Observe(duration.Seconds())
}

// RecordAllocationRetry は割り当ての再試行を記録する。
func (c *Collector) RecordAllocationRetry() {
	c.allocationRetries.Inc()
}

// RecordRelease は解放結果を記録する。
func (c *Collector) RecordRelease(result string) {
	c.releases.WithLabelValues(result).Inc()
}

// RecordBilledAmount は確定した料金を加算する。
func (c *Collector) RecordBilledAmount(amount float64) {
	if amount > 0 {
		c.billedAmount.Add(amount)
	}
}

// RecordCacheRequest はキャッシュ参照結果を記録する。keyにはキー種別を渡す。
func (c *Collector) RecordCacheRequest(key, result string) {
	c.cacheRequests.WithLabelValues(key, result).Inc()
}

// RecordEventDropped はイベント破棄を記録する。
func (c *Collector) RecordEventDropped() {
	c.eventsDropped.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// ResultOf はエラーを結果ラベルへ変換する。
func ResultOf(err error) string {
	if err == nil {
		return ResultSuccess
	}
	switch model.CategoryOf(err) {
	case model.CategoryValidation:
		return ResultValidation
	case model.CategoryConflict:
		return ResultConflict
	case model.CategoryNotFound:
		return ResultNotFound
	case model.CategoryUnavailable:
		return ResultUnavailable
	default:
		return ResultError
	}
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordAllocation(string, time.Duration) {}
func (Nop) RecordAllocationRetry()                 {}
func (Nop) RecordRelease(string)                   {}
func (Nop) RecordBilledAmount(float64)             {}
func (Nop) RecordCacheRequest(string, string)      {}
func (Nop) RecordEventDropped()                    {}
func (Nop) RecordHTTPStatus(int)                   {}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
