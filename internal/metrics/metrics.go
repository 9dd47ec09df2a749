// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// APIクライアントやストア層から利用する。
type MetricsCollector interface {
	RecordUpstreamRequest(endpoint string, statusCode int, duration time.Duration)
	RecordUpstreamRetry(endpoint string)
	RecordCacheHit(domain string)
	RecordCacheMiss(domain string)
	RecordDedupShared(domain string)
	RecordToggleRollback(kind string)
	RecordToggleRejected(kind string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	upstreamRequests *prometheus.CounterVec
	upstreamLatency  *prometheus.HistogramVec
	upstreamRetries  *prometheus.CounterVec
	cacheHits        *prometheus.CounterVec
	cacheMisses      *prometheus.CounterVec
	dedupShared      *prometheus.CounterVec
	toggleRollbacks  *prometheus.CounterVec
	toggleRejected   *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		upstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mavae_upstream_requests_total",
			Help: "上流APIへのリクエスト数（エンドポイント・ステータス別）",
		}, []string{"endpoint", "status_code"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mavae_upstream_latency_seconds",
			Help:    "上流APIのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		upstreamRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mavae_upstream_retries_total",
			Help: "上流APIへのリトライ回数",
		}, []string{"endpoint"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mavae_store_cache_hits_total",
			Help: "ストアのTTLキャッシュヒット数",
		}, []string{"domain"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mavae_store_cache_misses_total",
			Help: "ストアのTTLキャッシュミス数",
		}, []string{"domain"}),
		dedupShared: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mavae_store_dedup_shared_total",
			Help: "実行中リクエストを共有した重複フェッチ数",
		}, []string{"domain"}),
		toggleRollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mavae_toggle_rollbacks_total",
			Help: "楽観的更新のロールバック数",
		}, []string{"kind"}),
		toggleRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mavae_toggle_rejected_total",
			Help: "処理中のため拒否された楽観的更新の数",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		c.upstreamRequests,
		c.upstreamLatency,
		c.upstreamRetries,
		c.cacheHits,
		c.cacheMisses,
		c.dedupShared,
		c.toggleRollbacks,
		c.toggleRejected,
	)

	return c
}

// RecordUpstreamRequest は上流APIへのリクエスト結果とレイテンシを記録する。
// statusCodeが0の場合は通信エラーとして記録する。
func (c *Collector) RecordUpstreamRequest(endpoint string, statusCode int, duration time.Duration) {
	status := "error"
	if statusCode > 0 {
		status = strconv.Itoa(statusCode)
	}
	c.upstreamRequests.WithLabelValues(endpoint, status).Inc()
	c.upstreamLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordUpstreamRetry はリトライを記録する。
func (c *Collector) RecordUpstreamRetry(endpoint string) {
	c.upstreamRetries.WithLabelValues(endpoint).Inc()
}

// RecordCacheHit はキャッシュヒットを記録する。
func (c *Collector) RecordCacheHit(domain string) {
	c.cacheHits.WithLabelValues(domain).Inc()
}

// RecordCacheMiss はキャッシュミスを記録する。
func (c *Collector) RecordCacheMiss(domain string) {
	c.cacheMisses.WithLabelValues(domain).Inc()
}

// RecordDedupShared は重複排除されたフェッチを記録する。
func (c *Collector) RecordDedupShared(domain string) {
	c.dedupShared.WithLabelValues(domain).Inc()
}

// RecordToggleRollback は楽観的更新のロールバックを記録する。
func (c *Collector) RecordToggleRollback(kind string) {
	c.toggleRollbacks.WithLabelValues(kind).Inc()
}

// RecordToggleRejected は処理中のため拒否された更新を記録する。
func (c *Collector) RecordToggleRejected(kind string) {
	c.toggleRejected.WithLabelValues(kind).Inc()
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordUpstreamRequest(string, int, time.Duration) {}
func (Nop) RecordUpstreamRetry(string)                       {}
func (Nop) RecordCacheHit(string)                            {}
func (Nop) RecordCacheMiss(string)                           {}
func (Nop) RecordDedupShared(string)                         {}
func (Nop) RecordToggleRollback(string)                      {}
func (Nop) RecordToggleRejected(string)                      {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
