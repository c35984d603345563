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
// 解決エンジンやサービス層から利用する。
type MetricsCollector interface {
	RecordResolveSuccess()
	RecordResolvePartial()
	RecordResolveFailure(reason string)
	RecordPlaceholderCreated()
	RecordUpstreamCall(endpoint string)
	RecordUpstreamStatus(statusCode int)
	RecordLookupLatency(duration time.Duration)
	RecordCacheHit()
	RecordCacheMiss()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	resolveSuccess     prometheus.Counter
	resolvePartial     prometheus.Counter
	resolveFail        *prometheus.CounterVec
	placeholderCreated prometheus.Counter
	upstreamCalls      *prometheus.CounterVec
	upstreamStatus     *prometheus.CounterVec
	lookupLatency      prometheus.Histogram
	cacheHits          prometheus.Counter
	cacheMisses        prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		resolveSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stablekraft_resolve_success_total",
			Help: "ポインタ解決成功の合計数",
		}),
		resolvePartial: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stablekraft_resolve_partial_total",
			Help: "部分解決（フィード成功・エピソード失敗）の合計数",
		}),
		resolveFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stablekraft_resolve_fail_total",
			Help: "ポインタ解決失敗の合計数（失敗分類別）",
		}, []string{"reason"}),
		placeholderCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stablekraft_placeholder_created_total",
			Help: "作成されたプレースホルダトラックの合計数",
		}),
		upstreamCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stablekraft_upstream_calls_total",
			Help: "メタデータサービスへの照会数（エンドポイント別）",
		}, []string{"endpoint"}),
		upstreamStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stablekraft_upstream_status_total",
			Help: "メタデータサービスのHTTPステータスコード別レスポンス数",
		}, []string{"status_code"}),
		lookupLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "stablekraft_lookup_latency_seconds",
			Help:    "メタデータ照会のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stablekraft_playlist_cache_hits_total",
			Help: "プレイリストキャッシュヒットの合計数",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stablekraft_playlist_cache_misses_total",
			Help: "プレイリストキャッシュミスの合計数",
		}),
	}

	reg.MustRegister(
		c.resolveSuccess,
		c.resolvePartial,
		c.resolveFail,
		c.placeholderCreated,
		c.upstreamCalls,
		c.upstreamStatus,
		c.lookupLatency,
		c.cacheHits,
		c.cacheMisses,
	)

	return c
}

// RecordResolveSuccess はポインタ解決成功を記録する。
func (c *Collector) RecordResolveSuccess() {
	c.resolveSuccess.Inc()
}

// RecordResolvePartial は部分解決を記録する。
func (c *Collector) RecordResolvePartial() {
	c.resolvePartial.Inc()
}

// RecordResolveFailure はポインタ解決失敗を失敗分類付きで記録する。
func (c *Collector) RecordResolveFailure(reason string) {
	c.resolveFail.WithLabelValues(reason).Inc()
}

// RecordPlaceholderCreated はプレースホルダ作成を記録する。
func (c *Collector) RecordPlaceholderCreated() {
	c.placeholderCreated.Inc()
}

// RecordUpstreamCall はメタデータサービスへの照会をエンドポイント別に記録する。
func (c *Collector) RecordUpstreamCall(endpoint string) {
	c.upstreamCalls.WithLabelValues(endpoint).Inc()
}

// RecordUpstreamStatus はメタデータサービスのHTTPステータスを記録する。
func (c *Collector) RecordUpstreamStatus(statusCode int) {
	c.upstreamStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordLookupLatency はメタデータ照会のレイテンシを記録する。
func (c *Collector) RecordLookupLatency(duration time.Duration) {
	c.lookupLatency.Observe(duration.Seconds())
}

// RecordCacheHit はプレイリストキャッシュヒットを記録する。
func (c *Collector) RecordCacheHit() {
	c.cacheHits.Inc()
}

// RecordCacheMiss はプレイリストキャッシュミスを記録する。
func (c *Collector) RecordCacheMiss() {
	c.cacheMisses.Inc()
}

// Handler は/metricsエンドポイント用のHTTPハンドラーを返す。
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// NopCollector は何も記録しないMetricsCollector実装。
// メトリクスが不要な文脈（テスト、ワンショットのツール実行）で使用する。
type NopCollector struct{}

func (NopCollector) RecordResolveSuccess() {}
func (NopCollector) RecordResolvePartial() {}
func (NopCollector) RecordResolveFailure(string) {}
func (NopCollector) RecordPlaceholderCreated() {}
func (NopCollector) RecordUpstreamCall(string) {}
func (NopCollector) RecordUpstreamStatus(int) {}
func (NopCollector) RecordLookupLatency(time.Duration) {}
func (NopCollector) RecordCacheHit() {}
func (NopCollector) RecordCacheMiss() {}

// compile-time interface checks
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
