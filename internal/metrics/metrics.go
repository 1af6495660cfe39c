// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 記事操作の結果ラベル。
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層・リアルタイム配信・ビューから利用する。
type MetricsCollector interface {
	RecordArticleMutation(op, outcome string, duration time.Duration)
	RecordChangeDelivered(topic string)
	RecordChangeDropped(topic string)
	RecordSessionCheck(result string)
	RecordHTTPStatus(statusCode int)
	ViewOpened()
	ViewClosed()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	articleMutations *prometheus.CounterVec
	mutationLatency  *prometheus.HistogramVec
	changeDelivered  *prometheus.CounterVec
	changeDropped    *prometheus.CounterVec
	sessionChecks    *prometheus.CounterVec
	httpStatus       *prometheus.CounterVec
	activeViews      prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		articleMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "articleboard_article_mutations_total",
			Help: "記事の作成・更新・削除の件数",
		}, []string{"op", "outcome"}),
		mutationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "articleboard_article_mutation_latency_seconds",
			Help:    "記事操作のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		changeDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "articleboard_change_events_delivered_total",
			Help: "購読者へ配信した変更イベント数",
		}, []string{"topic"}),
		changeDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "articleboard_change_events_dropped_total",
			Help: "キュー溢れで破棄した変更イベント数",
		}, []string{"topic"}),
		sessionChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "articleboard_session_checks_total",
			Help: "セッション検証の結果別件数",
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "articleboard_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		activeViews: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "articleboard_active_views",
			Help: "接続中のライブビュー数",
		}),
	}

	reg.MustRegister(
		c.articleMutations,
		c.mutationLatency,
		c.changeDelivered,
		c.changeDropped,
		c.sessionChecks,
		c.httpStatus,
		c.activeViews,
	)

	return c
}

// RecordArticleMutation は記事操作の結果とレイテンシを記録する。
func (c *Collector) RecordArticleMutation(op, outcome string, duration time.Duration) {
	c.articleMutations.WithLabelValues(op, outcome).Inc()
	c.mutationLatency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordChangeDelivered は変更イベントの配信を記録する。
func (c *Collector) RecordChangeDelivered(topic string) {
	c.changeDelivered.WithLabelValues(topic).Inc()
}

// RecordChangeDropped は変更イベントの破棄を記録する。
func (c *Collector) RecordChangeDropped(topic string) {
	c.changeDropped.WithLabelValues(topic).Inc()
}

// RecordSessionCheck はセッション検証の結果を記録する。
func (c *Collector) RecordSessionCheck(result string) {
	c.sessionChecks.WithLabelValues(result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

func (c *Collector) ViewOpened() { c.activeViews.Inc() }
func (c *Collector) ViewClosed() { c.activeViews.Dec() }

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordArticleMutation(string, string, time.Duration) {}
func (Nop) RecordChangeDelivered(string)                        {}
func (Nop) RecordChangeDropped(string)                          {}
func (Nop) RecordSessionCheck(string)                           {}
func (Nop) RecordHTTPStatus(int)                                {}
func (Nop) ViewOpened()                                         {}
func (Nop) ViewClosed()                                         {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
