// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder はメトリクス記録のインターフェース。
// ミドルウェア・サービス層・ワーカーから利用する。
type Recorder interface {
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
	RecordListingCreated()
	RecordFavoriteToggled(favorited bool)
	RecordMessageSent(withImage bool)
	RecordImageUploaded(bucket string, size int64)
	RecordRealtimeDropped(topic string)
	RealtimeSubscribed()
	RealtimeUnsubscribed()
	RecordCleanup(sessions, images int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	httpStatus       *prometheus.CounterVec
	requestLatency   prometheus.Histogram
	listingsCreated  prometheus.Counter
	favoritesToggled *prometheus.CounterVec
	messagesSent     *prometheus.CounterVec
	uploadBytes      *prometheus.CounterVec
	realtimeDropped  prometheus.Counter
	subscribers      prometheus.Gauge
	cleanupDeleted   *prometheus.CounterVec
}

var _ Recorder = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "landmarket_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "landmarket_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		listingsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "landmarket_listings_created_total",
			Help: "作成された土地情報の合計数",
		}),
		favoritesToggled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "landmarket_favorites_toggled_total",
			Help: "お気に入りの追加・解除の合計数",
		}, []string{"result"}),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "landmarket_messages_sent_total",
			Help: "送信されたメッセージの合計数",
		}, []string{"kind"}),
		uploadBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "landmarket_upload_bytes_total",
			Help: "バケット別のアップロード済み画像の合計バイト数",
		}, []string{"bucket"}),
		realtimeDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "landmarket_realtime_dropped_total",
			Help: "購読者のバッファ溢れで破棄されたイベント数",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "landmarket_realtime_subscribers",
			Help: "接続中のリアルタイム購読者数",
		}),
		cleanupDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "landmarket_cleanup_deleted_total",
			Help: "クリーンアップで削除された行数",
		}, []string{"target"}),
	}

	reg.MustRegister(
		c.httpStatus,
		c.requestLatency,
		c.listingsCreated,
		c.favoritesToggled,
		c.messagesSent,
		c.uploadBytes,
		c.realtimeDropped,
		c.subscribers,
		c.cleanupDeleted,
	)

	return c
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストの処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// RecordListingCreated は土地情報の作成を記録する。
func (c *Collector) RecordListingCreated() {
	c.listingsCreated.Inc()
}

// RecordFavoriteToggled はお気に入り操作の結果を記録する。
func (c *Collector) RecordFavoriteToggled(favorited bool) {
	result := "removed"
	if favorited {
		result = "added"
	}
	c.favoritesToggled.WithLabelValues(result).Inc()
}

// RecordMessageSent はメッセージ送信を記録する。
func (c *Collector) RecordMessageSent(withImage bool) {
	kind := "text"
	if withImage {
		kind = "image"
	}
	c.messagesSent.WithLabelValues(kind).Inc()
}

// RecordImageUploaded はアップロードされた画像のサイズを記録する。
func (c *Collector) RecordImageUploaded(bucket string, size int64) {
	c.uploadBytes.WithLabelValues(bucket).Add(float64(size))
}

// RecordRealtimeDropped は破棄されたリアルタイムイベントを記録する。
func (c *Collector) RecordRealtimeDropped(topic string) {
	c.realtimeDropped.Inc()
}

// RealtimeSubscribed は購読者数を1増やす。
func (c *Collector) RealtimeSubscribed() {
	c.subscribers.Inc()
}

// RealtimeUnsubscribed は購読者数を1減らす。
func (c *Collector) RealtimeUnsubscribed() {
	c.subscribers.Dec()
}

// RecordCleanup はクリーンアップで削除した件数を記録する。
func (c *Collector) RecordCleanup(sessions, images int64) {
	c.cleanupDeleted.WithLabelValues("sessions").Add(float64(sessions))
	c.cleanupDeleted.WithLabelValues("images").Add(float64(images))
}

// Nop は何も記録しないRecorder。テストやメトリクス無効時に使う。
type Nop struct{}

var _ Recorder = Nop{}

func (Nop) RecordHTTPStatus(int) {}
func (Nop) RecordRequestLatency(time.Duration) {}
func (Nop) RecordListingCreated() {}
func (Nop) RecordFavoriteToggled(bool) {}
func (Nop) RecordMessageSent(bool) {}
func (Nop) RecordImageUploaded(string, int64) {}
func (Nop) RecordRealtimeDropped(string) {}
func (Nop) RealtimeSubscribed() {}
func (Nop) RealtimeUnsubscribed() {}
func (Nop) RecordCleanup(sessions, images int64) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
