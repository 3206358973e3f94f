// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ログイン結果のラベル値。失敗時はリダイレクトのerrorタグをそのまま使う。
const LoginOutcomeSuccess = "success"

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドラー、ミドルウェア、サービス層から利用する。
type MetricsCollector interface {
	RecordLogin(outcome string)
	RecordSessionRejected()
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
	RecordAvatarDeleteFailure()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins              *prometheus.CounterVec
	sessionRejected     prometheus.Counter
	httpStatus          *prometheus.CounterVec
	requestLatency      prometheus.Histogram
	avatarDeleteFailure prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "profilehub_login_total",
			Help: "OAuthログインの結果別の合計数",
		}, []string{"outcome"}),
		sessionRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "profilehub_session_rejected_total",
			Help: "無効または期限切れのセッションで拒否されたAPIリクエスト数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "profilehub_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "profilehub_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		avatarDeleteFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "profilehub_avatar_delete_failure_total",
			Help: "置き換え前のアバター画像の削除に失敗した回数",
		}),
	}

	reg.MustRegister(
		c.logins,
		c.sessionRejected,
		c.httpStatus,
		c.requestLatency,
		c.avatarDeleteFailure,
	)

	return c
}

// RecordLogin はOAuthログインの結果を記録する。
func (c *Collector) RecordLogin(outcome string) {
	c.logins.WithLabelValues(outcome).Inc()
}

// RecordSessionRejected はセッション検証で拒否されたリクエストを記録する。
func (c *Collector) RecordSessionRejected() {
	c.sessionRejected.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストの処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// RecordAvatarDeleteFailure はアバター削除の失敗を記録する。
func (c *Collector) RecordAvatarDeleteFailure() {
	c.avatarDeleteFailure.Inc()
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordLogin(string)                 {}
func (Nop) RecordSessionRejected()             {}
func (Nop) RecordHTTPStatus(int)               {}
func (Nop) RecordRequestLatency(time.Duration) {}
func (Nop) RecordAvatarDeleteFailure()         {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface checks
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
