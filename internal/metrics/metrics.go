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
// ハンドラーやワーカーから利用する。
type MetricsCollector interface {
	RecordLoginSuccess(method string)
	RecordLoginFailure(method string, reason string)
	RecordTokenIssued(tokenType string)
	RecordRefreshOutcome(outcome string)
	RecordTokensSwept(count int)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	loginSuccess   *prometheus.CounterVec
	loginFail      *prometheus.CounterVec
	tokensIssued   *prometheus.CounterVec
	refreshOutcome *prometheus.CounterVec
	tokensSwept    prometheus.Counter
	httpStatus     *prometheus.CounterVec
	requestLatency prometheus.Histogram
}

// インターフェース実装の確認
var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		loginSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_login_success_total",
			Help: "ログイン成功の合計数（認証方式別）",
		}, []string{"method"}),
		loginFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_login_fail_total",
			Help: "ログイン失敗の合計数（認証方式・失敗理由別）",
		}, []string{"method", "reason"}),
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_tokens_issued_total",
			Help: "発行されたトークンの合計数（種別別）",
		}, []string{"type"}),
		refreshOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_refresh_total",
			Help: "リフレッシュ要求の合計数（結果別）",
		}, []string{"outcome"}),
		tokensSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authgate_refresh_tokens_swept_total",
			Help: "掃除された期限切れリフレッシュトークンの合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "authgate_request_latency_seconds",
			Help:    "APIリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.loginSuccess,
		c.loginFail,
		c.tokensIssued,
		c.refreshOutcome,
		c.tokensSwept,
		c.httpStatus,
		c.requestLatency,
	)

	return c
}

// RecordLoginSuccess はログイン成功を記録する。methodは"email"または"google"。
func (c *Collector) RecordLoginSuccess(method string) {
	c.loginSuccess.WithLabelValues(method).Inc()
}

// RecordLoginFailure はログイン失敗を記録する。
// reasonは失敗の分類（not_found、no_password、invalid_passwordなど）。
func (c *Collector) RecordLoginFailure(method string, reason string) {
	c.loginFail.WithLabelValues(method, reason).Inc()
}

// RecordTokenIssued はトークン発行を記録する。typeは"access"または"refresh"。
func (c *Collector) RecordTokenIssued(tokenType string) {
	c.tokensIssued.WithLabelValues(tokenType).Inc()
}

// RecordRefreshOutcome はリフレッシュ要求の結果を記録する。
// outcomeは"rotated"、"invalid_token"、"not_registered"など。
func (c *Collector) RecordRefreshOutcome(outcome string) {
	c.refreshOutcome.WithLabelValues(outcome).Inc()
}

// RecordTokensSwept は掃除された期限切れリフレッシュトークン数を記録する。
func (c *Collector) RecordTokensSwept(count int) {
	c.tokensSwept.Add(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はAPIリクエストのレイテンシを記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
