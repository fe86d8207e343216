// Package monitoring 暴露常驻模式下的 Prometheus 指标。
package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mailprobe/internal/probe"
)

// Metrics 监控指标
type Metrics struct {
	// 探测结果指标
	ProbesTotal *prometheus.CounterVec
	SMTPLatency *prometheus.HistogramVec
	PollWait    *prometheus.HistogramVec
	LastSuccess *prometheus.GaugeVec

	// 上报指标
	PushFailures *prometheus.CounterVec

	// 轮次指标
	CycleDuration prometheus.Histogram
}

// NewMetrics 创建并注册监控指标（promauto 自动注册，无需手动调用）。
func NewMetrics() *Metrics {
	return &Metrics{
		ProbesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailprobe_probes_total",
				Help: "Total number of completed probes",
			},
			[]string{"account", "status"},
		),

		SMTPLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailprobe_smtp_latency_seconds",
				Help:    "SMTP phase latency (connect, auth, send)",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"account"},
		),

		PollWait: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailprobe_poll_wait_seconds",
				Help:    "Time waited until the probe message appeared in the mailbox",
				Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
			},
			[]string{"account"},
		),

		LastSuccess: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mailprobe_last_success_timestamp_seconds",
				Help: "Unix timestamp of the last successful probe",
			},
			[]string{"account"},
		),

		PushFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailprobe_push_failures_total",
				Help: "Total number of failed push notifications",
			},
			[]string{"account"},
		),

		CycleDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mailprobe_cycle_duration_seconds",
				Help:    "Wall-clock duration of one probe cycle across all accounts",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
		),
	}
}

// ObserveResult 记录一个账号的探测结果。
func (m *Metrics) ObserveResult(res probe.Result) {
	m.ProbesTotal.WithLabelValues(res.Account, string(res.Status)).Inc()
	if res.SMTPLatency > 0 {
		m.SMTPLatency.WithLabelValues(res.Account).Observe(res.SMTPLatency.Seconds())
	}
	if res.Matched {
		m.PollWait.WithLabelValues(res.Account).Observe(res.PollWait.Seconds())
	}
	if res.Status == probe.StatusUp {
		m.LastSuccess.WithLabelValues(res.Account).SetToCurrentTime()
	}
}

// HTTPHandler 返回 /metrics 端点的处理器。
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.Handler()
}
