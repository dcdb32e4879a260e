package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const MetricNameSpace = "w3up"

// PrometheusRecorder Prometheus 指标实现
type PrometheusRecorder struct {
	registry    *prometheus.Registry
	txTotal     *prometheus.CounterVec
	txWait      *prometheus.HistogramVec
	workflows   *prometheus.CounterVec
	refreshes   *prometheus.CounterVec
	refreshTime prometheus.Histogram
	mintCount   prometheus.Gauge
	errorsTotal *prometheus.CounterVec
}

// NewPrometheusRecorder 创建指标记录器，指标注册在独立的 registry 上
func NewPrometheusRecorder() *PrometheusRecorder {
	p := &PrometheusRecorder{
		registry: prometheus.NewRegistry(),
		txTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: MetricNameSpace,
				Name:      "transactions_total",
				Help:      "registry transactions by kind and status",
			},
			[]string{"kind", "status"},
		),
		txWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: MetricNameSpace,
				Name:      "receipt_wait_seconds",
				Help:      "time from submission to receipt",
				Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
			},
			[]string{"kind"},
		),
		workflows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: MetricNameSpace,
				Name:      "workflows_total",
				Help:      "mint and update workflow outcomes",
			},
			[]string{"workflow", "outcome"},
		),
		refreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: MetricNameSpace,
				Name:      "registry_refresh_total",
				Help:      "registry snapshot refreshes",
			},
			[]string{"ok"},
		),
		refreshTime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: MetricNameSpace,
				Name:      "registry_refresh_seconds",
				Help:      "registry snapshot fetch latency",
				Buckets:   prometheus.DefBuckets,
			},
		),
		mintCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: MetricNameSpace,
				Name:      "registered_names",
				Help:      "names in the last registry snapshot",
			},
		),
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: MetricNameSpace,
				Name:      "errors_total",
				Help:      "errors handled at workflow boundaries by type",
			},
			[]string{"type"},
		),
	}

	p.registry.MustRegister(
		p.txTotal,
		p.txWait,
		p.workflows,
		p.refreshes,
		p.refreshTime,
		p.mintCount,
		p.errorsTotal,
		prometheus.NewGoCollector(),
	)
	return p
}

func (p *PrometheusRecorder) TxSubmitted(kind string) {
	p.txTotal.WithLabelValues(kind, "submitted").Inc()
}

func (p *PrometheusRecorder) TxConfirmed(kind, status string, wait time.Duration) {
	p.txTotal.WithLabelValues(kind, status).Inc()
	p.txWait.WithLabelValues(kind).Observe(wait.Seconds())
}

func (p *PrometheusRecorder) WorkflowFinished(workflow, outcome string) {
	p.workflows.WithLabelValues(workflow, outcome).Inc()
}

func (p *PrometheusRecorder) RefreshFinished(ok bool, duration time.Duration, count int) {
	p.refreshes.WithLabelValues(strconv.FormatBool(ok)).Inc()
	p.refreshTime.Observe(duration.Seconds())
	if ok {
		p.mintCount.Set(float64(count))
	}
}

func (p *PrometheusRecorder) ErrorHandled(errorType string) {
	p.errorsTotal.WithLabelValues(errorType).Inc()
}

// Registry 指标注册表
func (p *PrometheusRecorder) Registry() *prometheus.Registry {
	return p.registry
}

// Handler /metrics 处理器
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
