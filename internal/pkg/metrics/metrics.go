// Package metrics 分析流程的 Prometheus 指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const Namespace = "site_structure"

// Metrics 分析流程指标，nil 时不记录任何数据
type Metrics struct {
	JobsProcessedTotal   *prometheus.CounterVec
	JobDurationSeconds   prometheus.Histogram
	JobsEnqueuedTotal    *prometheus.CounterVec
	QueueDepth           *prometheus.GaugeVec
	WorkersBusy          prometheus.Gauge
	PagesDiscovered      prometheus.Histogram
	StrategyFailures     *prometheus.CounterVec
	ValidationOutcomes   *prometheus.CounterVec
	SubdomainsDiscovered prometheus.Histogram
}

// New 创建指标并注册到 reg，reg 为 nil 时注册到默认 registerer
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		JobsProcessedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "jobs_processed_total",
			Help:      "Analysis jobs processed, by outcome",
		}, []string{"outcome"}),
		JobDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of one analysis job run",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		JobsEnqueuedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "jobs_enqueued_total",
			Help:      "Analysis jobs enqueued, by source",
		}, []string{"source"}),
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "queue_jobs",
			Help:      "Analysis jobs per status",
		}, []string{"status"}),
		WorkersBusy: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "workers_busy",
			Help:      "Workers currently running a job",
		}),
		PagesDiscovered: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "pages_discovered",
			Help:      "Pages stored per completed analysis",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}),
		StrategyFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "strategy_failures_total",
			Help:      "Discovery strategy failures, by strategy",
		}, []string{"strategy"}),
		ValidationOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "validation_outcomes_total",
			Help:      "Liveness checks, by outcome",
		}, []string{"outcome"}),
		SubdomainsDiscovered: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "subdomains_discovered",
			Help:      "Live subdomains found per analysis",
			Buckets:   prometheus.LinearBuckets(0, 2, 11),
		}),
	}
}

func (m *Metrics) JobProcessed(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.JobsProcessedTotal.WithLabelValues(outcome).Inc()
	m.JobDurationSeconds.Observe(seconds)
}

func (m *Metrics) JobEnqueued(source string) {
	if m == nil {
		return
	}
	m.JobsEnqueuedTotal.WithLabelValues(source).Inc()
}

// SetQueueDepth 按状态更新队列深度
func (m *Metrics) SetQueueDepth(counts map[string]int64) {
	if m == nil {
		return
	}
	m.QueueDepth.Reset()
	for status, n := range counts {
		m.QueueDepth.WithLabelValues(status).Set(float64(n))
	}
}

func (m *Metrics) WorkerStarted() {
	if m != nil {
		m.WorkersBusy.Inc()
	}
}

func (m *Metrics) WorkerFinished() {
	if m != nil {
		m.WorkersBusy.Dec()
	}
}

func (m *Metrics) Discovered(pages, subdomains int) {
	if m == nil {
		return
	}
	m.PagesDiscovered.Observe(float64(pages))
	m.SubdomainsDiscovered.Observe(float64(subdomains))
}

func (m *Metrics) StrategyFailed(strategy string) {
	if m != nil {
		m.StrategyFailures.WithLabelValues(strategy).Inc()
	}
}

func (m *Metrics) Validated(outcome string) {
	if m != nil {
		m.ValidationOutcomes.WithLabelValues(outcome).Inc()
	}
}
