package metrics

import (
	"time"

	"viplinks/internal/delivery"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "viplinks"
	subsystem = "delivery"
)

// DeliveryMetrics 发货分发指标，实现 delivery.Metrics
type DeliveryMetrics struct {
	attemptsTotal    *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
	cycleDuration    prometheus.Histogram
	cycleConsidered  prometheus.Gauge
	cycleResults     *prometheus.CounterVec
}

var _ delivery.Metrics = (*DeliveryMetrics)(nil)

func NewDeliveryMetrics() *DeliveryMetrics {
	return &DeliveryMetrics{
		attemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "attempts_total",
				Help:      "RCON 发货尝试次数，按结果和错误分类",
			},
			[]string{"outcome", "error_kind"},
		),
		transitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "transitions_total",
				Help:      "发货记录进入终态的次数",
			},
			[]string{"status"},
		),
		cycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "cycle_duration_seconds",
				Help:      "单个分发周期的耗时",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
			},
		),
		cycleConsidered: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "cycle_considered",
				Help:      "最近一个分发周期扫描到的记录数",
			},
		),
		cycleResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "cycle_results_total",
				Help:      "分发周期内每条记录的处理结果",
			},
			[]string{"disposition"},
		),
	}
}

// Register 注册到给定的 registry，reg 为 nil 时不注册（指标关闭）
func (m *DeliveryMetrics) Register(reg prometheus.Registerer) error {
	if reg == nil {
		return nil
	}

	collectors := []prometheus.Collector{
		m.attemptsTotal,
		m.transitionsTotal,
		m.cycleDuration,
		m.cycleConsidered,
		m.cycleResults,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *DeliveryMetrics) ObserveAttempt(outcome delivery.Outcome, errKind string) {
	m.attemptsTotal.WithLabelValues(string(outcome), errKind).Inc()
}

func (m *DeliveryMetrics) ObserveTransition(status string) {
	m.transitionsTotal.WithLabelValues(status).Inc()
}

func (m *DeliveryMetrics) ObserveCycle(summary *delivery.CycleSummary, elapsed time.Duration) {
	m.cycleDuration.Observe(elapsed.Seconds())
	if summary == nil {
		return
	}

	m.cycleConsidered.Set(float64(summary.TotalConsidered))
	m.cycleResults.WithLabelValues(string(delivery.DispositionCompleted)).Add(float64(summary.Completed))
	m.cycleResults.WithLabelValues(string(delivery.DispositionRetrying)).Add(float64(summary.Retrying))
	m.cycleResults.WithLabelValues(string(delivery.DispositionFailed)).Add(float64(summary.Failed))
	m.cycleResults.WithLabelValues(string(delivery.DispositionSkipped)).Add(float64(summary.Skipped))
	m.cycleResults.WithLabelValues(string(delivery.DispositionErrored)).Add(float64(summary.Errored))
}
