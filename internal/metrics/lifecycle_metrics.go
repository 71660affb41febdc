package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LifecycleMetrics интерфейс для метрик жизненного цикла подписчиков
type LifecycleMetrics interface {
	IncConfirmation(outcome string)
	IncConfirmationError(kind string)
	IncExpired()
	IncBestEffortFailure(op string)
	ObserveSweep(result string, duration time.Duration)
	SetActiveSubscribers(n int)
}

type lifecycleMetrics struct {
	confirmations      *prometheus.CounterVec
	confirmationErrors *prometheus.CounterVec
	expired            prometheus.Counter
	bestEffortFailures *prometheus.CounterVec
	sweeps             *prometheus.CounterVec
	sweepDuration      prometheus.Histogram
	activeSubscribers  prometheus.Gauge
}

// NewLifecycleMetrics регистрирует метрики в registry
func NewLifecycleMetrics(registry prometheus.Registerer) LifecycleMetrics {
	factory := promauto.With(registry)

	return &lifecycleMetrics{
		confirmations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_payment_confirmations_total",
				Help: "Payment confirmations handled, by outcome",
			},
			[]string{"outcome"},
		),
		confirmationErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_payment_confirmation_errors_total",
				Help: "Payment confirmations that failed and must be re-delivered, by error kind",
			},
			[]string{"kind"},
		),
		expired: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gatekeeper_subscribers_expired_total",
				Help: "Subscribers transitioned to expired",
			},
		),
		bestEffortFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_best_effort_failures_total",
				Help: "Failed best-effort side effects, by operation",
			},
			[]string{"op"},
		),
		sweeps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_sweeps_total",
				Help: "Expiry sweeps, by result",
			},
			[]string{"result"},
		),
		sweepDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_sweep_duration_seconds",
				Help:    "Duration of completed expiry sweeps",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 6),
			},
		),
		activeSubscribers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatekeeper_active_subscribers",
				Help: "Active subscribers after the last sweep",
			},
		),
	}
}

func (m *lifecycleMetrics) IncConfirmation(outcome string) {
	m.confirmations.WithLabelValues(outcome).Inc()
}

func (m *lifecycleMetrics) IncConfirmationError(kind string) {
	m.confirmationErrors.WithLabelValues(kind).Inc()
}

func (m *lifecycleMetrics) IncExpired() {
	m.expired.Inc()
}

func (m *lifecycleMetrics) IncBestEffortFailure(op string) {
	m.bestEffortFailures.WithLabelValues(op).Inc()
}

// ObserveSweep records a sweep. Only completed sweeps feed the histogram.
func (m *lifecycleMetrics) ObserveSweep(result string, duration time.Duration) {
	m.sweeps.WithLabelValues(result).Inc()
	if result == "completed" {
		m.sweepDuration.Observe(duration.Seconds())
	}
}

func (m *lifecycleMetrics) SetActiveSubscribers(n int) {
	m.activeSubscribers.Set(float64(n))
}

type noopMetrics struct{}

// Noop returns LifecycleMetrics that records nothing
func Noop() LifecycleMetrics { return noopMetrics{} }

func (noopMetrics) IncConfirmation(string)              {}
func (noopMetrics) IncConfirmationError(string)         {}
func (noopMetrics) IncExpired()                         {}
func (noopMetrics) IncBestEffortFailure(string)         {}
func (noopMetrics) ObserveSweep(string, time.Duration) {}
func (noopMetrics) SetActiveSubscribers(int)            {}
