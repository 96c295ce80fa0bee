package telemetry

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides Prometheus metrics for provider invocations.
type Metrics struct {
	config MetricsConfig

	// Provider action metrics
	actions        *prometheus.CounterVec
	actionDuration *prometheus.HistogramVec
	actionErrors   *prometheus.CounterVec

	// Reconciliation metrics
	changes       *prometheus.CounterVec
	resourcesSeen *prometheus.GaugeVec
	policyDenials *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_actions_total",
				Help:      "Total number of provider actions run",
			},
			[]string{"provider", "action"},
		),
		actionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_action_duration_seconds",
				Help:      "Duration of provider actions in seconds",
				Buckets:   buckets,
			},
			[]string{"provider", "action"},
		),
		actionErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_action_errors_total",
				Help:      "Total number of failed provider actions by error kind",
			},
			[]string{"provider", "action", "kind"},
		),
		changes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attribute_changes_total",
				Help:      "Total number of attribute changes reported by providers",
			},
			[]string{"provider", "attribute"},
		),
		resourcesSeen: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "resources",
				Help:      "Number of resources returned by the last list or get",
			},
			[]string{"provider"},
		),
		policyDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_denials_total",
				Help:      "Total number of updates rejected by policy",
			},
			[]string{"provider", "policy"},
		),
	}

	registry.MustRegister(
		m.actions,
		m.actionDuration,
		m.actionErrors,
		m.changes,
		m.resourcesSeen,
		m.policyDenials,
	)

	return m, nil
}

// Registry returns the registry metrics are registered with, or nil when
// metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordAction records one provider action and its duration.
func (m *Metrics) RecordAction(provider, action string, duration time.Duration) {
	if m.actions == nil {
		return
	}
	m.actions.WithLabelValues(provider, action).Inc()
	m.actionDuration.WithLabelValues(provider, action).Observe(duration.Seconds())
}

// RecordActionError records a failed provider action.
func (m *Metrics) RecordActionError(provider, action, kind string) {
	if m.actionErrors == nil {
		return
	}
	m.actionErrors.WithLabelValues(provider, action, kind).Inc()
}

// RecordChange records one changed attribute.
func (m *Metrics) RecordChange(provider, attribute string) {
	if m.changes == nil {
		return
	}
	m.changes.WithLabelValues(provider, attribute).Inc()
}

// SetResourceCount records how many resources a provider returned.
func (m *Metrics) SetResourceCount(provider string, count int) {
	if m.resourcesSeen == nil {
		return
	}
	m.resourcesSeen.WithLabelValues(provider).Set(float64(count))
}

// RecordPolicyDenial records an update rejected by a policy.
func (m *Metrics) RecordPolicyDenial(provider, policy string) {
	if m.policyDenials == nil {
		return
	}
	m.policyDenials.WithLabelValues(provider, policy).Inc()
}

// WriteTextfile writes all metrics to the configured textfile in the
// Prometheus text format.
func (m *Metrics) WriteTextfile() error {
	if m.registry == nil || m.config.Textfile == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(m.config.Textfile, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
