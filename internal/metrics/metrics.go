// Package metrics defines prometheus collectors of the confirmation pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "txconfirm"

// Metrics pipeline collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	DryRuns            *prometheus.CounterVec
	Estimates          *prometheus.CounterVec
	ValidationFailures *prometheus.CounterVec
	Submissions        *prometheus.CounterVec
	ActiveFeeds        *prometheus.GaugeVec
}

// New creates unregistered collectors.
func New() *Metrics {
	return &Metrics{
		DryRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fee_dry_runs_total",
			Help:      "Fee dry runs sent to the chain client.",
		}, []string{"chain"}),
		Estimates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fee_estimates_total",
			Help:      "Fee estimate requests by outcome.",
		}, []string{"result"}),
		ValidationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_failures_total",
			Help:      "Confirmations rejected by a validator.",
		}, []string{"validator"}),
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Submission attempts by outcome.",
		}, []string{"result"}),
		ActiveFeeds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hub_active_feeds",
			Help:      "Upstream balance and price feeds currently open.",
		}, []string{"kind"}),
	}
}

// Register registers all collectors.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.DryRuns, m.Estimates, m.ValidationFailures, m.Submissions, m.ActiveFeeds} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) DryRun(chain string) {
	if m == nil {
		return
	}
	m.DryRuns.WithLabelValues(chain).Inc()
}

func (m *Metrics) Estimate(result string) {
	if m == nil {
		return
	}
	m.Estimates.WithLabelValues(result).Inc()
}

func (m *Metrics) ValidationFailed(validator string) {
	if m == nil {
		return
	}
	m.ValidationFailures.WithLabelValues(validator).Inc()
}

func (m *Metrics) Submission(result string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(result).Inc()
}

func (m *Metrics) FeedOpened(kind string) {
	if m == nil {
		return
	}
	m.ActiveFeeds.WithLabelValues(kind).Inc()
}

func (m *Metrics) FeedClosed(kind string) {
	if m == nil {
		return
	}
	m.ActiveFeeds.WithLabelValues(kind).Dec()
}
