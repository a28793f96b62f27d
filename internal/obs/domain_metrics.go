package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// APIRequestsTotal counts calls to the AutoSMS API by endpoint and result.
	APIRequestsTotal *prometheus.CounterVec
	// APIRequestLatency records AutoSMS API latency in milliseconds.
	APIRequestLatency *prometheus.HistogramVec
	// SignatureChecksTotal counts signature verification outcomes by source.
	SignatureChecksTotal *prometheus.CounterVec
	// WebhookTotal counts inbound webhook outcomes.
	WebhookTotal *prometheus.CounterVec
	// PollOutcomesTotal counts how payment polls end.
	PollOutcomesTotal *prometheus.CounterVec
	// PollAttemptsTotal counts poll ticks regardless of outcome.
	PollAttemptsTotal prometheus.Counter
	// ActivePolls tracks polls currently scheduled.
	ActivePolls prometheus.Gauge
)

// MustRegisterDomainMetrics initialises and registers the SDK collectors. Only
// the first call has an effect.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		APIRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "autosms_api_requests_total",
			Help:      "Count of AutoSMS API calls by endpoint and result.",
		}, []string{"endpoint", "result"})
		APIRequestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "autosms_api_request_duration_ms",
			Help:      "AutoSMS API latency in milliseconds.",
			Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		}, []string{"endpoint"})
		SignatureChecksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "autosms_signature_checks_total",
			Help:      "Signature verification outcomes by source.",
		}, []string{"source", "result"})
		WebhookTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "autosms_webhook_total",
			Help:      "Count of inbound AutoSMS webhooks by outcome.",
		}, []string{"result"})
		PollOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "autosms_poll_outcomes_total",
			Help:      "Count of payment polls by terminal state.",
		}, []string{"outcome"})
		PollAttemptsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "autosms_poll_attempts_total",
			Help:      "Total number of payment verification ticks.",
		})
		ActivePolls = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "autosms_active_polls",
			Help:      "Payment polls currently scheduled.",
		})

		mustRegisterCollector(reg, APIRequestsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				APIRequestsTotal = v
			}
		})
		mustRegisterCollector(reg, APIRequestLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				APIRequestLatency = v
			}
		})
		mustRegisterCollector(reg, SignatureChecksTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				SignatureChecksTotal = v
			}
		})
		mustRegisterCollector(reg, WebhookTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				WebhookTotal = v
			}
		})
		mustRegisterCollector(reg, PollOutcomesTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PollOutcomesTotal = v
			}
		})
		mustRegisterCollector(reg, PollAttemptsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				PollAttemptsTotal = v
			}
		})
		mustRegisterCollector(reg, ActivePolls, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Gauge); ok {
				ActivePolls = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
