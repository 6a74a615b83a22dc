// Package metrics exposes Prometheus counters for loan activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "simpleloan"

// Metrics groups the collectors recorded by the ledger. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	loansOpened          prometheus.Counter
	loansPaidOff         prometheus.Counter
	paymentsRecorded     *prometheus.CounterVec
	operationFailures    *prometheus.CounterVec
	eventPublishFailures prometheus.Counter
}

// New creates the collectors and registers them, along with the Go runtime
// and process collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		loansOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loans_opened_total",
			Help:      "Loans originated.",
		}),
		loansPaidOff: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loans_paid_off_total",
			Help:      "Payments that moved a loan from ACTIVE to PAID_OFF.",
		}),
		paymentsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_recorded_total",
			Help:      "Payments recorded, by payment type.",
		}, []string{"payment_type"}),
		operationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_failures_total",
			Help:      "Failed ledger operations, by operation and error kind.",
		}, []string{"operation", "kind"}),
		eventPublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_failures_total",
			Help:      "Domain events that could not be published after commit.",
		}),
	}
	reg.MustRegister(
		m.loansOpened,
		m.loansPaidOff,
		m.paymentsRecorded,
		m.operationFailures,
		m.eventPublishFailures,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format. A nil
// *Metrics serves 404.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) LoanOpened() {
	if m == nil {
		return
	}
	m.loansOpened.Inc()
}

func (m *Metrics) PaymentRecorded(paymentType string, paidOff bool) {
	if m == nil {
		return
	}
	m.paymentsRecorded.WithLabelValues(paymentType).Inc()
	if paidOff {
		m.loansPaidOff.Inc()
	}
}

func (m *Metrics) OperationFailed(operation, kind string) {
	if m == nil {
		return
	}
	m.operationFailures.WithLabelValues(operation, kind).Inc()
}

func (m *Metrics) EventPublishFailed() {
	if m == nil {
		return
	}
	m.eventPublishFailures.Inc()
}
