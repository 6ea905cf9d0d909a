package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	reg prometheus.Registerer

	// Latency: время AuthorizeAndSettle / ResolveApproval до ответа
	RequestDuration *prometheus.HistogramVec

	// Traffic: исходы платежей (completed, pending_approval, rejected, expired, failed)
	Payments *prometheus.CounterVec

	// Errors: отказы по стабильному коду
	ErrorTotal *prometheus.CounterVec

	// Объем расчетов в единицах валюты
	SettledAmount *prometheus.CounterVec

	// Step-up: созданные и разрешенные запросы подтверждения
	Approvals *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentpay_request_duration_seconds",
			Help:    "Histogram of payment request latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"operation", "outcome"}),

		Payments: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agentpay_payments_total",
			Help: "Total number of payment outcomes.",
		}, []string{"outcome", "mode"}),

		ErrorTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agentpay_errors_total",
			Help: "Total number of engine errors by code.",
		}, []string{"code", "kind"}),

		SettledAmount: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agentpay_settled_amount_total",
			Help: "Settled amount in currency units.",
		}, []string{"currency", "mode"}),

		Approvals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agentpay_approvals_total",
			Help: "Step-up approval requests by resulting status.",
		}, []string{"status"}),
	}
}

// ObserveBreaker — состояние Circuit Breaker леджера (0 - closed, 1 - half-open, 2 - open).
func (m *Metrics) ObserveBreaker(name string, state func() string) {
	promauto.With(m.reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "agentpay_circuit_breaker_state",
		Help:        "Current state of the ledger circuit breaker (0=closed, 1=half-open, 2=open).",
		ConstLabels: prometheus.Labels{"ledger": name},
	}, func() float64 {
		switch state() {
		case "open":
			return 2
		case "half-open":
			return 1
		}
		return 0
	})
}

// ObserveEventBuffer — заполненность буфера журнала событий (backpressure).
func (m *Metrics) ObserveEventBuffer(size func() int) {
	promauto.With(m.reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "agentpay_event_buffer_utilization",
		Help: "Current number of events waiting in the journal buffer.",
	}, func() float64 { return float64(size()) })
}
