package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	OrdersCreated     prometheus.Counter
	OrdersCancelled   prometheus.Counter
	StockConflicts    prometheus.Counter
	PaymentsInitiated prometheus.Counter
	PaymentsConfirmed prometheus.Counter
	PaymentsRefunded  prometheus.Counter
	OpDuration        *prometheus.HistogramVec
}

// New registers the checkout metrics on reg. Tests pass a fresh
// prometheus.NewRegistry to avoid duplicate registration across cases.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OrdersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "orders_created_total",
			Help:      "Orders successfully created.",
		}),
		OrdersCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "orders_cancelled_total",
			Help:      "Orders cancelled with stock restored.",
		}),
		StockConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "stock_conflicts_total",
			Help:      "Order creations rejected for insufficient stock.",
		}),
		PaymentsInitiated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "payments_initiated_total",
			Help:      "Payment intents created at the gateway.",
		}),
		PaymentsConfirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "payments_confirmed_total",
			Help:      "Payments confirmed and orders marked paid.",
		}),
		PaymentsRefunded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "payments_refunded_total",
			Help:      "Payments refunded through the gateway.",
		}),
		OpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "checkout",
			Name:      "operation_duration_seconds",
			Help:      "Latency of checkout operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	reg.MustRegister(
		m.OrdersCreated,
		m.OrdersCancelled,
		m.StockConflicts,
		m.PaymentsInitiated,
		m.PaymentsConfirmed,
		m.PaymentsRefunded,
		m.OpDuration,
	)

	return m
}

// ObserveOp records one operation's latency; use with defer.
func (m *Metrics) ObserveOp(operation string, start time.Time) {
	m.OpDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
