// Package metrics exposes Prometheus metrics the workers update during operation:
//
//	bot_orders_total{side,result}         orders submitted (side: buy|sell, result: placed|failed)
//	bot_cancellations_total{result}       sell-order cancellations (result: ok|failed)
//	bot_refresh_retries_total{collection} failed refresh attempts (balance|instruments|positions|limit_orders)
//	bot_cycles_total                      completed Control cycles
//	bot_shortlisted                       candidates shortlisted in the current cycle
//	bot_tracked_sell_orders               SystemLimitOrders tracked by the sell stage
//	bot_free_cash                         free cash after the last balance refresh
//
// They are registered in init() and served by Handler() at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	SideBuy  = "buy"
	SideSell = "sell"
)

var (
	orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_orders_total",
			Help: "Orders submitted to the broker",
		},
		[]string{"side", "result"},
	)

	cancellations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_cancellations_total",
			Help: "Sell order cancellations",
		},
		[]string{"result"},
	)

	refreshRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_refresh_retries_total",
			Help: "Failed shared state refresh attempts",
		},
		[]string{"collection"},
	)

	cycles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_cycles_total",
			Help: "Completed control cycles",
		},
	)

	shortlisted = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_shortlisted",
			Help: "Candidates shortlisted by the buy stage in the current cycle",
		},
	)

	trackedSells = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_tracked_sell_orders",
			Help: "Sell orders tracked by the escalation loop",
		},
	)

	freeCash = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_free_cash",
			Help: "Free cash after the last balance refresh",
		},
	)
)

func init() {
	prometheus.MustRegister(orders, cancellations, refreshRetries)
	prometheus.MustRegister(cycles, shortlisted, trackedSells, freeCash)
}

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }

func OrderPlaced(side string) { orders.WithLabelValues(side, "placed").Inc() }
func OrderFailed(side string) { orders.WithLabelValues(side, "failed").Inc() }

func Cancelled(ok bool) {
	if ok {
		cancellations.WithLabelValues("ok").Inc()
		return
	}
	cancellations.WithLabelValues("failed").Inc()
}

func RefreshRetry(collection string) { refreshRetries.WithLabelValues(collection).Inc() }
func CycleCompleted()                { cycles.Inc() }
func SetShortlisted(n int)           { shortlisted.Set(float64(n)) }
func SetTrackedSellOrders(n int)     { trackedSells.Set(float64(n)) }
func SetFreeCash(v float64)          { freeCash.Set(v) }
