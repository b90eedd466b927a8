// Package metrics holds the storefront's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storefront"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	cartMutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cart",
			Name:      "mutations_total",
			Help:      "Cart mutations that changed state, by operation.",
		},
		[]string{"op"},
	)

	cartPersistence = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cart",
			Name:      "persistence_failures_total",
			Help:      "Cart load/save failures absorbed by the persistence adapter.",
		},
		[]string{"op"},
	)

	cartsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cart",
			Name:      "open_stores",
			Help:      "Number of device carts held in memory.",
		},
	)

	checkoutOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "outcomes_total",
			Help:      "Checkout attempts by outcome.",
		},
		[]string{"outcome"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "route"},
	)
)

func init() {
	Registry.MustRegister(
		cartMutations,
		cartPersistence,
		cartsOpen,
		checkoutOutcomes,
		httpRequests,
		httpDuration,
	)
}

func RecordCartMutation(op string) {
	cartMutations.WithLabelValues(op).Inc()
}

func RecordCartPersistenceFailure(op string) {
	cartPersistence.WithLabelValues(op).Inc()
}

func SetOpenCarts(n int) {
	cartsOpen.Set(float64(n))
}

func RecordCheckout(outcome string) {
	checkoutOutcomes.WithLabelValues(outcome).Inc()
}

func RecordHTTPRequest(method, route string, status int, elapsed time.Duration) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
