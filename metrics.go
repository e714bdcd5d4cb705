package main

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	claimCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "claims",
		Help: "The total number of claim attempts",
	})
	unlockCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "unlocks",
		Help: "The total number of claims resolving to unlocked",
	})
	rejectionCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "receipt_rejections",
		Help: "The total number of rejected receipts by reason",
	}, []string{"reason"})
	priceMismatchCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "price_hint_mismatches",
		Help: "The total number of price hints disagreeing with the stored price",
	})
	relayFailureCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_failures",
		Help: "The total number of claims failed because no relay answered",
	})
	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "http_response_duration_seconds",
		Help: "Latency of requests in second.",
	}, []string{"path"})
)

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := prometheus.NewTimer(httpDuration.WithLabelValues(r.URL.Path))

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		timer.ObserveDuration()
	})
}
