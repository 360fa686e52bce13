package mcpd

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var crashRestarts = promauto.NewCounter(prometheus.CounterOpts{
	Name: "mcpd_crash_restarts_total",
	Help: "Total times a supervised server was restarted after crashing.",
})

func mountMetrics(r chi.Router) {
	r.Handle("/metrics", promhttp.Handler())
}
