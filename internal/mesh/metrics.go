package mesh

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	sessionsEstablished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mesh_sessions_established_total",
		Help: "Total handshakes (inbound or outbound) that completed successfully.",
	})
	invitesAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mesh_invites_accepted_total",
		Help: "Total invites redeemed into a paired peer.",
	})
)

func mountMetrics(r chi.Router) {
	r.Handle("/metrics", promhttp.Handler())
}
