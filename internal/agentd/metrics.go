package agentd

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics mirrors the counters the teacher's internal/api/server.go
// exposes on its own /metrics endpoint, rescoped to ledger activity.
type Metrics struct {
	eventsAppended  prometheus.Counter
	memoryIngested  prometheus.Counter
	recallQueries   prometheus.Counter
	backupsCreated  prometheus.Counter
	ledgerVerifyErr prometheus.Counter
}

func newMetrics() *Metrics {
	return &Metrics{
		eventsAppended: promauto.NewCounter(prometheus.CounterOpts{
			Name: "agentd_events_appended_total",
			Help: "Total ledger events appended.",
		}),
		memoryIngested: promauto.NewCounter(prometheus.CounterOpts{
			Name: "agentd_memory_ingested_total",
			Help: "Total memory records ingested.",
		}),
		recallQueries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "agentd_recall_queries_total",
			Help: "Total /memory/recall queries served.",
		}),
		backupsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "agentd_backups_created_total",
			Help: "Total ledger backups created.",
		}),
		ledgerVerifyErr: promauto.NewCounter(prometheus.CounterOpts{
			Name: "agentd_ledger_broken_total",
			Help: "Total times verify-ledger has found a broken chain link.",
		}),
	}
}

func mountMetrics(mux interface {
	Handle(pattern string, handler http.Handler)
}) {
	mux.Handle("/metrics", promhttp.Handler())
}
