package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	LedgerMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pocketmoney_ledger_mutations_total",
		Help: "Ledger mutations by kind and result",
	}, []string{"kind", "result"})

	LedgerDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pocketmoney_ledger_mutation_duration_seconds",
		Help:    "Time spent applying a ledger mutation, including retries",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})

	LedgerConflictRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pocketmoney_ledger_conflict_retries_total",
		Help: "Store transactions retried after a concurrency conflict",
	})

	ChoreTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pocketmoney_chore_transitions_total",
		Help: "Chore instance transitions by event and resulting status",
	}, []string{"event", "status"})

	ChoresGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pocketmoney_chores_generated_total",
		Help: "Chore instances created from recurring templates",
	})

	AllowancePayments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pocketmoney_allowance_payments_total",
		Help: "Weekly allowance attempts by result",
	}, []string{"result"})

	WorkerJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pocketmoney_worker_jobs_total",
		Help: "Background job runs by job and result",
	}, []string{"job", "result"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pocketmoney_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "route", "status"})

	HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pocketmoney_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"method", "route"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
