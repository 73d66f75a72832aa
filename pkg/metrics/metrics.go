package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Commit metrics
	CommitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratum_commits_total",
			Help: "Total number of commits by path and result",
		},
		[]string{"path", "result"},
	)

	CommitMergeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stratum_commit_merge_duration_seconds",
			Help:    "Time taken to merge a proposal into the current root in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReplayedEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratum_replayed_events_total",
			Help: "Total number of object log events replayed during merges by kind",
		},
		[]string{"kind"},
	)

	// Transaction metrics
	TransactionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stratum_transactions_active",
			Help: "Number of open transactions",
		},
	)

	ObjectsConstructed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stratum_objects_constructed_total",
			Help: "Total number of objects constructed",
		},
	)

	// Path metrics
	PathRootsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stratum_path_roots_total",
			Help: "Number of published roots per path",
		},
		[]string{"path"},
	)
)

func init() {
	prometheus.MustRegister(CommitsTotal)
	prometheus.MustRegister(CommitMergeDuration)
	prometheus.MustRegister(ReplayedEventsTotal)
	prometheus.MustRegister(TransactionsActive)
	prometheus.MustRegister(ObjectsConstructed)
	prometheus.MustRegister(PathRootsTotal)
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve starts a metrics HTTP server on the given address
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return http.ListenAndServe(addr, mux)
}
