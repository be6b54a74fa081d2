package metrics

import "github.com/prometheus/client_golang/prometheus"

// Ingestion, clustering, ranking and research metrics.
var (
	FeedPollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_polls_total",
			Help:      "Feed polls by outcome",
		},
		[]string{"status"}, // "success" / "error"
	)

	FeedItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_items_total",
			Help:      "Feed items processed by outcome",
		},
		[]string{"result"}, // "stored" / "duplicate" / "skipped" / "error"
	)

	SourcesInactive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sources_inactive",
			Help:      "Sources deactivated after repeated failures",
		},
	)

	ClusterAssignmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cluster_assignments_total",
			Help:      "Article cluster assignments by decision",
		},
		[]string{"decision"}, // "joined" / "created" / "existing"
	)

	ClusterTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cluster_transitions_total",
			Help:      "Cluster status transitions by target status",
		},
		[]string{"status"},
	)

	FeedRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_requests_total",
			Help:      "Ranked feed requests by mode",
		},
		[]string{"mode"}, // "personalized" / "cold_start" / "degraded"
	)

	BlindSpotsServedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blind_spots_served_total",
			Help:      "Blind spot articles injected into feeds",
		},
	)

	ResearchLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "research_lookups_total",
			Help:      "Research analysis lookups by result",
		},
		[]string{"result"}, // "hit" / "generated" / "shared" / "error"
	)

	ResearchGenerationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "research_generation_duration_seconds",
			Help:      "Time to build context and generate one analysis",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60},
		},
	)

	JobRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Scheduled job runs by outcome",
		},
		[]string{"job", "status"}, // "success" / "error" / "skipped"
	)
)

var registered bool

// Register registers all engine metrics with the default registry. Must be called once from main.
func Register() {
	if registered {
		return
	}
	prometheus.MustRegister(
		ProviderRequestsTotal,
		ProviderRequestDuration,
		ProviderTokensTotal,
		ProviderErrorsTotal,
		EmbeddingCacheTotal,
		FeedPollsTotal,
		FeedItemsTotal,
		SourcesInactive,
		ClusterAssignmentsTotal,
		ClusterTransitionsTotal,
		FeedRequestsTotal,
		BlindSpotsServedTotal,
		ResearchLookupsTotal,
		ResearchGenerationDuration,
		JobRunsTotal,
	)
	registered = true
}
