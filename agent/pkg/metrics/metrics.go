package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lakeql_workflow_turns_total",
			Help: "Total number of conversation turns by final status",
		},
		[]string{"status"},
	)

	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lakeql_workflow_turn_duration_seconds",
			Help:    "Duration of conversation turns in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"status"},
	)

	NodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lakeql_workflow_node_duration_seconds",
			Help:    "Duration of workflow node executions in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"node"},
	)

	NodeErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lakeql_workflow_node_errors_total",
			Help: "Total number of workflow node failures recovered by the engine",
		},
		[]string{"node"},
	)

	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lakeql_workflow_retries_total",
			Help: "Total number of fix attempts by failure kind",
		},
		[]string{"kind"},
	)

	ValidationRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lakeql_validator_rejections_total",
			Help: "Total number of queries rejected by the validator by kind",
		},
		[]string{"kind"},
	)

	DatasourceQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lakeql_datasource_queries_total",
			Help: "Total number of data source queries",
		},
		[]string{"driver", "status"},
	)

	DatasourceQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lakeql_datasource_query_duration_seconds",
			Help:    "Duration of data source queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"driver"},
	)

	RedactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lakeql_redactions_total",
			Help: "Total number of personal data values masked in query results by kind",
		},
		[]string{"kind"},
	)

	AnthropicRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lakeql_anthropic_requests_total",
			Help: "Total number of Anthropic API requests",
		},
		[]string{"endpoint", "status"},
	)

	AnthropicRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lakeql_anthropic_request_duration_seconds",
			Help:    "Duration of Anthropic API requests in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"endpoint"},
	)

	AnthropicTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lakeql_anthropic_tokens_total",
			Help: "Total number of Anthropic tokens by direction",
		},
		[]string{"direction"},
	)
)

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordTurn records a completed turn.
func RecordTurn(status string, duration time.Duration) {
	TurnsTotal.WithLabelValues(status).Inc()
	TurnDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordNode records one node execution. Failed nodes also bump the error counter.
func RecordNode(node string, duration time.Duration, err error) {
	NodeDuration.WithLabelValues(node).Observe(duration.Seconds())
	if err != nil {
		NodeErrorsTotal.WithLabelValues(node).Inc()
	}
}

func RecordRetry(kind string) {
	RetriesTotal.WithLabelValues(kind).Inc()
}

func RecordRejection(kind string) {
	ValidationRejectionsTotal.WithLabelValues(kind).Inc()
}

// RecordDatasourceQuery records a query against the configured data source.
func RecordDatasourceQuery(driver string, duration time.Duration, err error) {
	DatasourceQueriesTotal.WithLabelValues(driver, statusLabel(err)).Inc()
	DatasourceQueryDuration.WithLabelValues(driver).Observe(duration.Seconds())
}

// RecordAnthropicRequest records an Anthropic API call.
func RecordAnthropicRequest(endpoint string, duration time.Duration, err error) {
	AnthropicRequestsTotal.WithLabelValues(endpoint, statusLabel(err)).Inc()
	AnthropicRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordAnthropicTokens records token usage of a completed request.
func RecordAnthropicTokens(input, output int64) {
	AnthropicTokensTotal.WithLabelValues("input").Add(float64(input))
	AnthropicTokensTotal.WithLabelValues("output").Add(float64(output))
}

func RecordRedactions(kind string, n int) {
	RedactionsTotal.WithLabelValues(kind).Add(float64(n))
}
