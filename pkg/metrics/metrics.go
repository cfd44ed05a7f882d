// Package metrics exposes the Prometheus metrics of the userdata client.
// All metrics are defined in their respective packages (client, schema,
// validators) to keep them next to the code that updates them.
//
// This package provides the registry, an HTTP handler, and the catalogue
// of metric names.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the Prometheus registry the client packages register with.
// All metrics are registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the counterpart of Registry used by Handler.
var Gatherer = prometheus.DefaultGatherer

// Metric names, by package.
//
// Request Metrics (pkg/client):
//   - userdata_requests_total{format, status} (Counter): Data requests by format and HTTP status
//   - userdata_request_duration_seconds{format} (Histogram): Refresh duration by format
//   - userdata_payload_bytes{format, stage} (Histogram): Body size on the wire and after decoding
//   - userdata_errors_total{kind} (Counter): Failed refreshes by error kind
//   - userdata_not_modified_total (Counter): 304 Not Modified responses
//
// Validator Metrics (pkg/validators):
//   - userdata_conditional_requests_total (Counter): Requests sent with a non-empty precondition
//   - userdata_validator_updates_total{validator} (Counter): ETag / Last-Modified changes
//
// Schema Metrics (pkg/schema):
//   - userdata_schema_loads_total{result} (Counter): Schema load attempts by result
//
// Example Prometheus Queries:
//
//	# 304 Rate
//	rate(userdata_not_modified_total[5m]) / sum(rate(userdata_requests_total[5m]))
//
//	# Decode Failures
//	rate(userdata_errors_total{kind="decode"}[5m])
//
//	# P95 Refresh Latency per Format
//	histogram_quantile(0.95, sum by (le, format) (rate(userdata_request_duration_seconds_bucket[5m])))
//
//	# Compression Ratio
//	sum(rate(userdata_payload_bytes_sum{stage="wire"}[5m])) /
//	sum(rate(userdata_payload_bytes_sum{stage="decoded"}[5m]))
const (
	RequestsTotal           = "userdata_requests_total"
	RequestDurationSeconds  = "userdata_request_duration_seconds"
	PayloadBytes            = "userdata_payload_bytes"
	ErrorsTotal             = "userdata_errors_total"
	NotModifiedTotal        = "userdata_not_modified_total"
	ConditionalRequestsSent = "userdata_conditional_requests_total"
	ValidatorUpdatesTotal   = "userdata_validator_updates_total"
	SchemaLoadsTotal        = "userdata_schema_loads_total"
)

// Names returns every metric name in the catalogue.
func Names() []string {
	return []string{
		RequestsTotal,
		RequestDurationSeconds,
		PayloadBytes,
		ErrorsTotal,
		NotModifiedTotal,
		ConditionalRequestsSent,
		ValidatorUpdatesTotal,
		SchemaLoadsTotal,
	}
}

// Handler serves the gathered metrics in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}
