package schema

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SchemaLoads tracks schema load attempts by result
	SchemaLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "userdata_schema_loads_total",
			Help: "Total number of schema definition load attempts",
		},
		[]string{"result"}, // "success", "failure"
	)
)
