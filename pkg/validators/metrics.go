package validators

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConditionalRequestsSent tracks requests that carried at least one validator
	ConditionalRequestsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "userdata_conditional_requests_total",
			Help: "Total number of data requests sent with a non-empty validator",
		},
	)

	// ValidatorUpdates tracks changes of stored validators
	ValidatorUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "userdata_validator_updates_total",
			Help: "Total number of stored validator changes",
		},
		[]string{"validator"}, // "etag", "last_modified"
	)
)
