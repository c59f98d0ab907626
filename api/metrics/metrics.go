// Package metrics holds the Prometheus instruments of the billing API.
// Counters are registered on the default registry via promauto and exposed
// by the /metrics endpoint the server mounts.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Purchases counts successful course payments by course type.
	Purchases = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "purchases_total",
		Help:      "Successful course purchases by course type.",
	}, []string{"course_type"})

	// Deposits counts successful balance deposits.
	Deposits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "deposits_total",
		Help:      "Successful balance deposits.",
	})

	// PaymentFailures counts rejected payments by reason.
	PaymentFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "payment_failures_total",
		Help:      "Rejected course purchases by reason.",
	}, []string{"reason"})

	// ReportRuns counts background report executions by kind and outcome.
	ReportRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "report_runs_total",
		Help:      "Background report runs by kind and outcome.",
	}, []string{"kind", "outcome"})
)
