package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	GenerationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "itinerary_generations_total",
			Help: "Itinerary generation attempts by outcome",
		},
		[]string{"status"}, // ok|insufficient_credits|upstream_error|parse_error
	)

	LedgerTransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_transactions_total",
			Help: "Applied ledger transactions by type",
		},
		[]string{"type"}, // purchase|usage|refund
	)

	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhook_events_total",
			Help: "Payment webhook deliveries by outcome",
		},
		[]string{"outcome"}, // applied|duplicate|ignored|rejected|error
	)
)

// Handler serves the /metrics endpoint.
var Handler = promhttp.Handler

func Init() {
	prometheus.MustRegister(GenerationsTotal)
	prometheus.MustRegister(LedgerTransactionsTotal)
	prometheus.MustRegister(WebhookEventsTotal)
}
