// Package metrics holds Konnect's Prometheus collectors. They register on the default registry
// and are scraped from /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "konnect_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "konnect_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "route"},
	)

	// Webhook pipeline
	WebhookMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "konnect_webhook_messages_total",
			Help: "Inbound webhook messages by outcome",
		},
		[]string{"result"}, // inserted, duplicate, invalid, failed
	)

	WebhookStatuses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "konnect_webhook_statuses_total",
			Help: "Webhook status events by outcome",
		},
		[]string{"result"}, // applied, unmatched, invalid, failed
	)

	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "konnect_messages_sent_total",
			Help: "Outbound messages created through the API",
		},
	)

	// Store
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "konnect_store_latency_seconds",
			Help:    "Message store operation latency",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25},
		},
		[]string{"driver", "op"},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "konnect_store_errors_total",
			Help: "Message store operation errors",
		},
		[]string{"driver", "op"},
	)

	// Live channel
	LiveClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "konnect_live_clients",
			Help: "Currently connected live clients",
		},
	)

	LiveEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "konnect_live_events_total",
			Help: "Live events per subscriber by outcome",
		},
		[]string{"result"}, // delivered, dropped
	)
)
