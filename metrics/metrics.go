// Package metrics exposes the service's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Admissions counts admit requests by outcome
	// ("admitted", "queued", "replayed", "rejected", "error").
	Admissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curbside_admissions_total",
		Help: "Pipeline admission requests by outcome.",
	}, []string{"outcome"})

	// Consolidations counts consolidation checks by result
	// ("completed", "skipped", "contended").
	Consolidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curbside_consolidations_total",
		Help: "Consolidation attempts by result.",
	}, []string{"result"})

	// SSESubscribers gauges live subscribers per event channel.
	SSESubscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "curbside_sse_subscribers",
		Help: "Live SSE subscribers per channel.",
	}, []string{"channel"})

	// NotificationsReceived counts database change notifications seen by
	// the listener.
	NotificationsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curbside_notifications_received_total",
		Help: "Database change notifications received, per channel.",
	}, []string{"channel"})
)
