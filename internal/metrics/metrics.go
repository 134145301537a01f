// Package metrics exposes Prometheus counters and gauges for the call
// orchestration engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "call_active_sessions",
		Help: "Current number of active call sessions",
	})

	CallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_sessions_total",
		Help: "Total number of call sessions by terminal outcome",
	}, []string{"outcome"})

	EventsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "call_events_published_total",
		Help: "Total number of transcript events published to the bus",
	})

	SubscribersDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "call_bus_subscribers_dropped_total",
		Help: "Dashboard subscribers disconnected for falling behind",
	})

	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_audio_frames_dropped_total",
		Help: "Audio frames dropped by a saturated jitter buffer",
	}, []string{"direction"})

	BookingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_bookings_total",
		Help: "Booking flow outcomes",
	}, []string{"status"})

	AdapterFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_adapter_failures_total",
		Help: "Adapter call failures after retry, by adapter",
	}, []string{"adapter"})
)
