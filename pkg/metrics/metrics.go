package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ActiveSessions tracks how many call sessions the registry holds.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "siprec_active_sessions",
		Help: "Number of call sessions currently held in the registry.",
	})

	// SignalingEvents counts lifecycle events by type.
	SignalingEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "siprec_signaling_events_total",
		Help: "Signaling events processed by the call lifecycle handler.",
	}, []string{"type"})

	// NotificationsDelivered counts successful observer deliveries.
	NotificationsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "siprec_notifications_delivered_total",
		Help: "Session-change notifications delivered to observers.",
	})

	// NotificationsFailed counts deliveries that failed and caused the
	// observer to be dropped.
	NotificationsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "siprec_notifications_failed_total",
		Help: "Session-change notification deliveries that failed.",
	})

	// NotificationsDropped counts events discarded because the handoff
	// queue between the signaling and delivery domains was full.
	NotificationsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "siprec_notifications_dropped_total",
		Help: "Session-change notifications dropped due to backpressure.",
	})

	// Subscribers tracks live observers across all agent keys.
	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "siprec_subscribers",
		Help: "Observers currently subscribed for session updates.",
	})
)

// Handler exposes the default prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
