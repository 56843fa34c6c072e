package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Call signaling metrics for monitoring session lifecycle and event fan-out
var (
	// Session lifecycle metrics
	CallSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "call_sessions_active",
		Help: "Current number of live call sessions in the registry",
	})

	CallSessionsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_sessions_created_total",
		Help: "Total number of call sessions created",
	}, []string{"mode", "media"})

	CallSessionsAttachedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "call_sessions_attached_total",
		Help: "Total number of start requests attached to an existing session",
	})

	CallSessionsEndedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_sessions_ended_total",
		Help: "Total number of call sessions ended",
	}, []string{"reason"}) // "ended", "last_left", "reaped"

	CallSessionsReapedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "call_sessions_reaped_total",
		Help: "Total number of idle sessions removed by the sweeper",
	})

	// Signaling event metrics
	CallSignalEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_signal_events_total",
		Help: "Total number of signaling events processed",
	}, []string{"kind"})

	CallSignalDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_signal_dropped_total",
		Help: "Total number of signaling requests dropped as invalid",
	}, []string{"reason"})

	CallSynthesizedEndedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "call_synthesized_ended_total",
		Help: "Total number of synthesized call_ended events sent for missing sessions",
	})

	// Delivery metrics
	CallDeliverySentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_delivery_sent_total",
		Help: "Total number of events handed to the delivery gateway",
	}, []string{"route"}) // "user", "topic"

	CallDeliveryDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_delivery_dropped_total",
		Help: "Total number of events dropped at delivery",
	}, []string{"reason"})

	CallPushFallbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_push_fallback_total",
		Help: "Total number of push notifications sent for offline call recipients",
	}, []string{"status"})

	// WebSocket lifecycle metrics
	SignalWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signal_websocket_connections",
		Help: "Current number of active signaling WebSocket connections",
	})

	SignalWebSocketMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signal_websocket_messages_total",
		Help: "Total number of signaling WebSocket messages",
	}, []string{"direction"}) // "in" for received, "out" for sent

	SignalRedisSubscriptionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signal_redis_subscriptions_active",
		Help: "Current number of active Redis pub/sub subscriptions",
	})

	SignalRedisPublishErrorTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signal_redis_publish_error_total",
		Help: "Total number of failed Redis publishes",
	})
)
