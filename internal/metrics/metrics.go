// ABOUTME: Prometheus collectors for the chat core
// ABOUTME: Live connections, sent messages, notification outcomes, broadcast drops and state transitions

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LiveConnections tracks connections currently registered with the hub.
	LiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shopchat_live_connections",
			Help: "Number of live connections registered to a conversation",
		},
	)

	// LiveConversations tracks conversations with at least one live viewer.
	LiveConversations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shopchat_live_conversations",
			Help: "Number of conversations with at least one live connection",
		},
	)

	// MessagesSent counts persisted messages by type and sender role.
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopchat_messages_sent_total",
			Help: "Total number of messages persisted",
		},
		[]string{"type", "role"},
	)

	// BroadcastDeliveries counts live deliveries by outcome.
	BroadcastDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopchat_broadcast_deliveries_total",
			Help: "Total number of live message deliveries attempted",
		},
		[]string{"outcome"},
	)

	// Notifications counts push notifications by backend and outcome.
	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopchat_notifications_total",
			Help: "Total number of push notifications attempted",
		},
		[]string{"backend", "outcome"},
	)

	// StateTransitions counts conversation status changes.
	StateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopchat_conversation_transitions_total",
			Help: "Total number of conversation status transitions",
		},
		[]string{"from_state", "to_state"},
	)

	// AttachmentBytes tracks uploaded attachment sizes.
	AttachmentBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shopchat_attachment_bytes",
			Help:    "Size of uploaded attachments in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		},
	)
)

// RecordMessageSent increments the sent-message counter.
func RecordMessageSent(msgType, role string) {
	MessagesSent.WithLabelValues(msgType, role).Inc()
}

// RecordDelivery records one live delivery attempt. outcome is "sent" or "dropped".
func RecordDelivery(outcome string) {
	BroadcastDeliveries.WithLabelValues(outcome).Inc()
}

// RecordNotification records one push notification attempt.
func RecordNotification(backend string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	Notifications.WithLabelValues(backend, outcome).Inc()
}

// RecordTransition records a status change. Unchanged statuses are ignored.
func RecordTransition(from, to string) {
	if from == to {
		return
	}
	StateTransitions.WithLabelValues(from, to).Inc()
}
