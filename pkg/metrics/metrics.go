package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChannelConnectAttempts counts event channel handshakes by result (success|failure).
	ChannelConnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hrdash_channel_connect_attempts_total",
			Help: "Total number of event channel connection attempts",
		},
		[]string{"result"},
	)

	// ChannelState mirrors the channel state machine (0 disconnected, 1 connecting, 2 connected, 3 closed).
	ChannelState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hrdash_channel_state",
			Help: "Current event channel state",
		},
	)

	// ChannelEvents counts events received on the channel by type.
	ChannelEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hrdash_channel_events_total",
			Help: "Total number of events received from the event channel",
		},
		[]string{"type"},
	)

	// NotificationsUnread tracks the unread count of the most recently mutated feed.
	NotificationsUnread = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hrdash_notifications_unread",
			Help: "Unread notifications in the alert feed",
		},
	)

	// ChatTurns counts chat turns by outcome (ok|denied|failed|rejected|discarded).
	ChatTurns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hrdash_chat_turns_total",
			Help: "Total number of interview chat turns",
		},
		[]string{"result"},
	)

	// APILatency measures dev server HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hrdash_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
