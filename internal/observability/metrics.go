// Package observability provides metrics and tracing.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sokoni_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// DatabaseQueryLatency records database query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sokoni_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// StoriesCreated counts created stories by media type.
	StoriesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sokoni_stories_created_total",
		Help: "Total number of stories created",
	}, []string{"media_type"})

	// StoryViews counts view requests; outcome is "new" or "repeat".
	StoryViews = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sokoni_story_views_total",
		Help: "Total number of story view requests",
	}, []string{"outcome"})

	// StoryLikeToggles counts like toggles; action is "like" or "unlike".
	StoryLikeToggles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sokoni_story_like_toggles_total",
		Help: "Total number of story like toggles",
	}, []string{"action"})

	// StoriesExpired counts stories deactivated by the expiry sweep.
	StoriesExpired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sokoni_stories_expired_total",
		Help: "Total number of stories deactivated by the expiry sweep",
	}, []string{"trigger"})

	// StorySweepErrors counts failed expiry sweeps.
	StorySweepErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sokoni_story_sweep_errors_total",
		Help: "Total number of failed story expiry sweeps",
	}, []string{"trigger"})

	// FollowChanges counts follow graph mutations.
	FollowChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sokoni_follow_changes_total",
		Help: "Total number of follow and unfollow operations",
	}, []string{"action"})

	// FeedBuildLatency records feed assembly latency.
	FeedBuildLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sokoni_feed_build_latency_seconds",
		Help:    "Story feed assembly latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// NotificationsPublished counts notifications by type and delivery result.
	NotificationsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sokoni_notifications_published_total",
		Help: "Total number of notifications published",
	}, []string{"type", "result"})

	// OrderTransitions counts order lifecycle changes by resulting status.
	OrderTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sokoni_order_transitions_total",
		Help: "Total number of orders placed or moved to a new status",
	}, []string{"status"})

	// MessagesSent counts direct messages by type.
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sokoni_messages_sent_total",
		Help: "Total number of direct messages sent",
	}, []string{"type"})

	// WebSocketConnectionsTotal is the gauge of total WebSocket connections.
	WebSocketConnectionsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sokoni_websocket_connections_total",
		Help: "Total number of active WebSocket connections",
	})

	// WebSocketBackpressureDrops counts messages dropped due to backpressure by hub and reason.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sokoni_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"hub", "reason"})
)

// TrackQuery returns a function that records query latency when called (e.g. defer).
func TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}
