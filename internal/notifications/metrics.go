package notifications

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "eventnotify"

var (
	notificationsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "stored",
			Help:      "Number of stored notifications by status",
		},
		[]string{"status"},
	)

	notificationsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "created_total",
			Help:      "Total notifications created",
		},
	)

	eventsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "events_created_total",
			Help:      "Total notification events created",
		},
	)

	polls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "polling",
			Name:      "requests_total",
			Help:      "Total aggregated polling requests by outcome",
		},
		[]string{"outcome"},
	)

	setsDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "polling",
			Name:      "sets_delivered_total",
			Help:      "Total signed notifications returned by polling",
		},
	)

	realtimeDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "deliveries_total",
			Help:      "Total realtime deliveries by result",
		},
		[]string{"result"},
	)

	realtimeSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "send_duration_seconds",
			Help:      "Time to post a notification to a callback URL",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)
)

func recordNotificationCreated(events int) {
	notificationsCreated.Inc()
	eventsCreated.Add(float64(events))
}

func recordPoll(outcome string) {
	polls.WithLabelValues(outcome).Inc()
}

func recordSetsDelivered(count int) {
	setsDelivered.Add(float64(count))
}

func recordRealtimeDelivery(result string) {
	realtimeDeliveries.WithLabelValues(result).Inc()
}

func recordRealtimeSendDuration(d time.Duration) {
	realtimeSendDuration.Observe(d.Seconds())
}

// RecordQueueStats updates stored notification gauges.
func RecordQueueStats(stats *QueueStats) {
	notificationsByStatus.WithLabelValues("open").Set(float64(stats.Open))
	notificationsByStatus.WithLabelValues("ack").Set(float64(stats.Ack))
	notificationsByStatus.WithLabelValues("error").Set(float64(stats.Error))
}
