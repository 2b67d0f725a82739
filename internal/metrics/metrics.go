package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "academia_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "academia_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	BookingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "academia_bookings_total",
			Help: "Total number of bookings by final status and credit source",
		},
		[]string{"status", "source"},
	)

	CreditsDebitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "academia_credits_debited_total",
			Help: "Total credits debited from wallets and subscriptions",
		},
	)

	CreditsExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "academia_credits_expired_total",
			Help: "Total credits forfeited by wallet expiry",
		},
	)

	XPGrantedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "academia_xp_granted_total",
			Help: "Total XP granted by source",
		},
		[]string{"source"},
	)

	XPConversionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "academia_xp_conversions_total",
			Help: "Total XP to credit conversions",
		},
	)

	CommissionEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "academia_commission_entries_total",
			Help: "Total commission entries by booking status",
		},
		[]string{"booking_status"},
	)

	PayoutBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "academia_payout_batches_total",
			Help: "Total payout batch transitions",
		},
		[]string{"status"},
	)

	DunningTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "academia_dunning_transitions_total",
			Help: "Total dunning state transitions",
		},
		[]string{"transition"},
	)

	SweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "academia_sweep_duration_seconds",
			Help:    "Duration of scheduled sweeps",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task"},
	)

	NotificationQueueLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "academia_notification_queue_length",
			Help: "Current length of the notification queue",
		},
	)

	NotificationsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "academia_notifications_sent_total",
			Help: "Total notifications by template and outcome",
		},
		[]string{"template", "status"},
	)
)

func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}
