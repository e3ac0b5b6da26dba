package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "salonbook"

var (
	once sync.Once

	lockAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_lock_attempts_total",
			Help:      "Slot lock attempts by result (granted, already_locked, already_booked, error).",
		},
		[]string{"result"},
	)

	lockReleases = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_lock_releases_total",
			Help:      "Slot lock releases by trigger.",
		},
		[]string{"trigger"},
	)

	lockDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "slot_lock_duration_seconds",
			Help:      "Time spent in the store's atomic lock operation.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
	)

	bookings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_total",
			Help:      "Booking attempts by outcome reason (ok or a failure reason).",
		},
		[]string{"result"},
	)

	compensations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_compensations_total",
			Help:      "Compensating actions run after a failed booking step.",
		},
		[]string{"step"},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_status_transitions_total",
			Help:      "Status transition attempts by target status and result.",
		},
		[]string{"to", "result"},
	)

	availabilityCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "availability_cache_total",
			Help:      "Availability cache lookups by result (hit, miss, bypass).",
		},
		[]string{"result"},
	)

	availabilityRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "availability_read_retries_total",
			Help:      "Retried availability reads after transient errors.",
		},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries by kind and result.",
		},
		[]string{"kind", "result"},
	)

	notificationQueue = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "notification_queue_size",
			Help:      "Notifications waiting for a worker.",
		},
	)

	changeEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "change_events_total",
			Help:      "Change events by sink and result.",
		},
		[]string{"sink", "result"},
	)

	selectionInvalidated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "selection_invalidated_total",
			Help:      "Live views whose selected slot was taken by someone else.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP API requests by route.",
		},
		[]string{"route"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			lockAttempts, lockReleases, lockDuration,
			bookings, compensations, transitions,
			availabilityCache, availabilityRetries,
			notifications, notificationQueue,
			changeEvents, selectionInvalidated, httpRequests,
		)
	})
}

func IncLockAttempt(result string) {
	lockAttempts.WithLabelValues(result).Inc()
}

func IncLockRelease(trigger string) {
	lockReleases.WithLabelValues(trigger).Inc()
}

func ObserveLockDuration(d time.Duration) {
	lockDuration.Observe(d.Seconds())
}

func IncBooking(result string) {
	bookings.WithLabelValues(result).Inc()
}

func IncCompensation(step string) {
	compensations.WithLabelValues(step).Inc()
}

func IncTransition(to, result string) {
	transitions.WithLabelValues(to, result).Inc()
}

func IncAvailabilityCache(result string) {
	availabilityCache.WithLabelValues(result).Inc()
}

func IncAvailabilityRetry() {
	availabilityRetries.Inc()
}

func IncNotification(kind, result string) {
	notifications.WithLabelValues(kind, result).Inc()
}

func SetNotificationQueue(n int) {
	notificationQueue.Set(float64(n))
}

func IncChangeEvent(sink, result string) {
	changeEvents.WithLabelValues(sink, result).Inc()
}

func IncSelectionInvalidated() {
	selectionInvalidated.Inc()
}

func IncHTTP(route string) {
	httpRequests.WithLabelValues(route).Inc()
}
