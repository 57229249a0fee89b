package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "kajabook"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern and status code.",
		},
		[]string{"route", "status"},
	)

	grpcRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_requests_total",
			Help:      "gRPC calls by full method and status code.",
		},
		[]string{"method", "code"},
	)

	reservations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservations_total",
			Help:      "Reservation attempts by outcome.",
		},
		[]string{"outcome"},
	)

	reservationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reservation_duration_seconds",
			Help:      "Time spent inside the locked reservation sequence.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	cancellations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cancellations_total",
			Help:      "Bookings moved to cancelled.",
		},
	)

	remindersSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_sent_total",
			Help:      "Reminders delivered by kind and recipient role.",
		},
		[]string{"kind", "role"},
	)

	typingUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "typing_updates_total",
			Help:      "Typing presence updates by role.",
		},
		[]string{"role"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, grpcRequests, reservations, reservationDuration, cancellations, remindersSent, typingUpdates)
	})
}

func IncHTTP(route string, status int) {
	httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

func IncGRPC(method, code string) {
	grpcRequests.WithLabelValues(method, code).Inc()
}

// ObserveReservation records one reserve call; outcome is "ok" or an error class.
func ObserveReservation(outcome string, took time.Duration) {
	reservations.WithLabelValues(outcome).Inc()
	reservationDuration.Observe(took.Seconds())
}

func IncCancellation() {
	cancellations.Inc()
}

func IncReminder(kind, role string) {
	remindersSent.WithLabelValues(kind, role).Inc()
}

func IncTyping(role string) {
	typingUpdates.WithLabelValues(role).Inc()
}
