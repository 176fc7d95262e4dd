package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arcadectl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"app", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "arcadectl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"app", "method", "path", "status"},
	)
	unitSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arcadectl",
			Subsystem: "arcade",
			Name:      "submissions_total",
			Help:      "Unit submissions by outcome.",
		},
		[]string{"outcome"},
	)
	unitsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "arcadectl",
			Subsystem: "arcade",
			Name:      "units_active",
			Help:      "Units currently in creating or running state.",
		},
	)
	unitsReaped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "arcadectl",
			Subsystem: "arcade",
			Name:      "units_reaped_total",
			Help:      "Units stopped by the idle reaper.",
		},
	)
	admissionInUse = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "arcadectl",
			Subsystem: "admission",
			Name:      "slots_in_use",
			Help:      "Admission slots currently held.",
		},
	)
	lobbyRegistrations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "arcadectl",
			Subsystem: "lobby",
			Name:      "registrations_total",
			Help:      "Room registration upserts.",
		},
	)
	lobbyHeartbeats = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arcadectl",
			Subsystem: "lobby",
			Name:      "heartbeats_total",
			Help:      "Room heartbeats by outcome.",
		},
		[]string{"outcome"},
	)
	lobbySwept = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "arcadectl",
			Subsystem: "lobby",
			Name:      "rooms_swept_total",
			Help:      "Stale room records removed by the sweeper.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			unitSubmissions, unitsActive, unitsReaped, admissionInUse,
			lobbyRegistrations, lobbyHeartbeats, lobbySwept,
		)
	})
}

func RecordHTTPRequest(app, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(app, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(app, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordSubmission(outcome string) {
	RegisterMetrics()
	unitSubmissions.WithLabelValues(outcome).Inc()
}

func SetUnitsActive(n int) {
	RegisterMetrics()
	unitsActive.Set(float64(n))
}

func RecordUnitReaped() {
	RegisterMetrics()
	unitsReaped.Inc()
}

func SetAdmissionInUse(n int) {
	RegisterMetrics()
	admissionInUse.Set(float64(n))
}

func RecordRegistration() {
	RegisterMetrics()
	lobbyRegistrations.Inc()
}

func RecordHeartbeat(outcome string) {
	RegisterMetrics()
	lobbyHeartbeats.WithLabelValues(outcome).Inc()
}

func RecordRoomsSwept(n int) {
	RegisterMetrics()
	lobbySwept.Add(float64(n))
}
