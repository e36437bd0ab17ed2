package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the application
type Metrics struct {
	// Queue metrics
	QueueEnters   *prometheus.CounterVec
	QueueRejects  *prometheus.CounterVec
	QueueCancels  prometheus.Counter
	MatchesMade   *prometheus.CounterVec
	MatchAttempts *prometheus.CounterVec

	// Room metrics
	RoomsOpened  *prometheus.CounterVec
	RoomsClosed  *prometheus.CounterVec
	RoomDuration prometheus.Histogram
	MessagesSent *prometheus.CounterVec

	// Sweeper metrics
	SweepRuns    prometheus.Counter
	SweepDeletes *prometheus.CounterVec

	// WebSocket metrics
	WebSocketConnections prometheus.Gauge
}

var globalMetrics *Metrics

// InitMetrics initializes the Prometheus metrics on the default registry.
func InitMetrics() *Metrics {
	globalMetrics = NewMetrics(prometheus.DefaultRegisterer)
	return globalMetrics
}

// NewMetrics registers the metric set on the given registerer. Tests pass
// their own registry to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		QueueEnters: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "amayadori_queue_enter_total",
			Help: "Queue entries accepted, by queue key",
		}, []string{"queue_key"}),

		QueueRejects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "amayadori_queue_reject_total",
			Help: "Queue admissions rejected, by reason (cooldown, denied)",
		}, []string{"reason"}),

		QueueCancels: factory.NewCounter(prometheus.CounterOpts{
			Name: "amayadori_queue_cancel_total",
			Help: "Queue entries canceled by their owner",
		}),

		MatchesMade: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "amayadori_match_made_total",
			Help: "Successful pairings, by queue key",
		}, []string{"queue_key"}),

		MatchAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "amayadori_match_attempt_total",
			Help: "Pairing attempts, by outcome (paired, no_candidate, conflict, error)",
		}, []string{"outcome"}),

		RoomsOpened: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "amayadori_rooms_opened_total",
			Help: "Rooms opened, by kind (human, owner)",
		}, []string{"kind"}),

		RoomsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "amayadori_rooms_closed_total",
			Help: "Rooms closed, by reason",
		}, []string{"reason"}),

		RoomDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "amayadori_room_duration_seconds",
			Help:    "Room lifetime from open to close in seconds",
			Buckets: []float64{30, 60, 120, 300, 600, 1200, 1800, 3600, 7200, 10800},
		}),

		MessagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "amayadori_messages_total",
			Help: "Messages posted, by sender kind (human, owner, system)",
		}, []string{"sender"}),

		SweepRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "amayadori_sweep_runs_total",
			Help: "Sweeper runs started",
		}),

		SweepDeletes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "amayadori_sweep_deletes_total",
			Help: "Documents deleted by the sweeper, by collection",
		}, []string{"collection"}),

		WebSocketConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "amayadori_websocket_connections_active",
			Help: "Number of active WebSocket event streams",
		}),
	}
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	return globalMetrics
}
