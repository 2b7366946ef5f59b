package server

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the server
type Metrics struct {
	// Session metrics
	activeSessions       prometheus.Gauge
	sessionsCreated      prometheus.Counter
	sessionsDisconnected prometheus.Counter

	// Message type metrics
	messagesReceived *prometheus.CounterVec // by message type
	messagesSent     *prometheus.CounterVec // by event type

	// Broadcast metrics
	broadcastFanout *prometheus.HistogramVec

	// Presence metrics
	roomOnline       *prometheus.GaugeVec
	presenceFailures prometheus.Counter

	// Intimacy metrics
	intimacyStarts prometheus.Counter
	intimacyResets prometheus.Counter
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		activeSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "huddle_active_sessions",
				Help: "Current number of live connections",
			},
		),
		sessionsCreated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "huddle_sessions_created_total",
				Help: "Total number of sessions created",
			},
		),
		sessionsDisconnected: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "huddle_sessions_disconnected_total",
				Help: "Total number of sessions disconnected",
			},
		),
		messagesReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "huddle_messages_received_total",
				Help: "Total number of messages received from clients by type",
			},
			[]string{"type"},
		),
		messagesSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "huddle_messages_sent_total",
				Help: "Total number of events sent to clients by type",
			},
			[]string{"type"},
		),
		broadcastFanout: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "huddle_broadcast_fanout",
				Help:    "Number of connections that received each broadcast event",
				Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
			},
			[]string{"type"},
		),
		roomOnline: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "huddle_room_online_users",
				Help: "Distinct online users per room",
			},
			[]string{"room_id"},
		),
		presenceFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "huddle_presence_store_failures_total",
				Help: "Total number of failed shared presence store calls",
			},
		),
		intimacyStarts: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "huddle_intimacy_starts_total",
				Help: "Total number of intimacy windows opened",
			},
		),
		intimacyResets: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "huddle_intimacy_resets_total",
				Help: "Total number of intimacy windows torn down",
			},
		),
	}
}

// RecordActiveSessions updates the live connection count
func (m *Metrics) RecordActiveSessions(count int) {
	m.activeSessions.Set(float64(count))
}

// RecordSessionCreated increments the session creation counter
func (m *Metrics) RecordSessionCreated() {
	m.sessionsCreated.Inc()
}

// RecordSessionDisconnected increments the session disconnection counter
func (m *Metrics) RecordSessionDisconnected() {
	m.sessionsDisconnected.Inc()
}

// RecordMessageReceived increments the message received counter for a type
func (m *Metrics) RecordMessageReceived(messageType string) {
	m.messagesReceived.WithLabelValues(messageType).Inc()
}

// RecordMessageSent increments the event sent counter for a type
func (m *Metrics) RecordMessageSent(eventType string) {
	m.messagesSent.WithLabelValues(eventType).Inc()
}

// RecordBroadcastFanout records how many connections received a broadcast
func (m *Metrics) RecordBroadcastFanout(eventType string, recipientCount int) {
	m.broadcastFanout.WithLabelValues(eventType).Observe(float64(recipientCount))
}

// RecordRoomOnline updates the distinct-user gauge for a room
func (m *Metrics) RecordRoomOnline(roomID int64, count int) {
	m.roomOnline.WithLabelValues(strconv.FormatInt(roomID, 10)).Set(float64(count))
}

// RecordPresenceFailure increments the presence store failure counter
func (m *Metrics) RecordPresenceFailure() {
	m.presenceFailures.Inc()
}

// RecordIntimacyStart increments the intimacy activation counter
func (m *Metrics) RecordIntimacyStart() {
	m.intimacyStarts.Inc()
}

// RecordIntimacyReset increments the intimacy teardown counter
func (m *Metrics) RecordIntimacyReset() {
	m.intimacyResets.Inc()
}
