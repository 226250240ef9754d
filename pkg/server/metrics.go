package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the server. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Connection metrics
	activeConnections   prometheus.Gauge
	connectionsAccepted prometheus.Counter
	connectionsRejected prometheus.Counter
	authenticated       prometheus.Gauge
	kicks               prometheus.Counter

	// Frame metrics
	framesReceived  *prometheus.CounterVec // by command
	responsesSent   *prometheus.CounterVec // by status
	malformedFrames prometheus.Counter

	// Delivery metrics
	messagesStored    *prometheus.CounterVec // by kind
	pushesDelivered   *prometheus.CounterVec // by kind
	deliveryBatchSize prometheus.Histogram
	deliveryDuration  prometheus.Histogram

	// Persistence metrics
	persistenceErrors *prometheus.CounterVec // by operation
}

// NewMetrics creates the server metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "framechat_active_connections",
			Help: "Current number of open client connections",
		}),
		connectionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "framechat_connections_accepted_total",
			Help: "Total number of accepted client connections",
		}),
		connectionsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "framechat_connections_rejected_total",
			Help: "Total number of connections refused by the per-IP limit or during shutdown",
		}),
		authenticated: factory.NewGauge(prometheus.GaugeOpts{
			Name: "framechat_authenticated_sessions",
			Help: "Current number of signed-in connections",
		}),
		kicks: factory.NewCounter(prometheus.CounterOpts{
			Name: "framechat_kicks_total",
			Help: "Total number of connections terminated from the console",
		}),
		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "framechat_frames_received_total",
			Help: "Total number of request frames received by command",
		}, []string{"command"}),
		responsesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "framechat_responses_sent_total",
			Help: "Total number of response frames sent by status",
		}, []string{"status"}),
		malformedFrames: factory.NewCounter(prometheus.CounterOpts{
			Name: "framechat_malformed_frames_total",
			Help: "Total number of frames that could not be parsed",
		}),
		messagesStored: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "framechat_messages_stored_total",
			Help: "Total number of chat messages persisted by kind",
		}, []string{"kind"}),
		pushesDelivered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "framechat_pushes_delivered_total",
			Help: "Total number of push frames written to clients by kind",
		}, []string{"kind"}),
		deliveryBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "framechat_delivery_batch_size",
			Help:    "Number of pending messages found by one delivery poll",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
		}),
		deliveryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "framechat_delivery_duration_seconds",
			Help:    "Time taken by one non-empty delivery poll",
			Buckets: prometheus.DefBuckets,
		}),
		persistenceErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "framechat_persistence_errors_total",
			Help: "Total number of failed persistence operations by operation",
		}, []string{"op"}),
	}
}

// RecordConnectionOpened increments the open connection gauge
func (m *Metrics) RecordConnectionOpened() {
	if m == nil {
		return
	}
	m.activeConnections.Inc()
	m.connectionsAccepted.Inc()
}

// RecordConnectionClosed decrements the open connection gauge
func (m *Metrics) RecordConnectionClosed() {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
}

// RecordConnectionRejected counts a refused connection
func (m *Metrics) RecordConnectionRejected() {
	if m == nil {
		return
	}
	m.connectionsRejected.Inc()
}

// RecordSignin increments the authenticated gauge
func (m *Metrics) RecordSignin() {
	if m == nil {
		return
	}
	m.authenticated.Inc()
}

// RecordSignout decrements the authenticated gauge
func (m *Metrics) RecordSignout() {
	if m == nil {
		return
	}
	m.authenticated.Dec()
}

// RecordKick counts a console kick
func (m *Metrics) RecordKick() {
	if m == nil {
		return
	}
	m.kicks.Inc()
}

// RecordFrameReceived counts a parsed request
func (m *Metrics) RecordFrameReceived(command string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(command).Inc()
}

// RecordResponseSent counts a response by status
func (m *Metrics) RecordResponseSent(status string) {
	if m == nil {
		return
	}
	m.responsesSent.WithLabelValues(status).Inc()
}

// RecordMalformedFrame counts a frame that failed to parse
func (m *Metrics) RecordMalformedFrame() {
	if m == nil {
		return
	}
	m.malformedFrames.Inc()
}

// RecordMessageStored counts a persisted chat message
func (m *Metrics) RecordMessageStored(kind string) {
	if m == nil {
		return
	}
	m.messagesStored.WithLabelValues(kind).Inc()
}

// RecordPushDelivered counts a push written to a client
func (m *Metrics) RecordPushDelivered(kind string) {
	if m == nil {
		return
	}
	m.pushesDelivered.WithLabelValues(kind).Inc()
}

// RecordDelivery records the size and duration of one delivery poll
func (m *Metrics) RecordDelivery(batch int, durationSeconds float64) {
	if m == nil {
		return
	}
	m.deliveryBatchSize.Observe(float64(batch))
	m.deliveryDuration.Observe(durationSeconds)
}

// RecordPersistenceError counts a failed store call
func (m *Metrics) RecordPersistenceError(op string) {
	if m == nil {
		return
	}
	m.persistenceErrors.WithLabelValues(op).Inc()
}
