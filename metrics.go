package pawchat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the client's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	ConnectAttempts  prometheus.Counter
	Reconnects       prometheus.Counter
	StateTransitions *prometheus.CounterVec
	ConnectionState  prometheus.Gauge
	MessagesReceived prometheus.Counter
	MessagesSent     prometheus.Counter
	SendFailures     *prometheus.CounterVec
	HistoryPages     *prometheus.CounterVec
	ReadReceipts     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ConnectAttempts: f.NewCounter(prometheus.CounterOpts{
			Name: "pawchat_connect_attempts_total",
			Help: "Total bus connection attempts",
		}),
		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "pawchat_reconnects_scheduled_total",
			Help: "Total reconnect attempts scheduled after a failure",
		}),
		StateTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pawchat_connection_state_transitions_total",
				Help: "Connection state transitions by target state",
			},
			[]string{"state"},
		),
		ConnectionState: f.NewGauge(prometheus.GaugeOpts{
			Name: "pawchat_connection_state",
			Help: "Current connection state (0 disconnected, 1 connecting, 2 connected, 3 erroring)",
		}),
		MessagesReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "pawchat_messages_received_total",
			Help: "Total live messages delivered to rooms",
		}),
		MessagesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "pawchat_messages_sent_total",
			Help: "Total messages published",
		}),
		SendFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pawchat_send_failures_total",
				Help: "Rejected or failed sends by reason",
			},
			[]string{"reason"}, // "validation", "connecting", "publish"
		),
		HistoryPages: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pawchat_history_pages_total",
				Help: "History page fetches by result",
			},
			[]string{"result"}, // "ok", "error", "discarded"
		),
		ReadReceipts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pawchat_read_receipts_total",
				Help: "Read acknowledgements by result",
			},
			[]string{"result"},
		),
	}
}

var stateGaugeValues = map[ConnState]float64{
	StateDisconnected: 0,
	StateConnecting:   1,
	StateConnected:    2,
	StateErroring:     3,
}

func (m *Metrics) connectAttempt() {
	if m != nil {
		m.ConnectAttempts.Inc()
	}
}

func (m *Metrics) reconnectScheduled() {
	if m != nil {
		m.Reconnects.Inc()
	}
}

func (m *Metrics) stateChanged(s ConnState) {
	if m != nil {
		m.StateTransitions.WithLabelValues(string(s)).Inc()
		m.ConnectionState.Set(stateGaugeValues[s])
	}
}

func (m *Metrics) messageReceived() {
	if m != nil {
		m.MessagesReceived.Inc()
	}
}

func (m *Metrics) messageSent() {
	if m != nil {
		m.MessagesSent.Inc()
	}
}

func (m *Metrics) sendFailed(reason string) {
	if m != nil {
		m.SendFailures.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) historyPage(result string) {
	if m != nil {
		m.HistoryPages.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) readReceipt(result string) {
	if m != nil {
		m.ReadReceipts.WithLabelValues(result).Inc()
	}
}
