package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Connection metrics
var (
	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stubmail_connections_total",
			Help: "Total number of connections established",
		},
		[]string{"protocol"},
	)

	ConnectionsCurrent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stubmail_connections_current",
			Help: "Current number of active connections",
		},
		[]string{"protocol"},
	)

	AuthenticationAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stubmail_authentication_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"protocol", "result"},
	)

	IdleConnectionsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stubmail_imap_idle_connections_current",
			Help: "Current number of IMAP connections in IDLE",
		},
	)
)

// Command metrics
var (
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stubmail_commands_total",
			Help: "Total number of protocol commands processed",
		},
		[]string{"protocol", "command", "status"},
	)

	CommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stubmail_command_duration_seconds",
			Help:    "Duration of protocol commands in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0},
		},
		[]string{"protocol", "command"},
	)
)

// Store and delivery metrics
var (
	MessagesDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stubmail_messages_delivered_total",
			Help: "Total number of messages delivered to mailboxes",
		},
	)

	MessageSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stubmail_message_size_bytes",
			Help:    "Size distribution of delivered messages",
			Buckets: prometheus.ExponentialBuckets(256, 4, 10),
		},
	)

	MailboxesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stubmail_mailboxes_total",
			Help: "Total number of mailboxes",
		},
	)

	AccountsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stubmail_accounts_total",
			Help: "Total number of accounts",
		},
	)
)

// TrackCommand records one processed command with its outcome.
func TrackCommand(protocol, command string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	CommandsTotal.WithLabelValues(protocol, command, status).Inc()
}
