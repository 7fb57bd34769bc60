package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	MessagesConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "user_event_consumer_messages_consumed_total",
			Help: "Total number of messages handed to the consumer gateway.",
		},
		[]string{"topic"},
	)

	OffsetsCommittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "user_event_consumer_offsets_committed_total",
			Help: "Total number of offsets committed after successful processing.",
		},
		[]string{"topic"},
	)

	CommitFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "user_event_consumer_commit_failures_total",
			Help: "Total number of offset commits that failed.",
		},
		[]string{"topic"},
	)

	ProcessingFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "user_event_consumer_processing_failures_total",
			Help: "Total number of messages routed to failover by failure kind.",
		},
		[]string{"topic", "kind"}, // validation, handler
	)

	DeadLetterTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "user_event_consumer_deadletter_total",
			Help: "Total number of dead-letter publish attempts by status.",
		},
		[]string{"status"}, // published, failed
	)

	WebhookNotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "user_event_consumer_webhook_notifications_total",
			Help: "Total number of failure webhook notifications by status.",
		},
		[]string{"status"}, // sent, failed, skipped
	)
)

// Failure kinds and statuses used as label values.
const (
	KindValidation = "validation"
	KindHandler    = "handler"

	StatusPublished = "published"
	StatusSent      = "sent"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		MessagesConsumedTotal,
		OffsetsCommittedTotal,
		CommitFailuresTotal,
		ProcessingFailuresTotal,
		DeadLetterTotal,
		WebhookNotificationsTotal,
	)
}
