package metrics

import "github.com/prometheus/client_golang/prometheus"

// Outbox tracks the publisher loop.
type Outbox struct {
	published  *prometheus.CounterVec
	failed     *prometheus.CounterVec
	deadLetter *prometheus.CounterVec
}

func NewOutbox(reg prometheus.Registerer) *Outbox {
	if reg == nil {
		return &Outbox{}
	}
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_published_total",
		Help: "Outbox events published to Pub/Sub.",
	}, []string{"event_type"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_publish_failures_total",
		Help: "Outbox publish attempts that failed and will be retried.",
	}, []string{"event_type"})
	deadLetter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_dead_lettered_total",
		Help: "Outbox events moved to the DLQ, by reason.",
	}, []string{"event_type", "reason"})
	reg.MustRegister(published, failed, deadLetter)
	return &Outbox{published: published, failed: failed, deadLetter: deadLetter}
}

func (o *Outbox) IncPublished(eventType string) {
	if o == nil || o.published == nil {
		return
	}
	o.published.WithLabelValues(normalizeLabel(eventType)).Inc()
}

func (o *Outbox) IncFailed(eventType string) {
	if o == nil || o.failed == nil {
		return
	}
	o.failed.WithLabelValues(normalizeLabel(eventType)).Inc()
}

func (o *Outbox) IncDeadLettered(eventType, reason string) {
	if o == nil || o.deadLetter == nil {
		return
	}
	o.deadLetter.WithLabelValues(normalizeLabel(eventType), normalizeLabel(reason)).Inc()
}
