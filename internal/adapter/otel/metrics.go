package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/devkade/hackathon-starter"

// Metrics holds the conversation lifecycle instruments.
type Metrics struct {
	ConversationsStarted metric.Int64Counter
	MessagesDelivered    metric.Int64Counter
	SessionsFinished     metric.Int64Counter
	ProvisionFailures    metric.Int64Counter
	CleanupFailures      metric.Int64Counter
	ProvisionDuration    metric.Float64Histogram
}

// NewMetrics creates all metric instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error

	m.ConversationsStarted, err = meter.Int64Counter("starter.conversations.started",
		metric.WithDescription("Number of conversations created"))
	if err != nil {
		return nil, err
	}

	m.MessagesDelivered, err = meter.Int64Counter("starter.messages.delivered",
		metric.WithDescription("Number of user messages written to a sandbox"))
	if err != nil {
		return nil, err
	}

	m.SessionsFinished, err = meter.Int64Counter("starter.sessions.finished",
		metric.WithDescription("Number of agent sessions that reached a terminal status"))
	if err != nil {
		return nil, err
	}

	m.ProvisionFailures, err = meter.Int64Counter("starter.provision.failures",
		metric.WithDescription("Number of failed sandbox or volume provisioning attempts"))
	if err != nil {
		return nil, err
	}

	m.CleanupFailures, err = meter.Int64Counter("starter.cleanup.failures",
		metric.WithDescription("Number of sandbox terminations that failed and were ignored"))
	if err != nil {
		return nil, err
	}

	m.ProvisionDuration, err = meter.Float64Histogram("starter.provision.duration_seconds",
		metric.WithDescription("Time to provision a sandbox and deliver the first message"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordStarted counts a newly created conversation.
func (m *Metrics) RecordStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.ConversationsStarted.Add(ctx, 1)
}

// RecordDelivered counts one message written to a sandbox's stdin.
func (m *Metrics) RecordDelivered(ctx context.Context, resumed bool) {
	if m == nil {
		return
	}
	m.MessagesDelivered.Add(ctx, 1, metric.WithAttributes(attribute.Bool("resumed", resumed)))
}

// RecordFinished counts a terminal transition by status.
func (m *Metrics) RecordFinished(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.SessionsFinished.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordProvisionFailure counts a failed provisioning step ("volume", "sandbox", "stdin", "store").
func (m *Metrics) RecordProvisionFailure(ctx context.Context, stage string) {
	if m == nil {
		return
	}
	m.ProvisionFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordCleanupFailure counts a swallowed sandbox or volume cleanup error.
func (m *Metrics) RecordCleanupFailure(ctx context.Context) {
	if m == nil {
		return
	}
	m.CleanupFailures.Add(ctx, 1)
}

// RecordProvisionDuration records how long provisioning took.
func (m *Metrics) RecordProvisionDuration(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.ProvisionDuration.Record(ctx, d.Seconds())
}
