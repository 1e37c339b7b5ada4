package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// BotMetrics holds operational metrics using OTEL semantic conventions
type BotMetrics struct {
	invocations  metric.Int64Counter
	awsCalls     metric.Int64Counter
	cacheLookups metric.Int64Counter
	queueDepth   metric.Int64UpDownCounter
	dropped      metric.Int64Counter
}

// NewBotMetrics creates command-path metrics
func NewBotMetrics() (*BotMetrics, error) {
	meter := otel.Meter("opsbot")

	invocations, err := meter.Int64Counter(
		"opsbot.commands",
		metric.WithDescription("Number of chat command invocations"),
		metric.WithUnit("{command}"),
	)
	if err != nil {
		return nil, err
	}

	awsCalls, err := meter.Int64Counter(
		"opsbot.aws.calls",
		metric.WithDescription("Number of AWS control-plane calls issued"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	cacheLookups, err := meter.Int64Counter(
		"opsbot.cache.lookups",
		metric.WithDescription("Cache lookups by hit/miss"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	queueDepth, err := meter.Int64UpDownCounter(
		"opsbot.queue.depth",
		metric.WithDescription("Commands waiting in the work queue"),
		metric.WithUnit("{command}"),
	)
	if err != nil {
		return nil, err
	}

	dropped, err := meter.Int64Counter(
		"opsbot.queue.dropped",
		metric.WithDescription("Commands dropped because the queue was full"),
		metric.WithUnit("{command}"),
	)
	if err != nil {
		return nil, err
	}

	return &BotMetrics{
		invocations:  invocations,
		awsCalls:     awsCalls,
		cacheLookups: cacheLookups,
		queueDepth:   queueDepth,
		dropped:      dropped,
	}, nil
}

// RecordInvocation records one handled command with its outcome
func (m *BotMetrics) RecordInvocation(ctx context.Context, command, outcome string) {
	if m == nil {
		return
	}
	m.invocations.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("command", command),
			attribute.String("outcome", outcome),
		))
}

// RecordAWSCall records one upstream call
func (m *BotMetrics) RecordAWSCall(ctx context.Context, service, operation, outcome string) {
	if m == nil {
		return
	}
	m.awsCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("service", service),
			attribute.String("operation", operation),
			attribute.String("outcome", outcome),
		))
}

// RecordCacheLookup records a cache hit or miss
func (m *BotMetrics) RecordCacheLookup(ctx context.Context, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// QueueEnter and QueueLeave track work queue depth
func (m *BotMetrics) QueueEnter(ctx context.Context) {
	if m == nil {
		return
	}
	m.queueDepth.Add(ctx, 1)
}

func (m *BotMetrics) QueueLeave(ctx context.Context) {
	if m == nil {
		return
	}
	m.queueDepth.Add(ctx, -1)
}

// RecordDrop records a queue-full drop
func (m *BotMetrics) RecordDrop(ctx context.Context) {
	if m == nil {
		return
	}
	m.dropped.Add(ctx, 1)
}
