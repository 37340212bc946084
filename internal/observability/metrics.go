// Package observability records LLM call metrics. The process-wide instance is
// installed once at startup and read through Current(); all methods are
// nil-safe so call sites never have to guard.
package observability

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type Metrics struct {
	llmRequests     metric.Int64Counter
	llmDuration     metric.Float64Histogram
	llmInputTokens  metric.Int64Counter
	llmOutputTokens metric.Int64Counter
}

var current atomic.Pointer[Metrics]

func Current() *Metrics {
	return current.Load()
}

func SetCurrent(m *Metrics) {
	current.Store(m)
}

func New() (*Metrics, error) {
	meter := otel.Meter("postloom-backend")

	requests, err := meter.Int64Counter("llm.requests",
		metric.WithDescription("LLM provider requests by provider/operation/status"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("llm.request.duration",
		metric.WithDescription("LLM provider request duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	inTokens, err := meter.Int64Counter("llm.tokens.prompt",
		metric.WithDescription("Prompt tokens consumed"))
	if err != nil {
		return nil, err
	}
	outTokens, err := meter.Int64Counter("llm.tokens.completion",
		metric.WithDescription("Completion tokens produced"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		llmRequests:     requests,
		llmDuration:     duration,
		llmInputTokens:  inTokens,
		llmOutputTokens: outTokens,
	}, nil
}

func (m *Metrics) ObserveLLMRequest(provider, operation, status string, dur time.Duration, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("operation", operation),
		attribute.String("status", status),
	)
	m.llmRequests.Add(ctx, 1, attrs)
	m.llmDuration.Record(ctx, dur.Seconds(), attrs)
	if inputTokens > 0 {
		m.llmInputTokens.Add(ctx, int64(inputTokens), attrs)
	}
	if outputTokens > 0 {
		m.llmOutputTokens.Add(ctx, int64(outputTokens), attrs)
	}
}
