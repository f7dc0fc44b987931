package obs

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce      sync.Once
	requestCounter   metric.Int64Counter
	latencyHistogram metric.Float64Histogram
	inputTokensHist  metric.Int64Histogram
	outputTokensHist metric.Int64Histogram
	totalTokensHist  metric.Int64Histogram
)

type meter interface {
	Int64Counter(string, ...metric.Int64CounterOption) (metric.Int64Counter, error)
	Float64Histogram(string, ...metric.Float64HistogramOption) (metric.Float64Histogram, error)
	Int64Histogram(string, ...metric.Int64HistogramOption) (metric.Int64Histogram, error)
}

func installMetrics(m meter) {
	metricsOnce.Do(func() {
		if m == nil {
			return
		}
		requestCounter, _ = m.Int64Counter("omni.requests", metric.WithDescription("Total orchestration requests"))
		latencyHistogram, _ = m.Float64Histogram("omni.request.latency_ms", metric.WithDescription("Provider call latency (ms)"))
		inputTokensHist, _ = m.Int64Histogram("omni.tokens.input", metric.WithDescription("Input tokens"))
		outputTokensHist, _ = m.Int64Histogram("omni.tokens.output", metric.WithDescription("Output tokens"))
		totalTokensHist, _ = m.Int64Histogram("omni.tokens.total", metric.WithDescription("Total tokens"))
	})
}

func recordRequest(attrs ...attribute.KeyValue) {
	if requestCounter != nil {
		requestCounter.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	}
}

func recordLatency(ms float64, attrs ...attribute.KeyValue) {
	if latencyHistogram != nil {
		latencyHistogram.Record(context.Background(), ms, metric.WithAttributes(attrs...))
	}
}

func recordUsage(usage UsageTokens, attrs ...attribute.KeyValue) {
	ctx := context.Background()
	if inputTokensHist != nil {
		inputTokensHist.Record(ctx, int64(usage.InputTokens), metric.WithAttributes(attrs...))
	}
	if outputTokensHist != nil {
		outputTokensHist.Record(ctx, int64(usage.OutputTokens), metric.WithAttributes(attrs...))
	}
	if totalTokensHist != nil {
		totalTokensHist.Record(ctx, int64(usage.TotalTokens), metric.WithAttributes(attrs...))
	}
}
