package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Compression outcomes recorded on shape.compression.* instruments.
const (
	OutcomeCompressed = "compressed"
	OutcomeFailed     = "failed"
)

var (
	metricsOnce              sync.Once
	metricsInitErr           error
	compressionCounter       metric.Int64Counter
	compressionBytesIn       metric.Int64Counter
	compressionBytesOut      metric.Int64Counter
	compressionRatioHist     metric.Float64Histogram
	compressionLatencyHist   metric.Float64Histogram
	serializationCounter     metric.Int64Counter
	serializationBytesHist   metric.Int64Histogram
	serializationOversized   metric.Int64Counter
	serializationLatencyHist metric.Float64Histogram
)

// CompressionMetrics captures the fields needed to record one codec run.
type CompressionMetrics struct {
	Algorithm       string
	Outcome         string
	OriginalBytes   int
	CompressedBytes int
	Duration        time.Duration
}

// RecordCompression emits counters and histograms describing a codec run.
func RecordCompression(ctx context.Context, m CompressionMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("compression.algorithm", m.Algorithm),
		attribute.String("compression.outcome", m.Outcome),
	)

	compressionCounter.Add(ctx, 1, attrs)
	compressionBytesIn.Add(ctx, int64(m.OriginalBytes), attrs)
	if m.Duration > 0 {
		compressionLatencyHist.Record(ctx, float64(m.Duration)/float64(time.Millisecond), attrs)
	}

	if m.Outcome != OutcomeCompressed {
		return
	}
	compressionBytesOut.Add(ctx, int64(m.CompressedBytes), attrs)
	if m.OriginalBytes > 0 {
		ratio := float64(m.OriginalBytes-m.CompressedBytes) / float64(m.OriginalBytes)
		compressionRatioHist.Record(ctx, ratio, attrs)
	}
}

// SerializationMetrics captures the fields needed to record one serialization.
type SerializationMetrics struct {
	Strategy  string
	Bytes     int
	Oversized bool
	Duration  time.Duration
}

// RecordSerialization emits metrics describing how a payload was serialized.
func RecordSerialization(ctx context.Context, m SerializationMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("serialization.strategy", m.Strategy))

	serializationCounter.Add(ctx, 1, attrs)
	serializationBytesHist.Record(ctx, int64(m.Bytes), attrs)
	if m.Oversized {
		serializationOversized.Add(ctx, 1, attrs)
	}
	if m.Duration > 0 {
		serializationLatencyHist.Record(ctx, float64(m.Duration)/float64(time.Millisecond), attrs)
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("polis.shape")

		compressionCounter, metricsInitErr = meter.Int64Counter(
			"shape.compression.runs_total",
			metric.WithDescription("Codec runs partitioned by algorithm and outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		compressionBytesIn, metricsInitErr = meter.Int64Counter(
			"shape.compression.bytes_in",
			metric.WithDescription("Bytes handed to the codec"),
			metric.WithUnit("By"),
		)
		if metricsInitErr != nil {
			return
		}

		compressionBytesOut, metricsInitErr = meter.Int64Counter(
			"shape.compression.bytes_out",
			metric.WithDescription("Bytes produced by successful codec runs"),
			metric.WithUnit("By"),
		)
		if metricsInitErr != nil {
			return
		}

		compressionRatioHist, metricsInitErr = meter.Float64Histogram(
			"shape.compression.ratio",
			metric.WithDescription("Fraction of bytes saved per successful codec run"),
			metric.WithUnit("1"),
		)
		if metricsInitErr != nil {
			return
		}

		compressionLatencyHist, metricsInitErr = meter.Float64Histogram(
			"shape.compression.duration_ms",
			metric.WithDescription("Observed codec latency"),
			metric.WithUnit("ms"),
		)
		if metricsInitErr != nil {
			return
		}

		serializationCounter, metricsInitErr = meter.Int64Counter(
			"shape.serialize.runs_total",
			metric.WithDescription("Serializations partitioned by strategy"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		serializationBytesHist, metricsInitErr = meter.Int64Histogram(
			"shape.serialize.bytes",
			metric.WithDescription("Estimated size of serialized payloads"),
			metric.WithUnit("By"),
		)
		if metricsInitErr != nil {
			return
		}

		serializationOversized, metricsInitErr = meter.Int64Counter(
			"shape.serialize.oversized_total",
			metric.WithDescription("Payloads above the configured response size limit"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		serializationLatencyHist, metricsInitErr = meter.Float64Histogram(
			"shape.serialize.duration_ms",
			metric.WithDescription("Observed serialization latency"),
			metric.WithUnit("ms"),
		)
	})

	return metricsInitErr
}
