package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-shape/pkg/domain"
)

// RecordOptimization annotates the span with the outcome of a response
// optimization. Payload contents are never attached.
func RecordOptimization(span trace.Span, strategy domain.SerializationStrategy, result domain.CompressionResult, warning domain.SizeWarning) {
	if span == nil || !span.IsRecording() {
		return
	}

	span.SetAttributes(
		attribute.String("shape.serialization.strategy", string(strategy)),
		attribute.Int("shape.original_size", result.OriginalSize),
		attribute.Bool("shape.compressed", result.Compressed),
	)

	if result.Compressed {
		span.SetAttributes(
			attribute.String("shape.compression.algorithm", result.Algorithm.String()),
			attribute.Int("shape.compressed_size", result.CompressedSize),
			attribute.Float64("shape.compression.ratio", result.Ratio),
		)
	}

	if result.Error != "" {
		span.AddEvent("shape.compression.failed", trace.WithAttributes(
			attribute.String("error.message", result.Error),
		))
	}

	if warning.Oversized {
		span.AddEvent("shape.response.oversized", trace.WithAttributes(
			attribute.Int("shape.estimated_size", warning.EstimatedSize),
			attribute.Int("shape.size_limit", warning.Limit),
		))
	}
}
