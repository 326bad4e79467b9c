// Package middleware applies the response optimizer to HTTP handlers.
package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	gojson "github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-shape/pkg/optimizer"
	"github.com/polisai/polis-shape/pkg/telemetry"
)

// RequestIDHeader carries the correlation ID of a request.
const RequestIDHeader = "X-Request-ID"

// FieldsParam is the query parameter holding the projection field list.
const FieldsParam = "fields"

type contextKey string

const requestIDContextKey contextKey = "requestID"

// RequestIDFromContext returns the request ID stored by the middleware.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey).(string)
	return id
}

// Options configures a ResponseOptimizer.
type Options struct {
	// BufferThreshold is the body size kept in memory before spilling to a
	// temp file. Defaults to 1MiB.
	BufferThreshold int64
	Logger          *slog.Logger
	Tracer          trace.Tracer
}

// ResponseOptimizer rewrites JSON responses through the optimizer pipeline.
type ResponseOptimizer struct {
	optimizer *optimizer.Optimizer
	threshold int64
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewResponseOptimizer creates the middleware around opt.
func NewResponseOptimizer(opt *optimizer.Optimizer, opts Options) *ResponseOptimizer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("polis.shape/middleware")
	}
	return &ResponseOptimizer{
		optimizer: opt,
		threshold: opts.BufferThreshold,
		logger:    opts.Logger,
		tracer:    opts.Tracer,
	}
}

// Wrap wraps an HTTP handler with response optimization. Responses that are
// not 2xx JSON, already encoded, or cannot be decoded are forwarded as-is.
func (m *ResponseOptimizer) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
			r.Header.Set(RequestIDHeader, requestID)
		}
		w.Header().Set(RequestIDHeader, requestID)
		r = r.WithContext(context.WithValue(r.Context(), requestIDContextKey, requestID))

		cw := newCaptureWriter(w, r.Method, m.threshold)
		defer cw.buf.Cleanup()

		next.ServeHTTP(cw, r)

		if !cw.decided {
			cw.decide()
		}
		if cw.passthrough {
			return
		}

		m.optimize(w, r, cw, requestID)
	})
}

func (m *ResponseOptimizer) optimize(w http.ResponseWriter, r *http.Request, cw *captureWriter, requestID string) {
	ctx, span := m.tracer.Start(r.Context(), "response.optimize",
		trace.WithAttributes(
			attribute.String("http.request_id", requestID),
			attribute.Int("shape.upstream_size", cw.buf.Len()),
		),
	)
	defer span.End()

	logger := m.logger.With("request_id", requestID, "path", r.URL.Path)

	if cw.writeErr != nil {
		// The captured body is incomplete; nothing sensible can be sent.
		logger.Error("middleware: buffering response failed", "error", cw.writeErr)
		span.SetStatus(codes.Error, cw.writeErr.Error())
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}

	payload, err := m.decode(cw.buf)
	if err != nil {
		logger.Debug("middleware: body is not a single JSON document, forwarding unchanged", "error", err)
		span.SetAttributes(attribute.Bool("shape.passthrough", true))
		m.forward(w, cw, logger)
		return
	}

	resp, err := m.optimizer.Optimize(ctx, payload, optimizer.Request{
		Fields:         optimizer.ParseFields(r.URL.Query().Get(FieldsParam)),
		AcceptEncoding: r.Header.Get("Accept-Encoding"),
	})
	if err != nil {
		logger.Warn("middleware: optimization failed, forwarding unchanged", "error", err)
		span.RecordError(err)
		m.forward(w, cw, logger)
		return
	}

	telemetry.RecordOptimization(span, resp.Strategy, resp.Result, resp.Warning)

	header := w.Header()
	copyHeader(header, cw.header)
	header.Del("Content-Length")
	header.Del("Content-Encoding")
	for key, value := range resp.Headers() {
		header.Set(key, value)
	}

	if resp.Stream != nil {
		m.writeStream(w, cw.status, resp.Stream, logger)
		return
	}

	header.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	w.WriteHeader(cw.status)
	if _, err := w.Write(resp.Body); err != nil {
		logger.Debug("middleware: client write failed", "error", err)
		return
	}

	logger.Debug("middleware: response optimized",
		"strategy", string(resp.Strategy),
		"original_size", resp.Result.OriginalSize,
		"compressed", resp.Result.Compressed,
		"algorithm", resp.Result.Algorithm.String(),
	)
}

func (m *ResponseOptimizer) decode(buf *hybridBuffer) (any, error) {
	reader, err := buf.Reader()
	if err != nil {
		return nil, err
	}

	dec := gojson.NewDecoder(reader)
	dec.UseNumber()

	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, err
	}
	var trailing any
	if err := dec.Decode(&trailing); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after JSON document")
	}
	return payload, nil
}

func (m *ResponseOptimizer) forward(w http.ResponseWriter, cw *captureWriter, logger *slog.Logger) {
	copyHeader(w.Header(), cw.header)
	w.Header().Set("Content-Length", strconv.Itoa(cw.buf.Len()))
	w.WriteHeader(cw.status)

	reader, err := cw.buf.Reader()
	if err != nil {
		logger.Error("middleware: replaying buffered body failed", "error", err)
		return
	}
	if _, err := io.Copy(w, reader); err != nil {
		logger.Debug("middleware: client write failed", "error", err)
	}
}

func (m *ResponseOptimizer) writeStream(w http.ResponseWriter, status int, stream *optimizer.ChunkStream, logger *slog.Logger) {
	w.WriteHeader(status)
	flusher, _ := w.(http.Flusher)

	for chunk := range stream.All() {
		if _, err := io.WriteString(w, chunk); err != nil {
			logger.Debug("middleware: client write failed", "error", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	if err := stream.Err(); err != nil {
		// Headers are already committed; the truncated body is the signal.
		logger.Error("middleware: streaming serialization failed", "error", err, "total", stream.Total())
	}
}
