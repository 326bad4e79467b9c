package optimizer

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/polisai/polis-shape/pkg/domain"
	"github.com/polisai/polis-shape/pkg/telemetry"
)

const (
	defaultSanitizeDepth   = 10
	defaultMaxResponseSize = 10 * 1024 * 1024
)

// Header names set by the pipeline in addition to the compression headers.
const (
	HeaderSerializationStrategy = "X-Serialization-Strategy"
	HeaderSizeWarning           = "X-Response-Size-Warning"
)

// Config configures the full optimization pipeline.
type Config struct {
	MaxDepth        int
	RemoveEmpty     bool
	MaxResponseSize int
	Serialization   SerializeOptions
	Compression     CompressionConfig
}

// DefaultConfig returns the documented defaults for every stage.
func DefaultConfig() Config {
	return Config{
		MaxDepth:        defaultSanitizeDepth,
		MaxResponseSize: defaultMaxResponseSize,
		Serialization:   DefaultSerializeOptions(),
		Compression:     DefaultCompressionConfig(),
	}
}

// Request carries the per-response negotiation hints.
type Request struct {
	Fields         []string
	AcceptEncoding string
}

// Response is the optimized payload. Body is set unless the payload was
// streamed, in which case Stream is set and the body is not compressed.
type Response struct {
	Body     []byte
	Stream   *ChunkStream
	Result   domain.CompressionResult
	Strategy domain.SerializationStrategy
	Warning  domain.SizeWarning
}

// Headers returns every header the caller should surface.
func (r *Response) Headers() map[string]string {
	headers := r.Result.Headers()
	headers[HeaderSerializationStrategy] = string(r.Strategy)
	if r.Warning.Oversized {
		headers[HeaderSizeWarning] = r.Warning.Recommendation
	}
	return headers
}

type pipeline struct {
	cfg        Config
	serializer *Serializer
	compressor *Compressor
}

// Optimizer runs payloads through projection, sanitization, pruning,
// serialization and compression. Configuration can be swapped at runtime
// while the Stats accumulator is kept.
type Optimizer struct {
	current atomic.Pointer[pipeline]
	stats   *Stats
	logger  *slog.Logger
}

// New builds an Optimizer from cfg.
func New(cfg Config, logger *slog.Logger) (*Optimizer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Optimizer{stats: NewStats(), logger: logger}
	if err := o.Reload(cfg); err != nil {
		return nil, err
	}
	return o, nil
}

// Reload validates cfg and swaps it in atomically. In-flight optimizations
// finish with the configuration they started with.
func (o *Optimizer) Reload(cfg Config) error {
	if cfg.MaxDepth == 0 {
		cfg.MaxDepth = defaultSanitizeDepth
	}
	if cfg.MaxResponseSize <= 0 {
		cfg.MaxResponseSize = defaultMaxResponseSize
	}

	serializer, err := NewSerializer(cfg.Serialization, o.logger)
	if err != nil {
		return fmt.Errorf("optimizer: %w", err)
	}
	compressor, err := NewCompressor(cfg.Compression, o.stats, o.logger)
	if err != nil {
		return fmt.Errorf("optimizer: %w", err)
	}

	o.current.Store(&pipeline{cfg: cfg, serializer: serializer, compressor: compressor})
	return nil
}

// Config returns the active configuration.
func (o *Optimizer) Config() Config {
	return o.current.Load().cfg
}

// Stats returns the accumulator shared by every compression this optimizer runs.
func (o *Optimizer) Stats() *Stats {
	return o.stats
}

// Optimize shapes and encodes payload for one response. The only error
// returned is a serialization failure on values that cannot be represented.
func (o *Optimizer) Optimize(ctx context.Context, payload any, req Request) (*Response, error) {
	p := o.current.Load()
	start := time.Now()

	shaped := Project(payload, req.Fields)
	shaped = Sanitize(shaped, p.cfg.MaxDepth)
	if p.cfg.RemoveEmpty {
		shaped = RemoveEmpty(shaped)
	}

	estimate := p.serializer.EstimateSize(shaped)
	warning := o.checkSize(estimate, p.cfg.MaxResponseSize)

	resp := &Response{Warning: warning}
	var text string
	if IsSimple(shaped) {
		resp.Strategy = domain.StrategyFast
		text = FastSerialize(shaped)
	} else {
		out, err := p.serializer.Serialize(shaped)
		if err != nil {
			return nil, fmt.Errorf("optimizer: %w", err)
		}
		if out.Stream != nil {
			resp.Strategy = domain.StrategyStreamed
			resp.Stream = out.Stream
			resp.Result = domain.CompressionResult{OriginalSize: estimate}
			o.recordSerialization(ctx, resp, estimate, start)
			return resp, nil
		}
		resp.Strategy = domain.StrategyGuarded
		text = out.Text
	}
	o.recordSerialization(ctx, resp, len(text), start)

	resp.Result = p.compressor.Compress(ctx, text, req.AcceptEncoding)
	resp.Body = resp.Result.Data
	return resp, nil
}

func (o *Optimizer) checkSize(estimate, limit int) domain.SizeWarning {
	warning := domain.SizeWarning{EstimatedSize: estimate, Limit: limit}
	if estimate <= limit {
		return warning
	}

	warning.Oversized = true
	warning.Recommendation = fmt.Sprintf(
		"response is %s, above the %s limit; consider pagination or selecting fewer fields with ?fields=",
		humanize.IBytes(uint64(estimate)), humanize.IBytes(uint64(limit)),
	)
	o.logger.Warn("optimizer: oversized response",
		"estimated_size", estimate,
		"limit", limit,
	)
	return warning
}

func (o *Optimizer) recordSerialization(ctx context.Context, resp *Response, size int, start time.Time) {
	telemetry.RecordSerialization(ctx, telemetry.SerializationMetrics{
		Strategy:  string(resp.Strategy),
		Bytes:     size,
		Oversized: resp.Warning.Oversized,
		Duration:  time.Since(start),
	})
}
