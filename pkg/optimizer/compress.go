package optimizer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"

	"github.com/polisai/polis-shape/pkg/domain"
	"github.com/polisai/polis-shape/pkg/telemetry"
)

const (
	defaultThreshold = 1024
	defaultLevel     = 6
)

// CompressionConfig configures the Compressor. Algorithms is both the allow
// list and the preference order used during negotiation. Zero Threshold,
// Level and Algorithms take their defaults; a Threshold of 1 compresses every
// non-empty payload.
type CompressionConfig struct {
	Enabled    bool
	Threshold  int
	Level      int
	Algorithms []domain.Algorithm
}

// DefaultCompressionConfig returns the documented defaults.
func DefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		Enabled:    true,
		Threshold:  defaultThreshold,
		Level:      defaultLevel,
		Algorithms: slices.Clone(domain.DefaultAlgorithms),
	}
}

// Compressor performs threshold-gated, content-negotiated compression. It is
// safe for concurrent use; the only shared state is the Stats accumulator.
type Compressor struct {
	cfg        CompressionConfig
	stats      *Stats
	serializer *Serializer
	logger     *slog.Logger

	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdErr  error
}

// NewCompressor validates cfg and constructs a Compressor recording into stats.
// A nil stats gets a private accumulator.
func NewCompressor(cfg CompressionConfig, stats *Stats, logger *slog.Logger) (*Compressor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if stats == nil {
		stats = NewStats()
	}
	if cfg.Threshold < 0 {
		return nil, fmt.Errorf("%w: compression threshold must not be negative", domain.ErrInvalidConfig)
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = defaultThreshold
	}
	if cfg.Level == 0 {
		cfg.Level = defaultLevel
	}
	if len(cfg.Algorithms) == 0 {
		cfg.Algorithms = slices.Clone(domain.DefaultAlgorithms)
	}
	for _, algo := range cfg.Algorithms {
		if _, err := domain.ParseAlgorithm(string(algo)); err != nil {
			return nil, err
		}
	}

	serializer, err := NewSerializer(DefaultSerializeOptions(), logger)
	if err != nil {
		return nil, err
	}

	return &Compressor{
		cfg:        cfg,
		stats:      stats,
		serializer: serializer,
		logger:     logger,
	}, nil
}

// Stats returns the accumulator this compressor records into.
func (c *Compressor) Stats() *Stats {
	return c.stats
}

// Compress compresses data for a client advertising acceptEncoding.
//
// Non-text data is serialized first. Payloads below the threshold, a disabled
// compressor and hints naming no allowed algorithm all return an uncompressed
// result. Codec failures are folded into the result's Error field; Compress
// never returns an error or panics.
func (c *Compressor) Compress(ctx context.Context, data any, acceptEncoding string) domain.CompressionResult {
	text, err := c.normalize(data)
	if err != nil {
		c.logger.Warn("compression: payload serialization failed", "error", err)
		return domain.CompressionResult{Error: err.Error()}
	}

	result := domain.CompressionResult{OriginalSize: len(text), Data: text}
	if !c.cfg.Enabled || len(text) < c.cfg.Threshold {
		return result
	}

	c.stats.RecordAttempt()
	result.Negotiated = true

	algo, ok := c.Negotiate(acceptEncoding)
	if !ok {
		c.logger.Debug("compression: no acceptable encoding",
			"accept_encoding", acceptEncoding,
			"original_size", len(text),
		)
		return result
	}

	start := time.Now()
	compressed, err := c.encode(ctx, algo, text)
	duration := time.Since(start)
	if err != nil {
		c.logger.Warn("compression: codec failed",
			"algorithm", algo.String(),
			"original_size", len(text),
			"error", err,
		)
		result.Error = fmt.Sprintf("%s compression failed: %v", algo, err)
		telemetry.RecordCompression(ctx, telemetry.CompressionMetrics{
			Algorithm:     algo.String(),
			Outcome:       telemetry.OutcomeFailed,
			OriginalBytes: len(text),
			Duration:      duration,
		})
		return result
	}

	result.Compressed = true
	result.Algorithm = algo
	result.CompressedSize = len(compressed)
	result.Savings = len(text) - len(compressed)
	result.Ratio = float64(result.Savings) / float64(len(text))
	result.Data = compressed

	c.stats.RecordSuccess(len(text), len(compressed))
	telemetry.RecordCompression(ctx, telemetry.CompressionMetrics{
		Algorithm:       algo.String(),
		Outcome:         telemetry.OutcomeCompressed,
		OriginalBytes:   len(text),
		CompressedBytes: len(compressed),
		Duration:        duration,
	})

	c.logger.Debug("compression: payload compressed",
		"algorithm", algo.String(),
		"original_size", len(text),
		"compressed_size", len(compressed),
		"ratio", result.Ratio,
	)
	return result
}

func (c *Compressor) normalize(data any) ([]byte, error) {
	switch v := data.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		text, err := c.serializer.SerializeText(v)
		if err != nil {
			return nil, err
		}
		return []byte(text), nil
	}
}

// Negotiate picks the first configured algorithm the hint advertises. Tokens
// are case-insensitive, q=0 excludes a token and * stands for any algorithm
// not listed explicitly.
func (c *Compressor) Negotiate(acceptEncoding string) (domain.Algorithm, bool) {
	offered, wildcard := parseAcceptEncoding(acceptEncoding)
	for _, algo := range c.cfg.Algorithms {
		if q, listed := offered[algo]; listed {
			if q > 0 {
				return algo, true
			}
			continue
		}
		if wildcard > 0 {
			return algo, true
		}
	}
	return domain.AlgorithmNone, false
}

// parseAcceptEncoding returns the q-value per known algorithm and the q-value
// of the wildcard (0 when absent).
func parseAcceptEncoding(header string) (map[domain.Algorithm]float64, float64) {
	offered := map[domain.Algorithm]float64{}
	wildcard := 0.0
	for _, part := range strings.Split(header, ",") {
		token, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		token = strings.ToLower(strings.TrimSpace(token))
		if token == "" {
			continue
		}

		q := 1.0
		for _, param := range strings.Split(params, ";") {
			name, value, found := strings.Cut(strings.TrimSpace(param), "=")
			if !found || !strings.EqualFold(strings.TrimSpace(name), "q") {
				continue
			}
			if parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
				q = parsed
			}
		}

		if token == "*" {
			wildcard = q
			continue
		}
		algo, err := domain.ParseAlgorithm(token)
		if err != nil {
			continue
		}
		if _, dup := offered[algo]; !dup {
			offered[algo] = q
		}
	}
	return offered, wildcard
}

func (c *Compressor) encode(ctx context.Context, algo domain.Algorithm, data []byte) (out []byte, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("%w: codec panic: %v", domain.ErrCompressionFailed, r)
		}
	}()

	var buf bytes.Buffer
	switch algo {
	case domain.AlgorithmGzip:
		w, err := gzip.NewWriterLevel(&buf, c.cfg.Level)
		if err != nil {
			return nil, err
		}
		return finish(&buf, w, data)
	case domain.AlgorithmDeflate:
		w, err := zlib.NewWriterLevel(&buf, c.cfg.Level)
		if err != nil {
			return nil, err
		}
		return finish(&buf, w, data)
	case domain.AlgorithmBrotli:
		if c.cfg.Level < brotli.BestSpeed || c.cfg.Level > brotli.BestCompression {
			return nil, fmt.Errorf("brotli: invalid compression level %d", c.cfg.Level)
		}
		return finish(&buf, brotli.NewWriterLevel(&buf, c.cfg.Level), data)
	case domain.AlgorithmZstd:
		enc, err := c.zstdEncoder()
		if err != nil {
			return nil, err
		}
		return enc.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedAlgorithm, algo)
	}
}

func finish(buf *bytes.Buffer, w io.WriteCloser, data []byte) ([]byte, error) {
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// zstdEncoder lazily builds one encoder per compressor; EncodeAll is safe for
// concurrent use.
func (c *Compressor) zstdEncoder() (*zstd.Encoder, error) {
	c.zstdOnce.Do(func() {
		if c.cfg.Level < 1 || c.cfg.Level > 22 {
			c.zstdErr = fmt.Errorf("zstd: invalid compression level %d", c.cfg.Level)
			return
		}
		c.zstdEnc, c.zstdErr = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(c.cfg.Level)),
		)
	})
	return c.zstdEnc, c.zstdErr
}
