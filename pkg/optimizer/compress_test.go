package optimizer

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-shape/pkg/domain"
)

var compressiblePayload = strings.Repeat(`{"id":1,"name":"compressible payload"},`, 100)

func newTestCompressor(t *testing.T, cfg CompressionConfig) *Compressor {
	t.Helper()
	c, err := NewCompressor(cfg, NewStats(), nil)
	require.NoError(t, err)
	return c
}

func decompress(t *testing.T, algo domain.Algorithm, data []byte) string {
	t.Helper()
	var (
		r   io.Reader
		err error
	)
	switch algo {
	case domain.AlgorithmGzip:
		r, err = gzip.NewReader(bytes.NewReader(data))
	case domain.AlgorithmDeflate:
		r, err = zlib.NewReader(bytes.NewReader(data))
	case domain.AlgorithmBrotli:
		r = brotli.NewReader(bytes.NewReader(data))
	case domain.AlgorithmZstd:
		var dec *zstd.Decoder
		dec, err = zstd.NewReader(bytes.NewReader(data))
		if err == nil {
			defer dec.Close()
		}
		r = dec
	default:
		t.Fatalf("unexpected algorithm %q", algo)
	}
	require.NoError(t, err)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(out)
}

func TestNewCompressor_Validation(t *testing.T) {
	_, err := NewCompressor(CompressionConfig{Threshold: -1}, nil, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	_, err = NewCompressor(CompressionConfig{Algorithms: []domain.Algorithm{"lz4"}}, nil, nil)
	assert.ErrorIs(t, err, domain.ErrUnsupportedAlgorithm)

	c, err := NewCompressor(CompressionConfig{Enabled: true}, nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, c.Stats())
	assert.Equal(t, domain.DefaultAlgorithms, c.cfg.Algorithms)
	assert.Equal(t, defaultThreshold, c.cfg.Threshold)
	assert.Equal(t, defaultLevel, c.cfg.Level)
}

func TestCompress_ZeroConfigUsesDefaults(t *testing.T) {
	c, err := NewCompressor(CompressionConfig{Enabled: true}, nil, nil)
	require.NoError(t, err)

	small := c.Compress(context.Background(), "abc", "gzip")
	assert.False(t, small.Compressed)
	assert.Zero(t, c.Stats().Snapshot().Requests)

	large := c.Compress(context.Background(), compressiblePayload, "gzip")
	require.True(t, large.Compressed)
	assert.Less(t, large.CompressedSize, large.OriginalSize)
	assert.Positive(t, large.Ratio)
}

func TestCompress_BelowThreshold(t *testing.T) {
	c := newTestCompressor(t, DefaultCompressionConfig())

	result := c.Compress(context.Background(), "small", "gzip")

	assert.False(t, result.Compressed)
	assert.Equal(t, 5, result.OriginalSize)
	assert.Empty(t, result.Error)
	assert.Equal(t, "small", string(result.Data))
	assert.Zero(t, c.Stats().Snapshot().Requests)
}

func TestCompress_Disabled(t *testing.T) {
	cfg := DefaultCompressionConfig()
	cfg.Enabled = false
	c := newTestCompressor(t, cfg)

	result := c.Compress(context.Background(), compressiblePayload, "gzip")

	assert.False(t, result.Compressed)
	assert.Equal(t, len(compressiblePayload), result.OriginalSize)
	assert.Zero(t, c.Stats().Snapshot().Requests)
}

func TestCompress_MeasuresUTF8Bytes(t *testing.T) {
	c := newTestCompressor(t, DefaultCompressionConfig())

	result := c.Compress(context.Background(), "héllo", "")

	assert.Equal(t, 6, result.OriginalSize)
}

func TestCompress_SerializesStructuredInput(t *testing.T) {
	cfg := DefaultCompressionConfig()
	cfg.Threshold = 1
	c := newTestCompressor(t, cfg)

	result := c.Compress(context.Background(), map[string]any{"b": 2, "a": 1}, "identity")

	assert.False(t, result.Compressed)
	assert.Equal(t, `{"a":1,"b":2}`, string(result.Data))
	assert.Equal(t, 13, result.OriginalSize)
}

func TestCompress_RoundTrip(t *testing.T) {
	for _, algo := range []domain.Algorithm{
		domain.AlgorithmGzip, domain.AlgorithmDeflate, domain.AlgorithmBrotli, domain.AlgorithmZstd,
	} {
		t.Run(algo.String(), func(t *testing.T) {
			cfg := DefaultCompressionConfig()
			cfg.Algorithms = []domain.Algorithm{algo}
			c := newTestCompressor(t, cfg)

			result := c.Compress(context.Background(), compressiblePayload, string(algo))

			require.True(t, result.Compressed, result.Error)
			assert.Equal(t, algo, result.Algorithm)
			assert.Equal(t, len(compressiblePayload), result.OriginalSize)
			assert.Equal(t, len(result.Data), result.CompressedSize)
			assert.Equal(t, result.OriginalSize-result.CompressedSize, result.Savings)
			assert.InDelta(t, float64(result.Savings)/float64(result.OriginalSize), result.Ratio, 1e-9)
			assert.Less(t, result.CompressedSize, result.OriginalSize)
			assert.Equal(t, compressiblePayload, decompress(t, algo, result.Data))
		})
	}
}

func TestNegotiate(t *testing.T) {
	tests := []struct {
		name       string
		algorithms []domain.Algorithm
		hint       string
		want       domain.Algorithm
		ok         bool
	}{
		{name: "deflate when gzip not offered", hint: "deflate, br", want: domain.AlgorithmDeflate, ok: true},
		{name: "configured order wins", hint: "gzip, deflate", want: domain.AlgorithmGzip, ok: true},
		{name: "hint order ignored", hint: "deflate, gzip", want: domain.AlgorithmGzip, ok: true},
		{name: "case insensitive", hint: "GZIP", want: domain.AlgorithmGzip, ok: true},
		{name: "q zero excludes", hint: "gzip;q=0, deflate;q=0.5", want: domain.AlgorithmDeflate, ok: true},
		{name: "wildcard", hint: "*", want: domain.AlgorithmGzip, ok: true},
		{name: "wildcard minus gzip", hint: "gzip;q=0, *", want: domain.AlgorithmDeflate, ok: true},
		{name: "x-gzip alias", hint: "x-gzip", want: domain.AlgorithmGzip, ok: true},
		{name: "nothing allowed", hint: "br, zstd", ok: false},
		{name: "empty", hint: "", ok: false},
		{name: "identity only", hint: "identity", ok: false},
		{
			name:       "brotli preferred when configured first",
			algorithms: []domain.Algorithm{domain.AlgorithmBrotli, domain.AlgorithmGzip},
			hint:       "gzip, br",
			want:       domain.AlgorithmBrotli,
			ok:         true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultCompressionConfig()
			if tt.algorithms != nil {
				cfg.Algorithms = tt.algorithms
			}
			c := newTestCompressor(t, cfg)

			got, ok := c.Negotiate(tt.hint)

			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompress_NoAcceptableEncodingCountsAttempt(t *testing.T) {
	c := newTestCompressor(t, DefaultCompressionConfig())

	result := c.Compress(context.Background(), compressiblePayload, "br")

	assert.False(t, result.Compressed)
	assert.Empty(t, result.Error)
	snap := c.Stats().Snapshot()
	assert.EqualValues(t, 1, snap.Requests)
	assert.EqualValues(t, 0, snap.Compressed)
}

func TestCompress_CodecFailureIsReported(t *testing.T) {
	cfg := DefaultCompressionConfig()
	cfg.Level = 42
	c := newTestCompressor(t, cfg)

	result := c.Compress(context.Background(), compressiblePayload, "gzip")

	assert.False(t, result.Compressed)
	assert.Equal(t, len(compressiblePayload), result.OriginalSize)
	assert.Contains(t, result.Error, "gzip compression failed")
	assert.Equal(t, compressiblePayload, string(result.Data))

	snap := c.Stats().Snapshot()
	assert.EqualValues(t, 1, snap.Requests)
	assert.EqualValues(t, 0, snap.Compressed)
}

func TestCompress_CancelledContext(t *testing.T) {
	c := newTestCompressor(t, DefaultCompressionConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := c.Compress(ctx, compressiblePayload, "gzip")

	assert.False(t, result.Compressed)
	assert.Contains(t, result.Error, context.Canceled.Error())
}

func TestCompress_ConcurrentStats(t *testing.T) {
	c := newTestCompressor(t, DefaultCompressionConfig())

	const workers = 16
	const perWorker = 25
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				c.Compress(context.Background(), compressiblePayload, "gzip")
			}
		}()
	}
	wg.Wait()

	single := newTestCompressor(t, DefaultCompressionConfig()).
		Compress(context.Background(), compressiblePayload, "gzip")

	snap := c.Stats().Snapshot()
	total := int64(workers * perWorker)
	assert.Equal(t, total, snap.Requests)
	assert.Equal(t, total, snap.Compressed)
	assert.Equal(t, total*int64(len(compressiblePayload)), snap.BytesOriginal)
	assert.Equal(t, total*int64(single.CompressedSize), snap.BytesCompressed)
	assert.InDelta(t, single.Ratio, snap.AvgCompressionRatio, 1e-9)
	assert.InDelta(t, 100.0, snap.CompressionRate, 1e-9)
}

func TestCompressionResult_Headers(t *testing.T) {
	c := newTestCompressor(t, DefaultCompressionConfig())

	result := c.Compress(context.Background(), compressiblePayload, "gzip")
	headers := result.Headers()

	assert.Equal(t, "gzip", headers[domain.HeaderContentEncoding])
	assert.Equal(t, "Accept-Encoding", headers[domain.HeaderVary])
	assert.NotEmpty(t, headers[domain.HeaderOriginalSize])
	assert.NotEmpty(t, headers[domain.HeaderCompressedSize])
	assert.NotEmpty(t, headers[domain.HeaderCompressionRatio])

	assert.Empty(t, domain.CompressionResult{OriginalSize: 10}.Headers())
}

func TestCompressionResult_VaryWhenNegotiatedWithoutCompression(t *testing.T) {
	c := newTestCompressor(t, DefaultCompressionConfig())

	result := c.Compress(context.Background(), compressiblePayload, "identity")

	require.False(t, result.Compressed)
	assert.True(t, result.Negotiated)
	assert.Equal(t, map[string]string{domain.HeaderVary: "Accept-Encoding"}, result.Headers())

	small := c.Compress(context.Background(), "tiny", "gzip")
	assert.False(t, small.Negotiated)
	assert.Empty(t, small.Headers())
}
