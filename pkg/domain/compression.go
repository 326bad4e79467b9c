package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Algorithm identifies a content-coding the compressor can produce.
type Algorithm string

const (
	AlgorithmNone    Algorithm = ""
	AlgorithmGzip    Algorithm = "gzip"
	AlgorithmDeflate Algorithm = "deflate"
	AlgorithmBrotli  Algorithm = "br"
	AlgorithmZstd    Algorithm = "zstd"
)

// DefaultAlgorithms is the default preference order: gzip before deflate.
var DefaultAlgorithms = []Algorithm{AlgorithmGzip, AlgorithmDeflate}

// String returns the content-coding token.
func (a Algorithm) String() string {
	if a == AlgorithmNone {
		return "identity"
	}
	return string(a)
}

// ParseAlgorithm parses a content-coding token.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "gzip", "x-gzip":
		return AlgorithmGzip, nil
	case "deflate":
		return AlgorithmDeflate, nil
	case "br", "brotli":
		return AlgorithmBrotli, nil
	case "zstd":
		return AlgorithmZstd, nil
	default:
		return AlgorithmNone, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, name)
	}
}

// CompressionResult describes the outcome of one compression attempt.
//
// Data always holds the bytes to send: the compressed body when Compressed is
// true, the uncompressed text otherwise. Negotiated is set once the payload
// passed the enabled and threshold gates, so the encoding depended on the
// client's Accept-Encoding.
type CompressionResult struct {
	Compressed     bool      `json:"compressed"`
	Negotiated     bool      `json:"negotiated,omitempty"`
	Algorithm      Algorithm `json:"algorithm,omitempty"`
	OriginalSize   int       `json:"original_size"`
	CompressedSize int       `json:"compressed_size,omitempty"`
	Ratio          float64   `json:"ratio,omitempty"`
	Savings        int       `json:"savings,omitempty"`
	Error          string    `json:"error,omitempty"`
	Data           []byte    `json:"-"`
}

// Header names surfaced for compressed responses.
const (
	HeaderContentEncoding  = "Content-Encoding"
	HeaderVary             = "Vary"
	HeaderOriginalSize     = "X-Original-Size"
	HeaderCompressedSize   = "X-Compressed-Size"
	HeaderCompressionRatio = "X-Compression-Ratio"
)

// Headers returns the response headers a caller should surface for this result.
// Uncompressed results only carry Vary, and only when negotiation ran.
func (r CompressionResult) Headers() map[string]string {
	if !r.Compressed {
		if r.Negotiated {
			return map[string]string{HeaderVary: "Accept-Encoding"}
		}
		return map[string]string{}
	}
	return map[string]string{
		HeaderContentEncoding:  r.Algorithm.String(),
		HeaderVary:             "Accept-Encoding",
		HeaderOriginalSize:     strconv.Itoa(r.OriginalSize),
		HeaderCompressedSize:   strconv.Itoa(r.CompressedSize),
		HeaderCompressionRatio: strconv.FormatFloat(r.Ratio, 'f', 4, 64),
	}
}

// CompressionStats is a point-in-time view of the compression counters.
type CompressionStats struct {
	Requests            int64   `json:"requests"`
	Compressed          int64   `json:"compressed"`
	BytesOriginal       int64   `json:"bytes_original"`
	BytesCompressed     int64   `json:"bytes_compressed"`
	AvgCompressionRatio float64 `json:"avg_compression_ratio"`
	CompressionRate     float64 `json:"compression_rate"`
	AvgSavings          float64 `json:"avg_savings"`
}
