package optimizer

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/polisai/polis-shape/pkg/domain"
)

// DateFormat selects how time.Time values are rendered by the guarded serializer.
type DateFormat string

const (
	DateFormatISO       DateFormat = "iso"
	DateFormatTimestamp DateFormat = "timestamp"
	DateFormatUnix      DateFormat = "unix"
)

const (
	defaultSerializeDepth = 10
	defaultMemoryLimit    = 50 * 1024 * 1024
	defaultBatchSize      = 1000
)

// Transformer rewrites the value emitted under a given property name.
type Transformer func(key string, value any) (any, error)

// SerializeOptions configures the guarded serializer.
type SerializeOptions struct {
	MaxDepth        int
	DateFormat      DateFormat
	RemoveNulls     bool
	RemoveUndefined bool
	Transformers    map[string]Transformer
	EnableStreaming bool
	MemoryLimit     int
	BatchSize       int
}

// DefaultSerializeOptions returns the documented defaults.
func DefaultSerializeOptions() SerializeOptions {
	return SerializeOptions{
		MaxDepth:        defaultSerializeDepth,
		DateFormat:      DateFormatISO,
		RemoveUndefined: true,
		MemoryLimit:     defaultMemoryLimit,
		BatchSize:       defaultBatchSize,
	}
}

// withDefaults validates o and fills zero fields with their defaults. A
// negative MaxDepth is kept and sentinelizes every container.
func (o SerializeOptions) withDefaults() (SerializeOptions, error) {
	if o.MaxDepth == 0 {
		o.MaxDepth = defaultSerializeDepth
	}
	switch o.DateFormat {
	case "":
		o.DateFormat = DateFormatISO
	case DateFormatISO, DateFormatTimestamp, DateFormatUnix:
	default:
		return o, fmt.Errorf("%w: unknown date format %q", domain.ErrInvalidConfig, o.DateFormat)
	}
	if o.BatchSize < 0 {
		return o, fmt.Errorf("%w: batch size must not be negative", domain.ErrInvalidConfig)
	}
	if o.BatchSize == 0 {
		o.BatchSize = defaultBatchSize
	}
	if o.MemoryLimit <= 0 {
		o.MemoryLimit = defaultMemoryLimit
	}
	for key, fn := range o.Transformers {
		if fn == nil {
			return o, fmt.Errorf("%w: transformer for key %q is nil", domain.ErrInvalidConfig, key)
		}
	}
	return o, nil
}

// SerializationError reports a value the guarded serializer cannot render.
type SerializationError struct {
	Path string
	Err  error
}

func (e *SerializationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("serialize: %v", e.Err)
	}
	return fmt.Sprintf("serialize %s: %v", e.Path, e.Err)
}

func (e *SerializationError) Unwrap() []error {
	return []error{domain.ErrSerialization, e.Err}
}

// Output is the result of Serialize: exactly one of Text or Stream is set.
type Output struct {
	Text   string
	Stream *ChunkStream
}

// Serializer renders arbitrary payloads as JSON text. It never loops on cyclic
// input: cycles and depth overruns become sentinels.
type Serializer struct {
	opts   SerializeOptions
	logger *slog.Logger
}

// NewSerializer validates opts and constructs a Serializer.
func NewSerializer(opts SerializeOptions, logger *slog.Logger) (*Serializer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	normalized, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	return &Serializer{opts: normalized, logger: logger}, nil
}

// Options returns the normalized options.
func (s *Serializer) Options() SerializeOptions {
	return s.opts
}

// Serialize renders v. When streaming is enabled, v is a sequence and its
// estimated size exceeds the memory limit, the output is a ChunkStream;
// otherwise it is the complete text.
func (s *Serializer) Serialize(v any) (*Output, error) {
	if s.opts.EnableStreaming {
		if view, _, _, ok := asContainer(v); ok {
			if items, isSeq := view.([]any); isSeq {
				if size := s.EstimateSize(v); size > s.opts.MemoryLimit {
					s.logger.Debug("serializer: switching to streamed output",
						"estimated_size", size,
						"memory_limit", s.opts.MemoryLimit,
						"items", len(items),
					)
					return &Output{Stream: newChunkStream(s, v, items)}, nil
				}
			}
		}
	}

	var buf bytes.Buffer
	enc := s.newEncoder(&buf, s.opts)
	if err := enc.encode(v, 0); err != nil {
		return nil, err
	}
	return &Output{Text: buf.String()}, nil
}

// SerializeText is Serialize without the streaming branch.
func (s *Serializer) SerializeText(v any) (string, error) {
	var buf bytes.Buffer
	enc := s.newEncoder(&buf, s.opts)
	if err := enc.encode(v, 0); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// EstimateSize returns the byte length of v's JSON text form. Transformers are
// not applied. Values that cannot be measured are logged and reported as 0.
func (s *Serializer) EstimateSize(v any) int {
	opts := s.opts
	opts.Transformers = nil
	counter := &countingWriter{}
	enc := s.newEncoder(counter, opts)
	if err := enc.encode(v, 0); err != nil {
		s.logger.Warn("serializer: size estimation failed", "error", err)
		return 0
	}
	return counter.n
}

type textWriter interface {
	Write(p []byte) (int, error)
	WriteString(s string) (int, error)
	WriteByte(c byte) error
}

type countingWriter struct {
	n int
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += len(p)
	return len(p), nil
}

func (c *countingWriter) WriteString(s string) (int, error) {
	c.n += len(s)
	return len(s), nil
}

func (c *countingWriter) WriteByte(byte) error {
	c.n++
	return nil
}

type encoder struct {
	w      textWriter
	opts   SerializeOptions
	logger *slog.Logger
	path   pathSet
	keys   []string
}

func (s *Serializer) newEncoder(w textWriter, opts SerializeOptions) *encoder {
	return &encoder{w: w, opts: opts, logger: s.logger, path: pathSet{}}
}

func (e *encoder) location() string {
	return strings.Join(e.keys, ".")
}

func (e *encoder) encode(v any, depth int) error {
	if domain.IsUndefined(v) {
		_, _ = e.w.WriteString("null")
		return nil
	}

	switch t := v.(type) {
	case string:
		return e.writeString(t)
	case time.Time:
		return e.writeDate(t)
	case *time.Time:
		if t == nil {
			_, _ = e.w.WriteString("null")
			return nil
		}
		return e.writeDate(*t)
	case *big.Int:
		if t == nil {
			_, _ = e.w.WriteString("null")
			return nil
		}
		return e.writeString(t.String())
	}
	if text, ok := scalarText(v); ok {
		_, _ = e.w.WriteString(text)
		return nil
	}

	view, id, tracked, ok := asContainer(v)
	if !ok {
		raw, err := gojson.MarshalNoEscape(v)
		if err != nil {
			return &SerializationError{Path: e.location(), Err: err}
		}
		_, _ = e.w.Write(raw)
		return nil
	}

	if depth >= e.opts.MaxDepth {
		return e.writeString(domain.SentinelMaxDepth)
	}
	if tracked {
		if !e.path.enter(id) {
			return e.writeString(domain.SentinelCircular)
		}
		defer e.path.leave(id)
	}

	switch c := view.(type) {
	case []any:
		return e.encodeSequence(c, depth)
	case map[string]any:
		return e.encodeMap(c, depth)
	}
	return nil
}

func (e *encoder) encodeSequence(items []any, depth int) error {
	_ = e.w.WriteByte('[')
	for i, item := range items {
		if i > 0 {
			_ = e.w.WriteByte(',')
		}
		// Sequence slots are kept so positions do not shift.
		e.keys = append(e.keys, strconv.Itoa(i))
		err := e.encode(item, depth+1)
		e.keys = e.keys[:len(e.keys)-1]
		if err != nil {
			return err
		}
	}
	_ = e.w.WriteByte(']')
	return nil
}

func (e *encoder) encodeMap(m map[string]any, depth int) error {
	_ = e.w.WriteByte('{')
	first := true
	for _, key := range sortedKeys(m) {
		value := e.transform(key, m[key])
		if domain.IsUndefined(value) && e.opts.RemoveUndefined {
			continue
		}
		if value == nil && e.opts.RemoveNulls {
			continue
		}

		if !first {
			_ = e.w.WriteByte(',')
		}
		first = false
		if err := e.writeString(key); err != nil {
			return err
		}
		_ = e.w.WriteByte(':')

		e.keys = append(e.keys, key)
		err := e.encode(value, depth+1)
		e.keys = e.keys[:len(e.keys)-1]
		if err != nil {
			return err
		}
	}
	_ = e.w.WriteByte('}')
	return nil
}

// transform applies the transformer registered for key. Errors and panics
// are logged and the original value is kept.
func (e *encoder) transform(key string, value any) (out any) {
	fn, ok := e.opts.Transformers[key]
	if !ok {
		return value
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("serializer: transformer panicked",
				"key", key,
				"path", e.location(),
				"panic", fmt.Sprint(r),
			)
			out = value
		}
	}()

	transformed, err := fn(key, value)
	if err != nil {
		e.logger.Warn("serializer: transformer failed",
			"key", key,
			"path", e.location(),
			"error", err,
		)
		return value
	}
	return transformed
}

func (e *encoder) writeString(s string) error {
	raw, err := gojson.MarshalNoEscape(s)
	if err != nil {
		return &SerializationError{Path: e.location(), Err: err}
	}
	_, _ = e.w.Write(raw)
	return nil
}

func (e *encoder) writeDate(t time.Time) error {
	switch e.opts.DateFormat {
	case DateFormatTimestamp:
		_, _ = e.w.WriteString(strconv.FormatInt(t.UnixMilli(), 10))
		return nil
	case DateFormatUnix:
		_, _ = e.w.WriteString(strconv.FormatInt(t.Unix(), 10))
		return nil
	default:
		return e.writeString(t.UTC().Format(isoLayout))
	}
}

// IsSerializationError reports whether err came from the guarded serializer.
func IsSerializationError(err error) bool {
	var serr *SerializationError
	return errors.As(err, &serr)
}
