package optimizer

import (
	"bytes"
	"errors"
	"log/slog"
	"math/big"
	"strings"
	"testing"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-shape/pkg/domain"
)

func newTestSerializer(t *testing.T, opts SerializeOptions) (*Serializer, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s, err := NewSerializer(opts, logger)
	require.NoError(t, err)
	return s, &logs
}

func serializeText(t *testing.T, s *Serializer, v any) string {
	t.Helper()
	out, err := s.Serialize(v)
	require.NoError(t, err)
	require.Nil(t, out.Stream)
	return out.Text
}

func TestNewSerializer_Validation(t *testing.T) {
	_, err := NewSerializer(SerializeOptions{DateFormat: "rfc822"}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	_, err = NewSerializer(SerializeOptions{BatchSize: -1}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	_, err = NewSerializer(SerializeOptions{Transformers: map[string]Transformer{"a": nil}}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	s, err := NewSerializer(SerializeOptions{}, nil)
	require.NoError(t, err)
	assert.Equal(t, DateFormatISO, s.Options().DateFormat)
	assert.Equal(t, defaultBatchSize, s.Options().BatchSize)
	assert.Equal(t, defaultMemoryLimit, s.Options().MemoryLimit)
	assert.Equal(t, defaultSerializeDepth, s.Options().MaxDepth)
}

func TestSerialize_ZeroOptionsKeepNesting(t *testing.T) {
	s, err := NewSerializer(SerializeOptions{}, nil)
	require.NoError(t, err)

	assert.Equal(t, `{"a":{"b":1}}`, serializeText(t, s, map[string]any{"a": map[string]any{"b": 1}}))

	opts := DefaultSerializeOptions()
	opts.MaxDepth = -1
	negative, err := NewSerializer(opts, nil)
	require.NoError(t, err)
	assert.Equal(t, `"[Max depth reached]"`, serializeText(t, negative, map[string]any{"a": 1}))
}

func TestSerialize_UndefinedAndNulls(t *testing.T) {
	input := map[string]any{"a": domain.Undefined, "b": nil, "c": 1}

	s, _ := newTestSerializer(t, DefaultSerializeOptions())
	assert.Equal(t, `{"b":null,"c":1}`, serializeText(t, s, input))

	opts := DefaultSerializeOptions()
	opts.RemoveNulls = true
	s, _ = newTestSerializer(t, opts)
	assert.Equal(t, `{"c":1}`, serializeText(t, s, input))

	opts = DefaultSerializeOptions()
	opts.RemoveUndefined = false
	s, _ = newTestSerializer(t, opts)
	assert.Equal(t, `{"a":null,"b":null,"c":1}`, serializeText(t, s, input))
}

func TestSerialize_SequenceSlotsKept(t *testing.T) {
	opts := DefaultSerializeOptions()
	opts.RemoveNulls = true
	s, _ := newTestSerializer(t, opts)

	assert.Equal(t, `[1,null,null]`, serializeText(t, s, []any{1, nil, domain.Undefined}))
}

func TestSerialize_FullEscaping(t *testing.T) {
	s, _ := newTestSerializer(t, DefaultSerializeOptions())

	got := serializeText(t, s, map[string]any{"a": "line\nbreak \"quoted\" <b>"})

	assert.Equal(t, `{"a":"line\nbreak \"quoted\" <b>"}`, got)
}

func TestSerialize_DateFormats(t *testing.T) {
	when := time.Date(2024, 1, 2, 3, 4, 5, 600_000_000, time.UTC)
	input := map[string]any{"at": when}

	tests := []struct {
		format DateFormat
		want   string
	}{
		{format: DateFormatISO, want: `{"at":"2024-01-02T03:04:05.600Z"}`},
		{format: DateFormatTimestamp, want: `{"at":1704164645600}`},
		{format: DateFormatUnix, want: `{"at":1704164645}`},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			opts := DefaultSerializeOptions()
			opts.DateFormat = tt.format
			s, _ := newTestSerializer(t, opts)
			assert.Equal(t, tt.want, serializeText(t, s, input))
		})
	}
}

func TestSerialize_BigInt(t *testing.T) {
	huge, ok := new(big.Int).SetString("123456789012345678901234567890", 10)
	require.True(t, ok)

	s, _ := newTestSerializer(t, DefaultSerializeOptions())

	assert.Equal(t, `{"n":"123456789012345678901234567890"}`, serializeText(t, s, map[string]any{"n": huge}))
}

func TestSerialize_CycleAndDepthSentinels(t *testing.T) {
	node := map[string]any{"id": 1}
	node["self"] = node

	s, _ := newTestSerializer(t, DefaultSerializeOptions())
	assert.Equal(t, `{"id":1,"self":"[Circular reference]"}`, serializeText(t, s, node))

	opts := DefaultSerializeOptions()
	opts.MaxDepth = 1
	s, _ = newTestSerializer(t, opts)
	assert.Equal(t, `{"a":"[Max depth reached]","b":2}`,
		serializeText(t, s, map[string]any{"a": []any{1}, "b": 2}))
}

func TestSerialize_Transformers(t *testing.T) {
	redact, err := BuiltinTransformer("redact")
	require.NoError(t, err)
	omit, err := BuiltinTransformer("omit")
	require.NoError(t, err)

	opts := DefaultSerializeOptions()
	opts.Transformers = map[string]Transformer{
		"password": redact,
		"internal": omit,
		"name": func(_ string, v any) (any, error) {
			return strings.ToUpper(v.(string)), nil
		},
	}
	s, _ := newTestSerializer(t, opts)

	got := serializeText(t, s, map[string]any{
		"password": "hunter2",
		"internal": "x",
		"user":     map[string]any{"name": "ada"},
	})

	assert.Equal(t, `{"password":"[REDACTED]","user":{"name":"ADA"}}`, got)
}

func TestSerialize_TransformerFailureKeepsValue(t *testing.T) {
	opts := DefaultSerializeOptions()
	opts.Transformers = map[string]Transformer{
		"broken": func(string, any) (any, error) { return nil, errors.New("boom") },
		"panics": func(string, any) (any, error) { panic("kaboom") },
	}
	s, logs := newTestSerializer(t, opts)

	got := serializeText(t, s, map[string]any{"broken": "a", "panics": "b"})

	assert.Equal(t, `{"broken":"a","panics":"b"}`, got)
	assert.Contains(t, logs.String(), "serializer: transformer failed")
	assert.Contains(t, logs.String(), "serializer: transformer panicked")
}

func TestSerialize_UnsupportedValueFails(t *testing.T) {
	s, _ := newTestSerializer(t, DefaultSerializeOptions())

	_, err := s.Serialize(map[string]any{"ch": make(chan int)})

	require.Error(t, err)
	assert.True(t, IsSerializationError(err))
	assert.ErrorIs(t, err, domain.ErrSerialization)
	assert.Contains(t, err.Error(), "ch")
}

func TestEstimateSize(t *testing.T) {
	s, logs := newTestSerializer(t, DefaultSerializeOptions())
	input := map[string]any{"a": "xyz", "b": []any{1, 2}}

	assert.Equal(t, len(serializeText(t, s, input)), s.EstimateSize(input))
	assert.Equal(t, 0, s.EstimateSize(map[string]any{"fn": func() {}}))
	assert.Contains(t, logs.String(), "size estimation failed")
}

func TestSerialize_StreamsLargeSequence(t *testing.T) {
	items := make([]any, 5000)
	for i := range items {
		items[i] = map[string]any{"id": i, "name": "item"}
	}

	opts := DefaultSerializeOptions()
	opts.EnableStreaming = true
	opts.MemoryLimit = 1
	opts.BatchSize = 1000
	s, _ := newTestSerializer(t, opts)

	out, err := s.Serialize(items)
	require.NoError(t, err)
	require.NotNil(t, out.Stream)
	assert.Equal(t, 5000, out.Stream.Total())

	var chunks []string
	for chunk := range out.Stream.All() {
		chunks = append(chunks, chunk)
	}
	require.NoError(t, out.Stream.Err())
	// Header, five batches and the footer.
	assert.Len(t, chunks, 7)

	var decoded struct {
		Data []map[string]any `json:"data"`
		Meta struct {
			Total    int  `json:"total"`
			Streamed bool `json:"streamed"`
		} `json:"meta"`
	}
	require.NoError(t, gojson.Unmarshal([]byte(strings.Join(chunks, "")), &decoded))
	assert.Len(t, decoded.Data, 5000)
	assert.Equal(t, 5000, decoded.Meta.Total)
	assert.True(t, decoded.Meta.Streamed)
	assert.EqualValues(t, 4999, decoded.Data[4999]["id"])

	_, more := out.Stream.Next()
	assert.False(t, more, "stream must not restart")
}

func TestSerialize_StreamEmptySequence(t *testing.T) {
	opts := DefaultSerializeOptions()
	opts.EnableStreaming = true
	opts.MemoryLimit = 1
	s, _ := newTestSerializer(t, opts)

	out, err := s.Serialize([]any{})
	require.NoError(t, err)
	require.NotNil(t, out.Stream)

	var buf bytes.Buffer
	_, err = out.Stream.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, `{"data":[],"meta":{"total":0,"streamed":true}}`, buf.String())
}

func TestSerialize_StreamCycleBackToRoot(t *testing.T) {
	items := make([]any, 2)
	items[0] = "first"
	items[1] = map[string]any{"back": items}

	opts := DefaultSerializeOptions()
	opts.EnableStreaming = true
	opts.MemoryLimit = 1
	s, _ := newTestSerializer(t, opts)

	out, err := s.Serialize(items)
	require.NoError(t, err)
	require.NotNil(t, out.Stream)

	var buf bytes.Buffer
	_, err = out.Stream.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t,
		`{"data":["first",{"back":"[Circular reference]"}],"meta":{"total":2,"streamed":true}}`,
		buf.String())
}

func TestSerialize_StreamingFallsBackForMaps(t *testing.T) {
	opts := DefaultSerializeOptions()
	opts.EnableStreaming = true
	opts.MemoryLimit = 1
	s, _ := newTestSerializer(t, opts)

	out, err := s.Serialize(map[string]any{"a": 1})
	require.NoError(t, err)
	assert.Nil(t, out.Stream)
	assert.Equal(t, `{"a":1}`, out.Text)
}

func TestSerialize_StreamStopsEarly(t *testing.T) {
	opts := DefaultSerializeOptions()
	opts.EnableStreaming = true
	opts.MemoryLimit = 1
	opts.BatchSize = 1
	s, _ := newTestSerializer(t, opts)

	out, err := s.Serialize([]any{1, 2, 3})
	require.NoError(t, err)

	var chunks []string
	for chunk := range out.Stream.All() {
		chunks = append(chunks, chunk)
		if len(chunks) == 2 {
			break
		}
	}
	assert.Equal(t, []string{`{"data":[`, `1`}, chunks)

	next, ok := out.Stream.Next()
	assert.True(t, ok)
	assert.Equal(t, `,2`, next)
}
