package optimizer

import (
	"bytes"
	"io"
	"iter"
	"strconv"
)

type streamState int

const (
	streamHeader streamState = iota
	streamBatches
	streamFooter
	streamDone
)

// ChunkStream produces a large sequence as JSON text fragments:
//
//	{"data":[  <batch>  ,<batch> ...  ],"meta":{"total":N,"streamed":true}}
//
// Each batch is serialized independently when pulled. A ChunkStream is finite
// and not restartable; a consumer may stop at any point without cleanup.
type ChunkStream struct {
	s     *Serializer
	root  any
	items []any
	pos   int
	state streamState
	err   error
}

func newChunkStream(s *Serializer, root any, items []any) *ChunkStream {
	return &ChunkStream{s: s, root: root, items: items}
}

// Total returns the number of elements the stream will emit.
func (c *ChunkStream) Total() int {
	return len(c.items)
}

// Err returns the error that stopped the stream early, if any.
func (c *ChunkStream) Err() error {
	return c.err
}

// Next returns the next chunk, or false once the stream is exhausted or failed.
func (c *ChunkStream) Next() (string, bool) {
	switch c.state {
	case streamHeader:
		c.state = streamBatches
		if len(c.items) == 0 {
			c.state = streamFooter
		}
		return `{"data":[`, true
	case streamBatches:
		chunk, err := c.nextBatch()
		if err != nil {
			c.err = err
			c.state = streamDone
			return "", false
		}
		if c.pos >= len(c.items) {
			c.state = streamFooter
		}
		return chunk, true
	case streamFooter:
		c.state = streamDone
		return `],"meta":{"total":` + strconv.Itoa(len(c.items)) + `,"streamed":true}}`, true
	default:
		return "", false
	}
}

func (c *ChunkStream) nextBatch() (string, error) {
	end := min(c.pos+c.s.opts.BatchSize, len(c.items))

	var buf bytes.Buffer
	if c.pos > 0 {
		buf.WriteByte(',')
	}

	enc := c.s.newEncoder(&buf, c.s.opts)
	// Elements referring back to the streamed sequence are cycles.
	if _, id, tracked, _ := asContainer(c.root); tracked {
		enc.path.enter(id)
	}
	for i := c.pos; i < end; i++ {
		if i > c.pos {
			buf.WriteByte(',')
		}
		enc.keys = append(enc.keys[:0], strconv.Itoa(i))
		if err := enc.encode(c.items[i], 1); err != nil {
			return "", err
		}
	}
	c.pos = end
	return buf.String(), nil
}

// All returns an iterator over the remaining chunks.
func (c *ChunkStream) All() iter.Seq[string] {
	return func(yield func(string) bool) {
		for {
			chunk, ok := c.Next()
			if !ok || !yield(chunk) {
				return
			}
		}
	}
}

// WriteTo writes the remaining chunks to w.
func (c *ChunkStream) WriteTo(w io.Writer) (int64, error) {
	var written int64
	for chunk := range c.All() {
		n, err := io.WriteString(w, chunk)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, c.err
}
