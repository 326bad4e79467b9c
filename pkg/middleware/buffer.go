package middleware

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

const defaultBufferThreshold = 1 * 1024 * 1024

// hybridBuffer keeps small bodies in memory and spills larger ones to a
// temp file. It can be replayed any number of times until Cleanup.
type hybridBuffer struct {
	threshold int64
	size      int64
	buffer    bytes.Buffer
	file      *os.File
	tempPath  string
}

func newHybridBuffer(threshold int64) *hybridBuffer {
	if threshold <= 0 {
		threshold = defaultBufferThreshold
	}
	return &hybridBuffer{threshold: threshold}
}

func (b *hybridBuffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	if b.file != nil {
		n, err := b.file.Write(p)
		b.size += int64(n)
		return n, err
	}

	projected := b.size + int64(len(p))
	if projected <= b.threshold {
		n, err := b.buffer.Write(p)
		b.size += int64(n)
		return n, err
	}

	if err := b.promoteToFile(); err != nil {
		return 0, err
	}

	n, err := b.file.Write(p)
	b.size += int64(n)
	return n, err
}

func (b *hybridBuffer) promoteToFile() error {
	if b.file != nil {
		return nil
	}

	file, err := os.CreateTemp("", "polis-shape-body-*")
	if err != nil {
		return fmt.Errorf("middleware: failed to create temp buffer: %w", err)
	}
	b.tempPath = file.Name()

	if b.buffer.Len() > 0 {
		if _, err := file.Write(b.buffer.Bytes()); err != nil {
			_ = file.Close()
			_ = os.Remove(b.tempPath)
			b.tempPath = ""
			return fmt.Errorf("middleware: failed to persist buffer: %w", err)
		}
		b.buffer.Reset()
	}

	b.file = file
	return nil
}

// Reader rewinds the buffer and returns a reader over its full contents.
func (b *hybridBuffer) Reader() (io.Reader, error) {
	if b.file != nil {
		if _, err := b.file.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("middleware: failed to rewind buffer: %w", err)
		}
		return io.LimitReader(b.file, b.size), nil
	}
	return bytes.NewReader(b.buffer.Bytes()), nil
}

// Spilled reports whether the body was moved to a temp file.
func (b *hybridBuffer) Spilled() bool {
	return b.file != nil
}

// Cleanup releases the temp file, if any.
func (b *hybridBuffer) Cleanup() {
	if b.file != nil {
		_ = b.file.Close()
		_ = os.Remove(b.tempPath)
		b.file = nil
		b.tempPath = ""
	}
	b.buffer.Reset()
	b.size = 0
}

func (b *hybridBuffer) Len() int {
	if b.size < 0 {
		return 0
	}
	return int(b.size)
}
