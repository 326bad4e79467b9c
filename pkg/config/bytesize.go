package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// ByteSize is a byte quantity written either as an integer or as a human
// readable string ("512KB", "10MiB").
type ByteSize int

// ParseByteSize parses an integer byte count or a humanized quantity.
func ParseByteSize(raw string) (ByteSize, error) {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.Atoi(raw); err == nil {
		return ByteSize(n), nil
	}
	n, err := humanize.ParseBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", raw, err)
	}
	if n > math.MaxInt32 {
		return 0, fmt.Errorf("byte size %q is too large", raw)
	}
	return ByteSize(n), nil
}

// String renders the size with IEC units.
func (b ByteSize) String() string {
	if b < 0 {
		return strconv.Itoa(int(b))
	}
	return humanize.IBytes(uint64(b))
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: byte size must be a scalar", node.Line)
	}
	size, err := ParseByteSize(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*b = size
	return nil
}

// UnmarshalJSON accepts numbers and strings.
func (b *ByteSize) UnmarshalJSON(data []byte) error {
	size, err := ParseByteSize(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*b = size
	return nil
}
