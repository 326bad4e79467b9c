package config

import (
	"fmt"
	"sort"

	"github.com/polisai/polis-shape/pkg/domain"
	"github.com/polisai/polis-shape/pkg/optimizer"
)

// ToOptimizer converts the file form into the optimizer pipeline config,
// resolving algorithm and transformer names.
func (c OptimizerConfig) ToOptimizer() (optimizer.Config, error) {
	algorithms := make([]domain.Algorithm, 0, len(c.Compression.Algorithms))
	for _, name := range c.Compression.Algorithms {
		algo, err := domain.ParseAlgorithm(name)
		if err != nil {
			return optimizer.Config{}, NewConfigValidationError("compression.algorithms", name, err.Error()).
				WithSuggestion("Supported algorithms: gzip, deflate, br, zstd")
		}
		algorithms = append(algorithms, algo)
	}

	transformers, err := resolveTransformers(c.Serialization.Transformers)
	if err != nil {
		return optimizer.Config{}, err
	}

	return optimizer.Config{
		MaxDepth:        c.MaxDepth,
		RemoveEmpty:     c.RemoveEmpty,
		MaxResponseSize: int(c.MaxResponseSize),
		Serialization: optimizer.SerializeOptions{
			MaxDepth:        c.Serialization.MaxDepth,
			DateFormat:      optimizer.DateFormat(c.Serialization.DateFormat),
			RemoveNulls:     c.Serialization.RemoveNulls,
			RemoveUndefined: c.Serialization.RemoveUndefined,
			Transformers:    transformers,
			EnableStreaming: c.Serialization.EnableStreaming,
			MemoryLimit:     int(c.Serialization.MemoryLimit),
			BatchSize:       c.Serialization.BatchSize,
		},
		Compression: optimizer.CompressionConfig{
			Enabled:    c.Compression.Enabled,
			Threshold:  int(c.Compression.Threshold),
			Level:      c.Compression.Level,
			Algorithms: algorithms,
		},
	}, nil
}

func resolveTransformers(names map[string]string) (map[string]optimizer.Transformer, error) {
	if len(names) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(names))
	for key := range names {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	transformers := make(map[string]optimizer.Transformer, len(names))
	for _, key := range keys {
		fn, err := optimizer.BuiltinTransformer(names[key])
		if err != nil {
			return nil, fmt.Errorf("serialization.transformers[%s]: %w", key, err)
		}
		transformers[key] = fn
	}
	return transformers, nil
}
