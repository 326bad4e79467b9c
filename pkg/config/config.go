// Package config provides configuration structures and loading logic for the
// response optimization proxy.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

const (
	defaultListen          = ":8080"
	defaultAdminPrefix     = "/_shape"
	defaultShutdownTimeout = 15 * time.Second
)

// Config holds the global configuration for the proxy.
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
	Optimizer OptimizerConfig `yaml:"optimizer" json:"optimizer"`
}

// ServerConfig holds configuration for the HTTP server and its upstream.
type ServerConfig struct {
	Listen          string        `yaml:"listen" json:"listen"`
	Upstream        string        `yaml:"upstream" json:"upstream"`
	AdminPrefix     string        `yaml:"admin_prefix" json:"admin_prefix"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	TLS             *TLSConfig    `yaml:"tls,omitempty" json:"tls,omitempty"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Pretty bool   `yaml:"pretty" json:"pretty"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	ServiceName  string `yaml:"service_name" json:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure" json:"insecure"`
	Environment  string `yaml:"environment" json:"environment"`
	// Headers are sent with every OTLP export, e.g. collector auth tokens.
	Headers map[string]string `yaml:"headers" json:"headers"`
	// ResourceTags are attached to every exported span and metric.
	ResourceTags map[string]string `yaml:"resource_tags" json:"resource_tags"`
}

// OptimizerConfig mirrors optimizer.Config in file form. Sizes accept either a
// byte count or a human readable quantity such as "10MiB".
type OptimizerConfig struct {
	MaxDepth        int                 `yaml:"max_depth" json:"max_depth"`
	RemoveEmpty     bool                `yaml:"remove_empty" json:"remove_empty"`
	MaxResponseSize ByteSize            `yaml:"max_response_size" json:"max_response_size"`
	Serialization   SerializationConfig `yaml:"serialization" json:"serialization"`
	Compression     CompressionConfig   `yaml:"compression" json:"compression"`
}

// SerializationConfig configures the guarded serializer. Transformers maps a
// property name to a builtin transformer name such as "redact" or "truncate:64".
type SerializationConfig struct {
	MaxDepth        int               `yaml:"max_depth" json:"max_depth"`
	DateFormat      string            `yaml:"date_format" json:"date_format"`
	RemoveNulls     bool              `yaml:"remove_nulls" json:"remove_nulls"`
	RemoveUndefined bool              `yaml:"remove_undefined" json:"remove_undefined"`
	EnableStreaming bool              `yaml:"enable_streaming" json:"enable_streaming"`
	MemoryLimit     ByteSize          `yaml:"memory_limit" json:"memory_limit"`
	BatchSize       int               `yaml:"batch_size" json:"batch_size"`
	Transformers    map[string]string `yaml:"transformers,omitempty" json:"transformers,omitempty"`
}

// CompressionConfig configures the compressor.
type CompressionConfig struct {
	Enabled    bool     `yaml:"enabled" json:"enabled"`
	Threshold  ByteSize `yaml:"threshold" json:"threshold"`
	Level      int      `yaml:"level" json:"level"`
	Algorithms []string `yaml:"algorithms" json:"algorithms"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          defaultListen,
			AdminPrefix:     defaultAdminPrefix,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Optimizer: OptimizerConfig{
			MaxDepth:        10,
			MaxResponseSize: 10 * 1024 * 1024,
			Serialization: SerializationConfig{
				MaxDepth:        10,
				DateFormat:      "iso",
				RemoveUndefined: true,
				MemoryLimit:     50 * 1024 * 1024,
				BatchSize:       1000,
			},
			Compression: CompressionConfig{
				Enabled:    true,
				Threshold:  1024,
				Level:      6,
				Algorithms: []string{"gzip", "deflate"},
			},
		},
	}
}

// Load reads configuration from a file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		//nolint:gosec // Config file path is controlled by admin/operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := decode(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// decode accepts YAML and, failing that, JSON.
func decode(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := gojson.Unmarshal(data, cfg); jsonErr != nil {
			return err
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("SHAPE_LISTEN"); val != "" {
		cfg.Server.Listen = val
	}
	if val := os.Getenv("SHAPE_UPSTREAM"); val != "" {
		cfg.Server.Upstream = val
	}
	if val := os.Getenv("SHAPE_ADMIN_PREFIX"); val != "" {
		cfg.Server.AdminPrefix = val
	}

	if val := os.Getenv("SHAPE_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}

	if val := os.Getenv("SHAPE_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("SHAPE_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}

	if val := os.Getenv("SHAPE_COMPRESSION_ENABLED"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			cfg.Optimizer.Compression.Enabled = enabled
		}
	}
	if val := os.Getenv("SHAPE_COMPRESSION_THRESHOLD"); val != "" {
		if size, err := ParseByteSize(val); err == nil {
			cfg.Optimizer.Compression.Threshold = size
		}
	}
	if val := os.Getenv("SHAPE_COMPRESSION_LEVEL"); val != "" {
		if level, err := strconv.Atoi(val); err == nil {
			cfg.Optimizer.Compression.Level = level
		}
	}
	if val := os.Getenv("SHAPE_COMPRESSION_ALGORITHMS"); val != "" {
		var algorithms []string
		for _, name := range strings.Split(val, ",") {
			if name = strings.TrimSpace(name); name != "" {
				algorithms = append(algorithms, name)
			}
		}
		cfg.Optimizer.Compression.Algorithms = algorithms
	}
	if val := os.Getenv("SHAPE_MAX_RESPONSE_SIZE"); val != "" {
		if size, err := ParseByteSize(val); err == nil {
			cfg.Optimizer.MaxResponseSize = size
		}
	}

	if val := os.Getenv("SHAPE_TLS_CERT_FILE"); val != "" {
		if cfg.Server.TLS == nil {
			cfg.Server.TLS = &TLSConfig{}
		}
		cfg.Server.TLS.Enabled = true
		cfg.Server.TLS.CertFile = val
	}
	if val := os.Getenv("SHAPE_TLS_KEY_FILE"); val != "" {
		if cfg.Server.TLS == nil {
			cfg.Server.TLS = &TLSConfig{}
		}
		cfg.Server.TLS.KeyFile = val
	}
}

// Validate performs validation of the entire configuration. Missing values
// are filled with defaults.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server configuration: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}
	if err := c.Optimizer.Validate(); err != nil {
		return fmt.Errorf("optimizer configuration: %w", err)
	}
	return nil
}

// Validate performs validation of server configuration.
func (c *ServerConfig) Validate() error {
	if strings.TrimSpace(c.Listen) == "" {
		c.Listen = defaultListen
	}
	if strings.TrimSpace(c.AdminPrefix) == "" {
		c.AdminPrefix = defaultAdminPrefix
	}
	if !strings.HasPrefix(c.AdminPrefix, "/") {
		return NewConfigValidationError("admin_prefix", c.AdminPrefix, "must start with '/'")
	}
	c.AdminPrefix = strings.TrimRight(c.AdminPrefix, "/")
	if c.AdminPrefix == "" {
		return NewConfigValidationError("admin_prefix", "/", "must not be the root path").
			WithSuggestion("Use a dedicated prefix such as /_shape")
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}

	if c.TLS != nil {
		if err := c.TLS.Validate(); err != nil {
			return fmt.Errorf("TLS configuration: %w", err)
		}
	}
	return nil
}

// Validate performs validation of logging configuration.
func (c *LoggingConfig) Validate() error {
	if strings.TrimSpace(c.Level) == "" {
		c.Level = "info"
	}

	level := strings.TrimSpace(strings.ToLower(c.Level))
	switch level {
	case "debug", "info", "warn", "error":
		c.Level = level
		return nil
	default:
		return NewConfigValidationError("level", c.Level, "supported levels: debug, info, warn, error")
	}
}

// Validate checks the optimizer section. Transformer names and algorithms
// are resolved during conversion, which reports unknown names.
func (c *OptimizerConfig) Validate() error {
	if c.MaxResponseSize < 0 {
		return NewConfigValidationError("max_response_size", c.MaxResponseSize, "must not be negative")
	}
	if c.Serialization.BatchSize < 0 {
		return NewConfigValidationError("serialization.batch_size", c.Serialization.BatchSize, "must not be negative")
	}
	if c.Compression.Threshold < 0 {
		return NewConfigValidationError("compression.threshold", c.Compression.Threshold, "must not be negative")
	}
	if err := c.Compression.validateLevel(); err != nil {
		return err
	}
	_, err := c.ToOptimizer()
	return err
}

// levelRanges holds the accepted compression levels per algorithm. Level 0
// selects the default and is valid everywhere.
var levelRanges = map[string][2]int{
	"gzip":    {1, 9},
	"x-gzip":  {1, 9},
	"deflate": {1, 9},
	"br":      {1, 11},
	"zstd":    {1, 22},
}

// validateLevel checks the level against every configured algorithm, since
// one level is shared by all of them.
func (c *CompressionConfig) validateLevel() error {
	if c.Level == 0 {
		return nil
	}
	algorithms := c.Algorithms
	if len(algorithms) == 0 {
		algorithms = []string{"gzip", "deflate"}
	}
	for _, name := range algorithms {
		bounds, ok := levelRanges[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			// Unknown names are reported by ToOptimizer.
			continue
		}
		if c.Level < bounds[0] || c.Level > bounds[1] {
			return NewConfigValidationError("compression.level", c.Level,
				fmt.Sprintf("%s accepts levels %d-%d", name, bounds[0], bounds[1])).
				WithSuggestion("gzip and deflate accept 1-9, br 1-11, zstd 1-22; 0 selects the default")
		}
	}
	return nil
}
