package config

import (
	"crypto/tls"
	"strings"
)

// TLSConfig represents TLS termination for the proxy listener.
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	CertFile   string `yaml:"cert_file" json:"cert_file"`
	KeyFile    string `yaml:"key_file" json:"key_file"`
	MinVersion string `yaml:"min_version,omitempty" json:"min_version,omitempty"`
}

var tlsVersions = map[string]uint16{
	"1.2": tls.VersionTLS12,
	"1.3": tls.VersionTLS13,
}

// Validate checks that an enabled listener has key material and a supported
// minimum version.
func (c *TLSConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if strings.TrimSpace(c.CertFile) == "" {
		return NewConfigMissingError("cert_file").
			WithSuggestion("Provide a path to a valid TLS certificate file").
			WithSuggestion("Ensure the certificate file is in PEM format")
	}
	if strings.TrimSpace(c.KeyFile) == "" {
		return NewConfigMissingError("key_file").
			WithSuggestion("Provide a path to a valid TLS private key file")
	}
	if c.MinVersion != "" {
		if _, ok := tlsVersions[strings.TrimSpace(c.MinVersion)]; !ok {
			return NewConfigValidationError("min_version", c.MinVersion, "unsupported TLS version").
				WithSuggestion("Use 1.2 or 1.3")
		}
	}
	return nil
}

// ServerTLS builds the listener's tls.Config. Certificates are loaded by the
// server from CertFile and KeyFile.
func (c *TLSConfig) ServerTLS() *tls.Config {
	minVersion := uint16(tls.VersionTLS12)
	if v, ok := tlsVersions[strings.TrimSpace(c.MinVersion)]; ok {
		minVersion = v
	}
	return &tls.Config{MinVersion: minVersion}
}
