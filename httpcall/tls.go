package httpcall

import (
	"crypto/tls"
	"crypto/x509"
	"os"

	apperrors "github.com/korelabs/asynchttp/errors"
)

// TLSConfig holds the transport security knobs the backend understands:
// pinning a CA bundle, overriding the verified server name, raising the
// protocol floor, or disabling verification for local development.
type TLSConfig struct {
	// SkipVerify disables server certificate verification. Never use this
	// against a production origin.
	SkipVerify bool `yaml:"skip_verify" mapstructure:"skip_verify"`

	// CABundle is the path to a PEM file of CA certificates that replaces
	// the system roots when verifying the origin.
	CABundle string `yaml:"ca_bundle" mapstructure:"ca_bundle"`

	// ServerName overrides the hostname checked against the origin's
	// certificate.
	ServerName string `yaml:"server_name" mapstructure:"server_name"`

	// MinVersion is the lowest acceptable TLS version. Zero means TLS 1.2.
	MinVersion uint16 `yaml:"min_version" mapstructure:"min_version"`
}

// build produces the *tls.Config for the backend transport, or nil when no
// field is set so the transport keeps its defaults.
func (c *TLSConfig) build() (*tls.Config, error) {
	if c == nil || (!c.SkipVerify && c.CABundle == "" && c.ServerName == "" && c.MinVersion == 0) {
		return nil, nil
	}

	minVersion := c.MinVersion
	if minVersion == 0 {
		minVersion = tls.VersionTLS12
	}

	cfg := &tls.Config{
		InsecureSkipVerify: c.SkipVerify,
		ServerName:         c.ServerName,
		MinVersion:         minVersion,
	}

	if c.CABundle != "" {
		pem, err := os.ReadFile(c.CABundle)
		if err != nil {
			return nil, apperrors.InvalidArg("unreadable CA bundle").WithCause(err)
		}
		roots := x509.NewCertPool()
		if !roots.AppendCertsFromPEM(pem) {
			return nil, apperrors.InvalidArg("CA bundle contains no usable certificates").
				WithDetail("path", c.CABundle)
		}
		cfg.RootCAs = roots
	}

	return cfg, nil
}
