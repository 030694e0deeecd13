package client

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/otherjamesbrown/redact-cli/config"
)

// LoadClientTLSConfig creates a tls.Config for HTTPS analyzer endpoints.
// Returns nil if TLS is not enabled in the configuration.
func LoadClientTLSConfig(cfg *config.TLSConfig) (*tls.Config, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	cfg.ResolvePaths()

	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.SkipVerify,
	}

	// Mutual TLS is optional for the analyzer.
	if cfg.ClientCert != "" && cfg.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if cfg.CACert != "" && !cfg.SkipVerify {
		caCert, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("read CA cert: %w", err)
		}

		caPool := x509.NewCertPool()
		if !caPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("parse CA cert: invalid PEM")
		}

		tlsConfig.RootCAs = caPool
	}

	return tlsConfig, nil
}

// CheckCertsExist verifies the configured certificate files are present.
// Only paths that are set are checked.
func CheckCertsExist(cfg *config.TLSConfig) error {
	cfg.ResolvePaths()

	files := map[string]string{
		"CA certificate":     cfg.CACert,
		"Client certificate": cfg.ClientCert,
		"Client key":         cfg.ClientKey,
	}

	for name, path := range files {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return fmt.Errorf("%s not found: %s", name, path)
		}
	}

	return nil
}

// NewHTTPClient builds the HTTP client used for analyzer calls, applying
// the TLS settings when enabled.
func NewHTTPClient(timeout time.Duration, tlsCfg *config.TLSConfig) (*http.Client, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	tc, err := LoadClientTLSConfig(tlsCfg)
	if err != nil {
		return nil, err
	}
	if tc == nil {
		return &http.Client{Timeout: timeout}, nil
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tc
	return &http.Client{Timeout: timeout, Transport: transport}, nil
}

// FromConfig builds an AnalyzerClient from CLI configuration.
func FromConfig(cfg *config.CLIConfig, token string, opts ...Option) (*AnalyzerClient, error) {
	httpClient, err := NewHTTPClient(cfg.Timeout, &cfg.TLS)
	if err != nil {
		return nil, fmt.Errorf("configuring TLS: %w", err)
	}
	return NewAnalyzerClient(Config{
		BaseURL:    cfg.AnalyzerURL,
		Timeout:    cfg.Timeout,
		Token:      token,
		HTTPClient: httpClient,
	}, opts...)
}
