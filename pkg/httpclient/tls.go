package httpclient

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net/http"
	"os"
)

// TLSConfig customizes certificate verification for outbound requests.
type TLSConfig struct {
	// CACertificate is a PEM file added as the only trusted root.
	CACertificate string
	// InsecureSkipVerify disables verification. Test setups only.
	InsecureSkipVerify bool
}

// Transport builds a transport cloned from http.DefaultTransport.
func (c TLSConfig) Transport() (*http.Transport, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: c.InsecureSkipVerify}
	if c.CACertificate != "" {
		pem, err := os.ReadFile(c.CACertificate)
		if err != nil {
			return nil, fmt.Errorf("read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", c.CACertificate)
		}
		cfg.RootCAs = pool
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = cfg
	return tr, nil
}

// WithTLSConfig installs a transport built from cfg. A broken config keeps
// the default transport and logs a warning.
func WithTLSConfig(cfg *TLSConfig) Option {
	return func(c *Client) {
		if cfg == nil {
			return
		}
		tr, err := cfg.Transport()
		if err != nil {
			slog.Warn("Ignoring TLS config", "error", err)
			return
		}
		if c.client == nil {
			c.client = &http.Client{Timeout: defaultTimeout}
		}
		c.client.Transport = tr
	}
}
