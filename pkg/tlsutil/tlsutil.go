// Package tlsutil builds tls.Config values for the HTTP gateway from
// file-based certificate configuration.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/cesmii/i3x/errors"
)

// ServerConfig configures TLS termination for a listener. A zero value
// leaves TLS disabled.
type ServerConfig struct {
	Enabled    bool       `json:"enabled" yaml:"enabled"`
	CertFile   string     `json:"certFile,omitempty" yaml:"certFile"`
	KeyFile    string     `json:"keyFile,omitempty" yaml:"keyFile"`
	MinVersion string     `json:"minVersion,omitempty" yaml:"minVersion"`
	MTLS       ServerMTLS `json:"mtls,omitempty" yaml:"mtls"`
}

// ServerMTLS configures client certificate validation.
type ServerMTLS struct {
	Enabled           bool     `json:"enabled" yaml:"enabled"`
	ClientCAFiles     []string `json:"clientCaFiles,omitempty" yaml:"clientCaFiles"`
	RequireClientCert bool     `json:"requireClientCert,omitempty" yaml:"requireClientCert"`
	AllowedClientCNs  []string `json:"allowedClientCns,omitempty" yaml:"allowedClientCns"`
}

// LoadServerTLSConfig creates a tls.Config for the gateway listener.
// Returns (nil, nil) when TLS is disabled.
func LoadServerTLSConfig(cfg ServerConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "LoadServerTLSConfig", "load certificate")
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   parseTLSVersion(cfg.MinVersion),
	}

	if cfg.MTLS.Enabled {
		if err := applyMTLSConfig(tlsConfig, cfg.MTLS); err != nil {
			return nil, err
		}
	}

	return tlsConfig, nil
}

// applyMTLSConfig applies client certificate validation to an existing config.
func applyMTLSConfig(tlsConfig *tls.Config, cfg ServerMTLS) error {
	clientCAs := x509.NewCertPool()
	for _, caFile := range cfg.ClientCAFiles {
		caPEM, err := os.ReadFile(caFile)
		if err != nil {
			return errors.WrapFatal(err, "tlsutil", "applyMTLSConfig",
				fmt.Sprintf("read client CA file %s", caFile))
		}
		if !clientCAs.AppendCertsFromPEM(caPEM) {
			return errors.WrapFatal(
				fmt.Errorf("invalid PEM data"),
				"tlsutil", "applyMTLSConfig",
				fmt.Sprintf("parse client CA certificate from %s", caFile))
		}
	}

	tlsConfig.ClientCAs = clientCAs
	if cfg.RequireClientCert {
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	} else {
		tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven
	}

	if len(cfg.AllowedClientCNs) > 0 {
		tlsConfig.VerifyPeerCertificate = func(_ [][]byte, verifiedChains [][]*x509.Certificate) error {
			return verifyAllowedClientCN(verifiedChains, cfg.AllowedClientCNs)
		}
	}

	return nil
}

// verifyAllowedClientCN checks if the client certificate CN is in the allowed list
func verifyAllowedClientCN(chains [][]*x509.Certificate, allowedCNs []string) error {
	if len(chains) == 0 {
		return fmt.Errorf("no verified certificate chains")
	}

	leafCert := chains[0][0]
	for _, allowedCN := range allowedCNs {
		if leafCert.Subject.CommonName == allowedCN {
			return nil
		}
	}

	return fmt.Errorf("client certificate CN '%s' not in allowed list",
		leafCert.Subject.CommonName)
}

// parseTLSVersion converts a version string to a crypto/tls constant.
// Returns tls.VersionTLS12 if empty or invalid.
func parseTLSVersion(version string) uint16 {
	switch version {
	case "1.3":
		return tls.VersionTLS13
	case "1.2":
		return tls.VersionTLS12
	default:
		return tls.VersionTLS12
	}
}
