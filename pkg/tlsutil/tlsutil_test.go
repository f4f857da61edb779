package tlsutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// generateTestCert creates a self-signed certificate for testing
func generateTestCert(t *testing.T, commonName string) (certPEM, keyPEM []byte) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Test Org"},
			CommonName:   commonName,
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	require.NoError(t, err)

	certPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: certDER,
	})
	keyPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})

	return certPEM, keyPEM
}

// setupTestFiles creates temporary cert/key files for testing
func setupTestFiles(t *testing.T) (certFile, keyFile, caFile string) {
	t.Helper()

	tmpDir := t.TempDir()

	certPEM, keyPEM := generateTestCert(t, "localhost")

	certFile = filepath.Join(tmpDir, "cert.pem")
	keyFile = filepath.Join(tmpDir, "key.pem")
	caFile = filepath.Join(tmpDir, "ca.pem")

	require.NoError(t, os.WriteFile(certFile, certPEM, 0644))
	require.NoError(t, os.WriteFile(keyFile, keyPEM, 0600))
	require.NoError(t, os.WriteFile(caFile, certPEM, 0644))

	return certFile, keyFile, caFile
}

func TestLoadServerTLSConfig(t *testing.T) {
	certFile, keyFile, _ := setupTestFiles(t)

	tests := []struct {
		name       string
		cfg        ServerConfig
		wantNil    bool
		wantErr    bool
		minVersion uint16
	}{
		{
			name:    "disabled",
			cfg:     ServerConfig{Enabled: false},
			wantNil: true,
		},
		{
			name: "enabled with valid cert",
			cfg: ServerConfig{
				Enabled:    true,
				CertFile:   certFile,
				KeyFile:    keyFile,
				MinVersion: "1.3",
			},
			minVersion: tls.VersionTLS13,
		},
		{
			name: "default min version",
			cfg: ServerConfig{
				Enabled:  true,
				CertFile: certFile,
				KeyFile:  keyFile,
			},
			minVersion: tls.VersionTLS12,
		},
		{
			name: "missing cert file",
			cfg: ServerConfig{
				Enabled:  true,
				CertFile: "/nonexistent/cert.pem",
				KeyFile:  keyFile,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LoadServerTLSConfig(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Len(t, got.Certificates, 1)
			assert.Equal(t, tt.minVersion, got.MinVersion)
		})
	}
}

func TestLoadServerTLSConfigMTLS(t *testing.T) {
	certFile, keyFile, caFile := setupTestFiles(t)

	cfg := ServerConfig{
		Enabled:  true,
		CertFile: certFile,
		KeyFile:  keyFile,
		MTLS: ServerMTLS{
			Enabled:           true,
			ClientCAFiles:     []string{caFile},
			RequireClientCert: true,
		},
	}

	got, err := LoadServerTLSConfig(cfg)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, tls.RequireAndVerifyClientCert, got.ClientAuth)
	assert.NotNil(t, got.ClientCAs)
}

func TestLoadServerTLSConfigMTLSOptionalClientCert(t *testing.T) {
	certFile, keyFile, caFile := setupTestFiles(t)

	cfg := ServerConfig{
		Enabled:  true,
		CertFile: certFile,
		KeyFile:  keyFile,
		MTLS: ServerMTLS{
			Enabled:       true,
			ClientCAFiles: []string{caFile},
		},
	}

	got, err := LoadServerTLSConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, tls.VerifyClientCertIfGiven, got.ClientAuth)
}

func TestLoadServerTLSConfigMTLSBadCAFile(t *testing.T) {
	certFile, keyFile, _ := setupTestFiles(t)

	cfg := ServerConfig{
		Enabled:  true,
		CertFile: certFile,
		KeyFile:  keyFile,
		MTLS: ServerMTLS{
			Enabled:       true,
			ClientCAFiles: []string{"/nonexistent/ca.pem"},
		},
	}

	_, err := LoadServerTLSConfig(cfg)
	require.Error(t, err)
}

func TestVerifyAllowedClientCN(t *testing.T) {
	certPEM, _ := generateTestCert(t, "edge-gateway-01")
	block, _ := pem.Decode(certPEM)
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)

	chains := [][]*x509.Certificate{{cert}}

	assert.NoError(t, verifyAllowedClientCN(chains, []string{"edge-gateway-01"}))
	assert.Error(t, verifyAllowedClientCN(chains, []string{"other-client"}))
	assert.Error(t, verifyAllowedClientCN(nil, []string{"edge-gateway-01"}))
}

func TestParseTLSVersion(t *testing.T) {
	assert.Equal(t, uint16(tls.VersionTLS13), parseTLSVersion("1.3"))
	assert.Equal(t, uint16(tls.VersionTLS12), parseTLSVersion("1.2"))
	assert.Equal(t, uint16(tls.VersionTLS12), parseTLSVersion(""))
	assert.Equal(t, uint16(tls.VersionTLS12), parseTLSVersion("1.0"))
}
