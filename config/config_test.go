package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cesmii/i3x/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 1024, cfg.Subscriptions.QueueCapacity)
	assert.Equal(t, time.Hour, cfg.Values.DefaultWindow)
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"http": {"addr": ":9090"},
		"storage": {"backend": "bolt", "bolt": {"path": "/tmp/i3x.db"}},
		"subscriptions": {"queueCapacity": 64}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, BackendBolt, cfg.Storage.Backend)
	assert.Equal(t, "/tmp/i3x.db", cfg.Storage.Bolt.Path)
	assert.Equal(t, 64, cfg.Subscriptions.QueueCapacity)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
http:
  addr: ":7070"
storage:
  backend: nats
  nats:
    url: nats://broker:4222
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.HTTP.Addr)
	assert.Equal(t, BackendNATS, cfg.Storage.Backend)
	assert.Equal(t, "nats://broker:4222", cfg.Storage.NATS.URL)
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := writeFile(t, "config.json", `{"http": {"addr": ":9090"}}`)
	t.Setenv("I3X_HTTP_ADDR", ":6060")
	t.Setenv("I3X_IDLE_TIMEOUT", "90s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":6060", cfg.HTTP.Addr)
	assert.Equal(t, 90*time.Second, cfg.Subscriptions.IdleTimeout)
}

func TestValidateCollectsViolations(t *testing.T) {
	cfg := Default()
	cfg.Storage.Backend = BackendBolt
	cfg.Subscriptions.QueueCapacity = -1

	err := cfg.Validate()
	var ve *errors.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Details, 2)
}

func TestValidateTLSRequiresCertAndKey(t *testing.T) {
	cfg := Default()
	cfg.HTTP.TLS.Enabled = true

	err := cfg.Validate()
	var ve *errors.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Details, 2)

	cfg.HTTP.TLS.CertFile = "/etc/i3x/cert.pem"
	cfg.HTTP.TLS.KeyFile = "/etc/i3x/key.pem"
	assert.NoError(t, cfg.Validate())
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	path := writeFile(t, "config.json", `{"storage": {"backend": "cassandra"}}`)
	_, err := Load(path)
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.json")
	require.Error(t, err)
}
