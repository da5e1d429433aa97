package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seaward-systems/streamsift/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, 8098, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "nats://localhost:4222", cfg.Broker.URL)
	assert.Equal(t, 4, cfg.Broker.Partitions)
	assert.Equal(t, "streamsift-es", cfg.Broker.ESGroup)
	assert.Equal(t, "streamsift-ca", cfg.Broker.CAGroup)
	assert.Equal(t, 10, cfg.ES.MaxFailedDocRetries)
	assert.Equal(t, time.Minute, cfg.ES.CheckpointInterval)
	assert.Equal(t, 3*time.Minute, cfg.CA.CheckpointInterval)
	assert.Equal(t, 1<<20, cfg.CA.BufferCapacity)
	assert.True(t, cfg.CA.Compress)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
broker:
  url: nats://broker:4222
  partitions: 8
es:
  url: https://search:9200
  username: ingest
  password: secret
ca:
  compress: false
  log_schema_id: 11111111-2222-3333-4444-555555555555
  interactions_schema_id: 99999999-8888-7777-6666-555555555555
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "nats://broker:4222", cfg.Broker.URL)
	assert.Equal(t, 8, cfg.Broker.Partitions)
	assert.Equal(t, "https://search:9200", cfg.ES.URL)
	assert.Equal(t, "ingest", cfg.ES.Username)
	assert.False(t, cfg.CA.Compress)

	logID, err := cfg.CA.LogSchemaUUID()
	require.NoError(t, err)
	assert.Equal(t, "11111111-2222-3333-4444-555555555555", logID.String())

	interactionsID, err := cfg.CA.InteractionsSchemaUUID()
	require.NoError(t, err)
	assert.Equal(t, "99999999-8888-7777-6666-555555555555", interactionsID.String())
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("STREAMSIFT_ES_URL", "https://env-search:9200")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://env-search:9200", cfg.ES.URL)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestCAConfig_BadSchemaID(t *testing.T) {
	cfg := config.CAConfig{LogSchemaID: "not-a-uuid"}
	_, err := cfg.LogSchemaUUID()
	assert.Error(t, err)
}
