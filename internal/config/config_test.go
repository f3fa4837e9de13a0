package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logcollectord/pkg/logentry"
)

func TestLoadAppliesDefaultsWithNoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "0.0.0.0", cfg.Server.ListenAddr)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "tcp", cfg.Uplink.Protocol)
	assert.Equal(t, 10, cfg.Collector.BatchSize)
	assert.Equal(t, 1000, cfg.Collector.MaxQueueSize)
	assert.Equal(t, "gzip", cfg.Collector.CompressAlgo)
}

func TestLoadReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "collectord.yaml")
	doc := `
server:
  listenAddr: 10.0.0.5
  port: 7000
collector:
  batchSize: 50
  minLevel: WARNING
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", cfg.Server.ListenAddr)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, 50, cfg.Collector.BatchSize)
	assert.Equal(t, "WARNING", cfg.Collector.MinLevel)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load("/nonexistent/collectord.yaml")
	assert.Error(t, err)
}

func TestEnvironmentOverridesWinOverDefaults(t *testing.T) {
	t.Setenv("COLLECTORD_LISTEN_ADDR", "192.168.1.1")
	t.Setenv("COLLECTORD_PORT", "9999")
	t.Setenv("COLLECTORD_ENABLE_RETRY", "false")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.1", cfg.Server.ListenAddr)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.False(t, cfg.Collector.EnableRetry)
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.Server.Port = 0
	assert.Error(t, Validate(cfg))
}

func TestValidateRejectsUnknownUplinkProtocol(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.Uplink.Protocol = "carrier-pigeon"
	assert.Error(t, Validate(cfg))
}

func TestValidateRejectsUnparseableDurations(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.Collector.FlushInterval = "not-a-duration"
	assert.Error(t, Validate(cfg))
}

func TestToCollectorConfigConverts(t *testing.T) {
	dcc := DefaultCollectorConfig{
		BatchSize:     25,
		FlushInterval: "2s",
		MaxQueueSize:  500,
		MinLevel:      "ERROR",
		CompressAlgo:  "snappy",
		EnableRetry:   true,
		MaxRetryCount: 7,
		RetryInterval: "3s",
	}

	cc := dcc.ToCollectorConfig()
	assert.Equal(t, 25, cc.BatchSize)
	assert.Equal(t, logentry.Error, cc.MinLevel)
	assert.Equal(t, 7, cc.MaxRetryCount)
	require.NoError(t, cc.Validate())
}
