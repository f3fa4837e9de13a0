package kvsink

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFromJSONAppliesDefaults(t *testing.T) {
	cfg, err := ConfigFromJSON([]byte(`{"host":"cache.internal","port":6379}`))
	require.NoError(t, err)
	assert.Equal(t, "cache.internal", cfg.Host)
	assert.Equal(t, 6379, cfg.Port)
	assert.Equal(t, 3000, cfg.Timeout)
	assert.Equal(t, 4, cfg.PoolSize)
}

func TestConfigFromJSONHonorsExplicitValues(t *testing.T) {
	cfg, err := ConfigFromJSON([]byte(`{"host":"cache.internal","port":6379,"timeout":500,"poolSize":8,"database":2}`))
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.Timeout)
	assert.Equal(t, 8, cfg.PoolSize)
	assert.Equal(t, 2, cfg.Database)
}

func TestConfigFromJSONRejectsMalformedDocument(t *testing.T) {
	_, err := ConfigFromJSON([]byte(`{bad`))
	assert.Error(t, err)
}

func TestNewBuildsClientWithoutDialing(t *testing.T) {
	cfg, err := ConfigFromJSON([]byte(`{"host":"127.0.0.1","port":1,"timeout":50}`))
	require.NoError(t, err)

	sink := New(cfg)
	defer sink.Close()

	// go-redis connects lazily, so constructing the Sink must not block
	// or dial; only an explicit command (Ping) touches the network.
	assert.NotNil(t, sink)
}

func TestPingFailsFastAgainstUnreachableHost(t *testing.T) {
	cfg, err := ConfigFromJSON([]byte(`{"host":"127.0.0.1","port":1,"timeout":100}`))
	require.NoError(t, err)

	sink := New(cfg)
	defer sink.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	err = sink.Ping(ctx)
	assert.Error(t, err)
}
