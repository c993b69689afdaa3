package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 2000, cfg.PollingIntervalMs)
	assert.Equal(t, int64(5*1024*1024), cfg.ChunkSizeBytes)
	assert.Equal(t, int64(100*1024*1024), cfg.MaxFileSizeBytes)
	assert.Equal(t, 1000, cfg.MaxDataPoints)
	assert.Equal(t, 1000, cfg.MaxTraces)
	assert.Equal(t, "1h", cfg.TimeRange)
	assert.Equal(t, 0, cfg.WebPort, "web UI disabled by default")
	assert.False(t, cfg.OTLPEnabled, "OTLP ingest disabled by default")
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"dir": "/var/telemetry",
		"polling_interval_ms": 500,
		"time_range": "6h",
		"web_port": 8080
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfigFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/telemetry", cfg.Dir)
	assert.Equal(t, 500, cfg.PollingIntervalMs)
	assert.Equal(t, "6h", cfg.TimeRange)
	assert.Equal(t, 8080, cfg.WebPort)
	// Unset fields stay zero so merging can tell them apart.
	assert.Equal(t, 0, cfg.MaxDataPoints)
}

func TestLoadConfigFromFileErrors(t *testing.T) {
	_, err := LoadConfigFromFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	badPath := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(badPath, []byte("{not json"), 0o644))
	_, err = LoadConfigFromFile(badPath)
	assert.Error(t, err)
}

func TestMergeConfigsOverlayWins(t *testing.T) {
	base := DefaultConfig()
	overlay := &Config{
		Dir:               "/var/telemetry",
		PollingIntervalMs: 250,
		TimeRange:         "24h",
		MaxTraces:         50,
		OTLPEnabled:       true,
	}

	merged := MergeConfigs(base, overlay)

	assert.Equal(t, "/var/telemetry", merged.Dir)
	assert.Equal(t, 250, merged.PollingIntervalMs)
	assert.Equal(t, "24h", merged.TimeRange)
	assert.Equal(t, 50, merged.MaxTraces)
	assert.True(t, merged.OTLPEnabled)
	// Fields the overlay left zero keep base values.
	assert.Equal(t, 1000, merged.MaxDataPoints)
	assert.Equal(t, int64(5*1024*1024), merged.ChunkSizeBytes)
}

func TestMergeConfigsNilHandling(t *testing.T) {
	base := DefaultConfig()
	assert.Equal(t, base, MergeConfigs(base, nil))

	overlay := &Config{Dir: "/x"}
	merged := MergeConfigs(nil, overlay)
	assert.Equal(t, "/x", merged.Dir)
}

func TestMergeConfigsDoesNotMutateBase(t *testing.T) {
	base := DefaultConfig()
	MergeConfigs(base, &Config{PollingIntervalMs: 1})
	assert.Equal(t, 2000, base.PollingIntervalMs)
}
