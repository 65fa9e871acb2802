package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/always-cache/offline-cache/cache"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config, err := getConfig("")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3000", config.Origin)
	assert.Equal(t, []string{"/", "index.html"}, config.Manifest)
	assert.Equal(t, "index.html", config.OfflineDocument)
	assert.Empty(t, config.AllowedHosts)
	assert.False(t, config.Tracing.Enabled)
}

func TestConfigFileOverridesDefaults(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(filename, []byte(`
origin: https://app.test
manifest:
  - /
  - offline.html
  - /app.css
offlineDocument: offline.html
allowedHosts:
  - images.test
`), 0644))

	config, err := getConfig(filename)
	require.NoError(t, err)
	assert.Equal(t, "https://app.test", config.Origin)
	assert.Equal(t, []string{"/", "offline.html", "/app.css"}, config.Manifest)
	assert.Equal(t, "offline.html", config.OfflineDocument)
	assert.Equal(t, []string{"images.test"}, config.AllowedHosts)
	// untouched keys keep their defaults
	assert.Equal(t, "/sw.js", config.ScriptPath)
}

func TestEnvOverridesConfig(t *testing.T) {
	t.Setenv("OFFLINE_CACHE_ORIGIN", "https://env.test")
	t.Setenv("OFFLINE_CACHE_ALLOWED_HOSTS", "a.test,b.test")
	t.Setenv("OFFLINE_CACHE_DISABLE_SKIP_WAITING", "true")
	t.Setenv("OFFLINE_CACHE_OTEL_ENDPOINT", "http://collector.test:4318")

	config, err := getConfig("")
	require.NoError(t, err)
	assert.Equal(t, "https://env.test", config.Origin)
	assert.Equal(t, []string{"a.test", "b.test"}, config.AllowedHosts)
	assert.True(t, config.DisableSkipWaiting)
	assert.Equal(t, "http://collector.test:4318", config.Tracing.Endpoint)
	assert.Equal(t, []string{"/", "index.html"}, config.Manifest)
}

func TestMissingConfigFile(t *testing.T) {
	_, err := getConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestWorkerConfig(t *testing.T) {
	config, err := getConfig("")
	require.NoError(t, err)
	logger := zerolog.Nop()

	wc, err := config.workerConfig("v7", cache.NewMemStorage(), &logger)
	require.NoError(t, err)
	assert.Equal(t, "localhost:3000", wc.Origin.Host)
	assert.Equal(t, "v7", wc.Generation)
	assert.Equal(t, config.Manifest, wc.Manifest)

	config.Origin = "localhost:3000"
	_, err = config.workerConfig("v7", cache.NewMemStorage(), &logger)
	assert.Error(t, err)
}
