package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	c := DefaultConfig()
	require.NoError(t, c.Validate())
	assert.Equal(t, []string{"tinydb", "graph", "kuzu"}, c.Coordinator.PrimaryStorePreference)
	assert.Equal(t, 3, c.Retry.MaxRetries)
}

func TestValidateFillsZeroValues(t *testing.T) {
	var c Config
	require.NoError(t, c.Validate())
	assert.Equal(t, "kv", c.Registry.DefaultStore)
	assert.Equal(t, 5, c.CircuitBreaker.FailureThreshold)
	assert.Equal(t, 10, c.Bulkhead.MaxConcurrentCalls)
	assert.Equal(t, 100, c.ErrorLogger.Capacity)
}

func TestFromEnvNoFileLogging(t *testing.T) {
	for _, v := range []string{"1", "true", "TRUE", "yes", "Yes"} {
		t.Run(v, func(t *testing.T) {
			t.Setenv("DEVSYNTH_NO_FILE_LOGGING", v)
			c := FromEnv()
			assert.True(t, c.NoFileLogging)
			assert.Empty(t, c.ErrorLogger.LogDir)
		})
	}
	t.Run("unset", func(t *testing.T) {
		os.Unsetenv("DEVSYNTH_NO_FILE_LOGGING")
		c := FromEnv()
		assert.False(t, c.NoFileLogging)
	})
}

func TestFromEnvResearchPersonas(t *testing.T) {
	t.Setenv("DEVSYNTH_EXTERNAL_RESEARCH_PERSONAS", "researcher, critic ,synthesizer")
	c := FromEnv()
	assert.Equal(t, []string{"researcher", "critic", "synthesizer"}, c.ResearchPersonas)
}

func TestFromEnvAutoresearchFallback(t *testing.T) {
	os.Unsetenv("DEVSYNTH_EXTERNAL_RESEARCH_PERSONAS")
	t.Setenv("DEVSYNTH_AUTORESEARCH_PERSONAS", "historian")
	c := FromEnv()
	assert.Equal(t, []string{"historian"}, c.ResearchPersonas)
}

func TestLoadYAMLOverridesMissingFileReturnsBase(t *testing.T) {
	base := DefaultConfig()
	c, err := LoadYAMLOverrides(filepath.Join(t.TempDir(), "missing.yaml"), base)
	require.NoError(t, err)
	assert.Equal(t, base, c)
}

func TestLoadYAMLOverridesAppliesSetFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overrides.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
coordinator:
  primary_store_preference: [graph, tinydb]
retry:
  max_retries: 7
  initial_delay: 250ms
logging:
  level: debug
`), 0o644))

	c, err := LoadYAMLOverrides(path, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, []string{"graph", "tinydb"}, c.Coordinator.PrimaryStorePreference)
	assert.Equal(t, 7, c.Retry.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, c.Retry.InitialDelay)
	assert.Equal(t, "debug", c.Logging.Level)
	assert.Equal(t, "stdout", c.Logging.Output)
}
