package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets the variables Load reads so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"AUTOSCRIPT_API_KEY", "OPENROUTER_API_KEY", "AUTOSCRIPT_MODEL", "AUTOSCRIPT_BASE_URL", "AUTOSCRIPT_DB", "AUTOSCRIPT_DEBUG"} {
		t.Setenv(k, "")
	}
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ModelGrokFast, cfg.Model)
	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Retry.InitialBackoff)
	assert.Equal(t, Flow{MaxTokens: 8000, Temperature: 0.6}, cfg.Flows.Generate)
	assert.Equal(t, Flow{MaxTokens: 9000, Temperature: 0.4}, cfg.Flows.Refine)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))

	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_YAMLFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "autoscript.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
model: google/gemini-2.0-flash-exp:free
cache_responses: true
cache_ttl: 10m
retry:
  max_attempts: 3
  initial_backoff: 250ms
flows:
  refine:
    max_tokens: 4000
    temperature: 0.2
`), 0o600))

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, ModelGeminiFlash, cfg.Model)
	assert.True(t, cfg.CacheResponses)
	assert.Equal(t, 10*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.InitialBackoff)
	assert.Equal(t, Flow{MaxTokens: 4000, Temperature: 0.2}, cfg.Flows.Refine)
	assert.Equal(t, Flow{MaxTokens: 8000, Temperature: 0.6}, cfg.Flows.Generate, "unset flows keep defaults")
}

func TestLoad_InvalidYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model: [unterminated"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENROUTER_API_KEY", "router-key")
	t.Setenv("AUTOSCRIPT_MODEL", "custom/model")
	t.Setenv("AUTOSCRIPT_DEBUG", "true")

	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, "router-key", cfg.APIKey)
	assert.Equal(t, "custom/model", cfg.Model)
	assert.True(t, cfg.Debug)

	t.Setenv("AUTOSCRIPT_API_KEY", "primary-key")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "primary-key", cfg.APIKey)
}

func TestLoad_DotEnv(t *testing.T) {
	clearEnv(t)
	require.NoError(t, os.Unsetenv("AUTOSCRIPT_API_KEY"))
	require.NoError(t, os.WriteFile(".env", []byte("AUTOSCRIPT_API_KEY=from-dotenv\n"), 0o600))

	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.APIKey)
}

func TestLoad_BadDebug(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTOSCRIPT_DEBUG", "maybe")

	_, err := Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.Validate())

	cfg.APIKey = "k"
	assert.NoError(t, cfg.Validate())

	cfg.Retry.MaxAttempts = 0
	assert.Error(t, cfg.Validate())
}

func TestHeaders(t *testing.T) {
	cfg := Default()
	assert.Empty(t, cfg.Headers())

	cfg.Referer = "https://example.com"
	cfg.Title = "AutoScript"
	assert.Equal(t, map[string]string{"HTTP-Referer": "https://example.com", "X-Title": "AutoScript"}, cfg.Headers())
}

func TestKnownModel(t *testing.T) {
	for _, m := range Models {
		assert.True(t, KnownModel(m), m)
	}
	assert.False(t, KnownModel("custom/model"))
	assert.False(t, KnownModel(""))
}
