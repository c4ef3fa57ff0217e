package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ModelGrokFast    = "x-ai/grok-4-fast:free"
	ModelGeminiFlash = "google/gemini-2.0-flash-exp:free"

	DefaultBaseURL = "https://openrouter.ai/api/v1"
)

// Models lists the selectable model identifiers
var Models = []string{ModelGrokFast, ModelGeminiFlash}

// Flow holds sampling parameters for one pipeline flow
type Flow struct {
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// Flows groups the per-flow sampling parameters
type Flows struct {
	Chat     Flow `yaml:"chat"`
	Generate Flow `yaml:"generate"`
	Refine   Flow `yaml:"refine"`
	Discuss  Flow `yaml:"discuss"`
}

// Retry configures the request executor's backoff
type Retry struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
}

// Config holds application configuration
type Config struct {
	Model     string `yaml:"model"`
	APIKey    string `yaml:"-"`
	BaseURL   string `yaml:"base_url"`
	SessionID string `yaml:"-"`
	Debug     bool   `yaml:"debug"`

	// Handoff persistence; empty DBPath keeps the session in memory only
	DBPath string `yaml:"db_path"`
	LogDir string `yaml:"log_dir"`

	Telemetry      bool          `yaml:"telemetry"`
	CacheResponses bool          `yaml:"cache_responses"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`

	// Optional OpenRouter attribution headers
	Referer string `yaml:"referer"`
	Title   string `yaml:"title"`

	Retry Retry `yaml:"retry"`
	Flows Flows `yaml:"flows"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Model:   ModelGrokFast,
		BaseURL: DefaultBaseURL,
		DBPath:  "autoscript.db",
		LogDir:  "logs",
		Retry: Retry{
			MaxAttempts:    5,
			InitialBackoff: time.Second,
		},
		Flows: Flows{
			Chat:     Flow{MaxTokens: 5000, Temperature: 0.7},
			Generate: Flow{MaxTokens: 8000, Temperature: 0.6},
			Refine:   Flow{MaxTokens: 9000, Temperature: 0.4},
			Discuss:  Flow{MaxTokens: 2000, Temperature: 0.7},
		},
	}
}

// Load builds a Config from defaults, then the YAML file at path (if it exists), then a
// .env file in the working directory, then environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := firstEnv("AUTOSCRIPT_API_KEY", "OPENROUTER_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("AUTOSCRIPT_MODEL"); v != "" {
		c.Model = v
	}
	if v := os.Getenv("AUTOSCRIPT_BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv("AUTOSCRIPT_DB"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("AUTOSCRIPT_DEBUG"); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid AUTOSCRIPT_DEBUG %q: %w", v, err)
		}
		c.Debug = debug
	}
	return nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

// KnownModel reports whether id is one of Models
func KnownModel(id string) bool {
	for _, m := range Models {
		if m == id {
			return true
		}
	}
	return false
}

// Validate checks the fields required to talk to the completion service
func (c Config) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("model must be set")
	}
	if c.APIKey == "" {
		return fmt.Errorf("API key not set (use -api-key, AUTOSCRIPT_API_KEY or OPENROUTER_API_KEY)")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.InitialBackoff < 0 {
		return fmt.Errorf("retry.initial_backoff must not be negative")
	}
	return nil
}

// Headers returns the extra request headers implied by the configuration
func (c Config) Headers() map[string]string {
	headers := map[string]string{}
	if c.Referer != "" {
		headers["HTTP-Referer"] = c.Referer
	}
	if c.Title != "" {
		headers["X-Title"] = c.Title
	}
	return headers
}
