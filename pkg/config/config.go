package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds all gateway configuration.
type Config struct {
	Listen    string          `yaml:"listen"`
	DBPath    string          `yaml:"db_path"`
	LogLevel  string          `yaml:"log_level"`
	Provider  ProviderConfig  `yaml:"provider"`
	Cache     CacheConfig     `yaml:"cache"`
	Safety    SafetyConfig    `yaml:"safety"`
	Concierge ConciergeConfig `yaml:"concierge"`
	Weather   WeatherConfig   `yaml:"weather"`
	Personal  PersonalConfig  `yaml:"personalize"`
	Translate TranslateConfig `yaml:"translate"`
}

// ProviderConfig defines the upstream chat completion provider.
type ProviderConfig struct {
	Name              string        `yaml:"name"`
	URL               string        `yaml:"url"`
	APIKey            string        `yaml:"api_key"`
	DefaultModel      string        `yaml:"default_model"`
	FallbackModels    []string      `yaml:"fallback_models"`
	AllowedNamespaces []string      `yaml:"allowed_namespaces"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffBase       time.Duration `yaml:"backoff_base"`
	Referer           string        `yaml:"referer"`
	Title             string        `yaml:"title"`

	// MaxBackoff caps every wait between attempts, including waits asked
	// for by a Retry-After header.
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// CacheConfig controls the durable tier of the response cache.
// Driver is "sqlite" (default), "postgres" or "none".
type CacheConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Driver      string `yaml:"driver"`
	DatabaseURL string `yaml:"database_url"`
}

// SafetyConfig controls the pre-chat safety classifier.
type SafetyConfig struct {
	Enabled   bool          `yaml:"enabled"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
	MaxTokens int           `yaml:"max_tokens"`
	Model     string        `yaml:"model"`
}

// ConciergeConfig controls the chat concierge.
type ConciergeConfig struct {
	HistoryTurns  int           `yaml:"history_turns"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
	MaxTokens     int           `yaml:"max_tokens"`
	Temperature   float64       `yaml:"temperature"`
	FallbackReply string        `yaml:"fallback_reply"`
	DeclineReply  string        `yaml:"decline_reply"`
}

// WeatherConfig defines the weather provider used by personalization.
type WeatherConfig struct {
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// PersonalConfig controls the personalization caller.
type PersonalConfig struct {
	CacheTTL  time.Duration `yaml:"cache_ttl"`
	MaxTokens int           `yaml:"max_tokens"`
}

// TranslateConfig controls the translation orchestrator.
type TranslateConfig struct {
	SourceLanguage string        `yaml:"source_language"`
	SecondaryURL   string        `yaml:"secondary_url"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	BatchSize      int           `yaml:"batch_size"`
	MaxTokens      int           `yaml:"max_tokens"`
	Timeout        time.Duration `yaml:"timeout"`
}

// envOverrides are applied after the YAML file; unset variables leave the
// file values untouched.
type envOverrides struct {
	APIKey         string   `env:"OPENROUTER_API_KEY"`
	DefaultModel   string   `env:"AI_DEFAULT_MODEL"`
	FallbackModels []string `env:"AI_FALLBACK_MODELS" envSeparator:","`
	WeatherAPIKey  string   `env:"WEATHER_API_KEY"`
	DatabaseURL    string   `env:"DATABASE_URL"`
	Listen         string   `env:"LISTEN_ADDR"`
	LogLevel       string   `env:"LOG_LEVEL"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen:   ":8080",
		DBPath:   "aigateway.db",
		LogLevel: "info",
		Provider: ProviderConfig{
			Name:         "openrouter",
			URL:          "https://openrouter.ai/api/v1",
			DefaultModel: "openai/gpt-4o-mini",
			FallbackModels: []string{
				"anthropic/claude-3.5-haiku",
				"google/gemini-2.0-flash-001",
			},
			AllowedNamespaces: []string{"openai", "anthropic", "google", "meta-llama", "mistralai"},
			Timeout:           20 * time.Second,
			MaxAttempts:       3,
			BackoffBase:       500 * time.Millisecond,
			MaxBackoff:        8 * time.Second,
		},
		Cache: CacheConfig{
			Enabled: true,
			Driver:  "sqlite",
		},
		Safety: SafetyConfig{
			Enabled:   true,
			CacheTTL:  5 * time.Minute,
			MaxTokens: 120,
		},
		Concierge: ConciergeConfig{
			HistoryTurns:  12,
			CacheTTL:      10 * time.Minute,
			MaxTokens:     700,
			Temperature:   0.4,
			FallbackReply: "Thanks for reaching out! Our energy advisors are happy to help. Share a few details about your site or project and we will get back to you, or use the contact form to reach the nearest office.",
			DeclineReply:  "I can only help with questions about our energy consulting services, projects and offices.",
		},
		Weather: WeatherConfig{
			URL:     "https://api.weatherapi.com/v1",
			Timeout: 8 * time.Second,
		},
		Personal: PersonalConfig{
			CacheTTL:  30 * time.Minute,
			MaxTokens: 500,
		},
		Translate: TranslateConfig{
			SourceLanguage: "en",
			SecondaryURL:   "https://translate.googleapis.com/translate_a/single",
			CacheTTL:       30 * 24 * time.Hour,
			BatchSize:      40,
			MaxTokens:      4000,
			Timeout:        10 * time.Second,
		},
	}
}

// Load reads a YAML config file, expands environment variables and applies
// environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but starts from Default when the file does
// not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	cfg = Default()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if o.APIKey != "" {
		cfg.Provider.APIKey = o.APIKey
	}
	if o.DefaultModel != "" {
		cfg.Provider.DefaultModel = o.DefaultModel
	}
	if len(o.FallbackModels) > 0 {
		cfg.Provider.FallbackModels = o.FallbackModels
	}
	if o.WeatherAPIKey != "" {
		cfg.Weather.APIKey = o.WeatherAPIKey
	}
	if o.DatabaseURL != "" {
		cfg.Cache.DatabaseURL = o.DatabaseURL
	}
	if o.Listen != "" {
		cfg.Listen = o.Listen
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	return nil
}

var placeholderKeys = map[string]bool{
	"your-api-key":      true,
	"your_api_key":      true,
	"your-api-key-here": true,
	"changeme":          true,
	"change-me":         true,
	"replace-me":        true,
	"placeholder":       true,
	"none":              true,
	"null":              true,
	"undefined":         true,
}

// UsableKey reports whether key looks like a real credential. Empty values,
// placeholders and demo markers are rejected.
func UsableKey(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	switch {
	case k == "":
		return false
	case placeholderKeys[k]:
		return false
	case k == "demo" || strings.HasPrefix(k, "demo-") || strings.HasPrefix(k, "demo_"):
		return false
	case strings.HasPrefix(k, "<") && strings.HasSuffix(k, ">"):
		return false
	case strings.HasPrefix(k, "${"):
		return false
	case strings.HasPrefix(k, "sk-xxx") || strings.Contains(k, "xxxxxxxx"):
		return false
	}
	return true
}
