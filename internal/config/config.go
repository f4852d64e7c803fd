// Package config handles configuration loading for InsightAgent.
// It supports YAML config files, .env files and environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "INSIGHTAGENT"

// Config represents the complete application configuration.
type Config struct {
	LLM      LLMConfig           `mapstructure:"llm"      yaml:"llm" json:"llm"`
	EDGAR    EDGARConfig         `mapstructure:"edgar"    yaml:"edgar" json:"edgar"`
	Registry RegistryConfig      `mapstructure:"registry" yaml:"registry" json:"registry"`
	Tags     map[string][]string `mapstructure:"tags"     yaml:"tags" json:"tags"`
	Pipeline PipelineConfig      `mapstructure:"pipeline" yaml:"pipeline" json:"pipeline"`
	API      APIConfig           `mapstructure:"api"      yaml:"api" json:"api"`
	Logging  LoggingConfig       `mapstructure:"logging"  yaml:"logging" json:"logging"`
}

// LLMConfig holds intent-parser model configuration.
type LLMConfig struct {
	Primary     string  `mapstructure:"primary"     yaml:"primary" json:"primary"` // "openai" or "ollama"
	OpenAIKey   string  `mapstructure:"openai_key"  yaml:"openai_key" json:"-"`
	OpenAIURL   string  `mapstructure:"openai_url"  yaml:"openai_url" json:"openai_url"`
	OllamaURL   string  `mapstructure:"ollama_url"  yaml:"ollama_url" json:"ollama_url"`
	Model       string  `mapstructure:"model"       yaml:"model" json:"model"`
	OllamaModel string  `mapstructure:"ollama_model" yaml:"ollama_model" json:"ollama_model"`
	Temperature float64 `mapstructure:"temperature" yaml:"temperature" json:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"  yaml:"max_tokens" json:"max_tokens"`
	TimeoutSec  int     `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
}

// EDGARConfig holds SEC EDGAR access settings.
type EDGARConfig struct {
	BaseURL        string `mapstructure:"base_url"         yaml:"base_url" json:"base_url"`
	ArchiveURL     string `mapstructure:"archive_url"      yaml:"archive_url" json:"archive_url"`
	FeedURL        string `mapstructure:"feed_url"         yaml:"feed_url" json:"feed_url"`
	UserAgent      string `mapstructure:"user_agent"       yaml:"user_agent" json:"user_agent"`
	RequestDelayMS int    `mapstructure:"request_delay_ms" yaml:"request_delay_ms" json:"request_delay_ms"`
	TimeoutSec     int    `mapstructure:"timeout_sec"      yaml:"timeout_sec" json:"timeout_sec"`
	IndexCacheTTL  int    `mapstructure:"index_cache_ttl"  yaml:"index_cache_ttl" json:"index_cache_ttl"` // seconds
}

// RegistryConfig points at an optional company registry file.
type RegistryConfig struct {
	File string `mapstructure:"file" yaml:"file" json:"file"`
}

// PipelineConfig holds orchestrator settings.
type PipelineConfig struct {
	ParseTimeoutSec  int `mapstructure:"parse_timeout_sec" yaml:"parse_timeout_sec" json:"parse_timeout_sec"`
	BatchConcurrency int `mapstructure:"batch_concurrency" yaml:"batch_concurrency" json:"batch_concurrency"`
	LatestLookback   int `mapstructure:"latest_lookback"   yaml:"latest_lookback" json:"latest_lookback"`
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	Host              string   `mapstructure:"host"                yaml:"host" json:"host"`
	Port              int      `mapstructure:"port"                yaml:"port" json:"port"`
	CORSOrigins       []string `mapstructure:"cors_origins"        yaml:"cors_origins" json:"cors_origins"`
	RequestTimeoutSec int      `mapstructure:"request_timeout_sec" yaml:"request_timeout_sec" json:"request_timeout_sec"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level" json:"level"`  // "debug", "info", "warn", "error"
	Format string `mapstructure:"format" yaml:"format" json:"format"` // "text" or "json"
}

// Duration helpers.

func (c EDGARConfig) RequestDelay() time.Duration {
	return time.Duration(c.RequestDelayMS) * time.Millisecond
}

func (c EDGARConfig) Timeout() time.Duration { return seconds(c.TimeoutSec) }

func (c EDGARConfig) CacheTTL() time.Duration { return seconds(c.IndexCacheTTL) }

func (c LLMConfig) Timeout() time.Duration { return seconds(c.TimeoutSec) }

func (c PipelineConfig) ParseTimeout() time.Duration { return seconds(c.ParseTimeoutSec) }

func (c APIConfig) RequestTimeout() time.Duration { return seconds(c.RequestTimeoutSec) }

// Addr returns host:port for the HTTP listener.
func (c APIConfig) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml (project root)
//  2. ~/.insightagent/config.yaml (home directory)
//  3. /etc/insightagent/config.yaml (system)
//
// A .env file in the working directory is loaded first; it never overrides
// variables already set in the process environment.
// Environment variables override config file values.
// Format: INSIGHTAGENT_<SECTION>_<KEY>, e.g., INSIGHTAGENT_LLM_OPENAI_KEY
func Load() (*Config, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}

	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".insightagent"))
	v.AddConfigPath("/etc/insightagent")

	// Read config file (not required to exist)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return decode(v)
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}

	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}
	return decode(v)
}

// LoadDotEnv loads the given .env files (default ".env"). Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	overrideFromEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults sets sensible defaults for all config values.
func setDefaults(v *viper.Viper) {
	// LLM defaults
	v.SetDefault("llm.primary", "openai")
	v.SetDefault("llm.openai_url", "https://api.openai.com/v1")
	v.SetDefault("llm.ollama_url", "")
	v.SetDefault("llm.model", "gpt-3.5-turbo")
	v.SetDefault("llm.ollama_model", "qwen2.5:7b")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.max_tokens", 256)
	v.SetDefault("llm.timeout_sec", 60)

	// EDGAR defaults
	v.SetDefault("edgar.base_url", "https://data.sec.gov")
	v.SetDefault("edgar.archive_url", "https://www.sec.gov/Archives/edgar/data")
	v.SetDefault("edgar.feed_url", "https://www.sec.gov/cgi-bin/browse-edgar")
	v.SetDefault("edgar.user_agent", "InsightAgent research agent@insightagent.com")
	v.SetDefault("edgar.request_delay_ms", 200) // SEC allows 10 req/s
	v.SetDefault("edgar.timeout_sec", 30)
	v.SetDefault("edgar.index_cache_ttl", 600) // 10 minutes

	// Registry defaults
	v.SetDefault("registry.file", "")

	// Pipeline defaults
	v.SetDefault("pipeline.parse_timeout_sec", 60)
	v.SetDefault("pipeline.batch_concurrency", 4)
	v.SetDefault("pipeline.latest_lookback", 2)

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("api.request_timeout_sec", 120)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// overrideFromEnv explicitly reads sensitive keys from environment variables.
// OPENAI_API_KEY is honoured as a fallback for the prefixed variable.
func overrideFromEnv(cfg *Config) {
	if key := os.Getenv(EnvPrefix + "_LLM_OPENAI_KEY"); key != "" {
		cfg.LLM.OpenAIKey = key
	} else if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.LLM.OpenAIKey == "" {
		cfg.LLM.OpenAIKey = key
	}
	if ua := os.Getenv(EnvPrefix + "_EDGAR_USER_AGENT"); ua != "" {
		cfg.EDGAR.UserAgent = ua
	}
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.EDGAR.UserAgent) == "" {
		return errors.New("config: edgar.user_agent must identify the caller")
	}
	if c.EDGAR.RequestDelayMS < 0 {
		return fmt.Errorf("config: edgar.request_delay_ms must be >= 0, got %d", c.EDGAR.RequestDelayMS)
	}
	if c.Pipeline.BatchConcurrency < 1 {
		return fmt.Errorf("config: pipeline.batch_concurrency must be >= 1, got %d", c.Pipeline.BatchConcurrency)
	}
	if c.Pipeline.LatestLookback < 0 {
		return fmt.Errorf("config: pipeline.latest_lookback must be >= 0, got %d", c.Pipeline.LatestLookback)
	}
	return nil
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
