package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the pipeline.
type Config struct {
	Sources   map[string]SourceConfig `mapstructure:"sources"`
	Storage   StorageConfig           `mapstructure:"storage"`
	Database  DatabaseConfig          `mapstructure:"database"`
	Retry     RetryConfig             `mapstructure:"retry"`
	Analysis  AnalysisConfig          `mapstructure:"analysis"`
	Server    ServerConfig            `mapstructure:"server"`
	Scheduler SchedulerConfig         `mapstructure:"scheduler"`
	Logging   LoggingConfig           `mapstructure:"logging"`
}

// SourceConfig enumerates the recognized options for one external provider.
type SourceConfig struct {
	BaseURL        string  `mapstructure:"base_url"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	APIKey         string  `mapstructure:"api_key"`
	RatePerSecond  float64 `mapstructure:"rate_per_second"`
	RateBurst      int     `mapstructure:"rate_burst"`
	TableID        string  `mapstructure:"table_id"`
	Dataset        string  `mapstructure:"dataset"`
}

// Timeout returns the per-request deadline for this source.
func (s SourceConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

type StorageConfig struct {
	RawDir       string `mapstructure:"raw_dir"`
	ProcessedDir string `mapstructure:"processed_dir"`
}

type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// ConnString builds a lib/pq connection string from the database settings.
func (d DatabaseConfig) ConnString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

// RetryConfig is the orchestrator-level retry policy for transient source
// failures. MaxAttempts of 1 means no retry.
type RetryConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

type AnalysisConfig struct {
	RecentWindow    int `mapstructure:"recent_window"`
	ForecastPeriods int `mapstructure:"forecast_periods"`
}

type ServerConfig struct {
	Port      int `mapstructure:"port"`
	CacheSize int `mapstructure:"cache_size"`
}

type SchedulerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Spec    string `mapstructure:"spec"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from a YAML file, expanding environment variable
// references before parsing so secrets like API keys can stay out of the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Round-trip through a map first so scalar types survive env expansion.
	var rawConfig map[string]interface{}
	if err := yaml.Unmarshal(data, &rawConfig); err != nil {
		return nil, fmt.Errorf("failed to unmarshal raw config: %w", err)
	}
	data, err = yaml.Marshal(rawConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal raw config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := v.ReadConfig(bytes.NewReader([]byte(expanded))); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source must be configured")
	}
	for name, src := range c.Sources {
		if src.BaseURL == "" {
			return fmt.Errorf("source %q: base_url is required", name)
		}
		if src.TimeoutSeconds <= 0 {
			return fmt.Errorf("source %q: timeout_seconds must be positive", name)
		}
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if c.Analysis.RecentWindow < 2 {
		return fmt.Errorf("analysis.recent_window must be at least 2")
	}
	if c.Analysis.ForecastPeriods < 0 {
		return fmt.Errorf("analysis.forecast_periods cannot be negative")
	}
	if c.Server.CacheSize <= 0 {
		return fmt.Errorf("server.cache_size must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.raw_dir", "data/raw")
	v.SetDefault("storage.processed_dir", "data/processed")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")

	v.SetDefault("retry.max_attempts", 1)
	v.SetDefault("retry.initial_backoff", "500ms")
	v.SetDefault("retry.max_backoff", "5s")

	v.SetDefault("analysis.recent_window", 10)
	v.SetDefault("analysis.forecast_periods", 5)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cache_size", 128)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.spec", "0 * * * *")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
