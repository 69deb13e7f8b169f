package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/rewired-gh/netliquidity/internal/models"
	"github.com/rewired-gh/netliquidity/internal/series"
)

// Config represents the complete application configuration
type Config struct {
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Narrative NarrativeConfig `mapstructure:"narrative"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Cache     CacheConfig     `mapstructure:"cache"`
	API       APIConfig       `mapstructure:"api"`
	Export    ExportConfig    `mapstructure:"export"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// UpstreamConfig holds the series API configuration
type UpstreamConfig struct {
	BaseURL             string                  `mapstructure:"base_url" validate:"required,url"`
	Timeout             time.Duration           `mapstructure:"timeout"`
	MaxRetries          int                     `mapstructure:"max_retries" validate:"gte=1"`
	RetryDelayBase      time.Duration           `mapstructure:"retry_delay_base"`
	Concurrency         int                     `mapstructure:"concurrency" validate:"gte=1"`
	MaxIdleConns        int                     `mapstructure:"max_idle_conns"`
	MaxIdleConnsPerHost int                     `mapstructure:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration           `mapstructure:"idle_conn_timeout"`
	Sources             map[string]SourceConfig `mapstructure:"sources" validate:"dive"`
}

// SourceConfig describes one upstream series and its field adapter
type SourceConfig struct {
	Path    string          `mapstructure:"path" validate:"required,startswith=/"`
	Enabled bool            `mapstructure:"enabled"`
	Fields  series.FieldMap `mapstructure:"fields"`
}

// EngineConfig holds classification thresholds
type EngineConfig struct {
	TrendThreshold float64       `mapstructure:"trend_threshold" validate:"gte=0"`
	SecondaryNoise float64       `mapstructure:"secondary_noise" validate:"gte=0,lte=1"`
	MaxDateSkew    time.Duration `mapstructure:"max_date_skew" validate:"gte=0"`
	AuctionBand    float64       `mapstructure:"auction_band" validate:"gt=0"`
}

// NarrativeConfig holds the overall-condition cutoffs, in percent
type NarrativeConfig struct {
	Expansionary   float64 `mapstructure:"expansionary"`
	Contractionary float64 `mapstructure:"contractionary"`
}

// MonitorConfig holds cycle scheduling behavior
type MonitorConfig struct {
	Interval           time.Duration `mapstructure:"interval"`
	FallbackLastKnown  bool          `mapstructure:"fallback_last_known"`
	CooldownMultiplier int           `mapstructure:"cooldown_multiplier" validate:"gte=1"`
	HistoryLimit       int           `mapstructure:"history_limit" validate:"gte=1"`
}

// LLMConfig holds the text-generation endpoint configuration
type LLMConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	Model     string        `mapstructure:"model"`
	MaxTokens int           `mapstructure:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// StorageConfig holds storage and persistence configuration
type StorageConfig struct {
	MaxSnapshots int    `mapstructure:"max_snapshots" validate:"gte=1"`
	DBPath       string `mapstructure:"db_path"`
}

// CacheConfig holds upstream response caching
type CacheConfig struct {
	Backend       string        `mapstructure:"backend" validate:"oneof=none memory redis"`
	TTL           time.Duration `mapstructure:"ttl"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
}

// APIConfig holds the snapshot HTTP API configuration
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// ExportConfig holds history export configuration
type ExportConfig struct {
	Dir    string `mapstructure:"dir"`
	Format string `mapstructure:"format" validate:"oneof=csv parquet json"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	setDefaults(v)

	v.SetEnvPrefix("NETLIQ")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// defaultSources mirrors the endpoints of the upstream liquidity API
func defaultSources() map[string]any {
	def := series.DefaultFieldMap()
	auc := series.AuctionFieldMap()
	fields := func(f series.FieldMap) map[string]any {
		return map[string]any{
			"date_fields":  f.DateFields,
			"value_fields": f.ValueFields,
			"pct_fields":   f.PctFields,
		}
	}
	src := func(path string, f series.FieldMap) map[string]any {
		return map[string]any{"path": path, "enabled": true, "fields": fields(f)}
	}
	return map[string]any{
		"treasury_account":      src("/api/tga-all", def),
		"reverse_repo":          src("/api/rrp-all", def),
		"balance_sheet":         src("/api/walcl-all", def),
		"securities_holdings":   src("/api/soma-all", def),
		"securities_treasuries": src("/api/soma-treasuries-all", def),
		"securities_mbs":        src("/api/soma-mbs-all", def),
		"auction_volume":        src("/api/auctions", auc),
	}
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Upstream defaults
	v.SetDefault("upstream.base_url", "http://localhost:5173")
	v.SetDefault("upstream.timeout", "30s")
	v.SetDefault("upstream.max_retries", 3)
	v.SetDefault("upstream.retry_delay_base", "1s")
	v.SetDefault("upstream.concurrency", 4)
	v.SetDefault("upstream.max_idle_conns", 20)
	v.SetDefault("upstream.max_idle_conns_per_host", 10)
	v.SetDefault("upstream.idle_conn_timeout", "90s")
	v.SetDefault("upstream.sources", defaultSources())

	// Engine defaults
	v.SetDefault("engine.trend_threshold", 0.1)
	v.SetDefault("engine.secondary_noise", 0.15)
	v.SetDefault("engine.max_date_skew", "192h") // balance sheet is weekly
	v.SetDefault("engine.auction_band", 10.0)

	// Narrative defaults
	v.SetDefault("narrative.expansionary", 0.5)
	v.SetDefault("narrative.contractionary", -0.5)

	// Monitor defaults
	v.SetDefault("monitor.interval", "30s")
	v.SetDefault("monitor.fallback_last_known", false)
	v.SetDefault("monitor.cooldown_multiplier", 120)
	v.SetDefault("monitor.history_limit", 500)

	// LLM defaults
	v.SetDefault("llm.enabled", false)
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.max_tokens", 800)
	v.SetDefault("llm.timeout", "60s")

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Storage defaults
	v.SetDefault("storage.max_snapshots", 5000)
	v.SetDefault("storage.db_path", "./data/netliquidity.db")

	// Cache defaults
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("cache.redis_addr", "localhost:6379")

	// API defaults
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen", ":8080")

	// Export defaults
	v.SetDefault("export.dir", "./data/export")
	v.SetDefault("export.format", "csv")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

var validate = validator.New()

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Validate Upstream config
	for _, role := range models.RequiredRoles {
		src, ok := c.Upstream.Sources[string(role)]
		if !ok || !src.Enabled {
			return fmt.Errorf("upstream.sources.%s is required and must be enabled", role)
		}
	}
	for name := range c.Upstream.Sources {
		if !models.Role(name).Valid() {
			return fmt.Errorf("upstream.sources.%s is not a known source", name)
		}
	}

	// Validate Narrative config
	if c.Narrative.Contractionary >= c.Narrative.Expansionary {
		return fmt.Errorf("narrative.contractionary must be below narrative.expansionary")
	}

	// Validate Monitor config
	if c.Monitor.Interval < 10*time.Second {
		return fmt.Errorf("monitor.interval must be at least 10 seconds")
	}

	// Validate LLM config
	if c.LLM.Enabled {
		if c.LLM.BaseURL == "" {
			return fmt.Errorf("llm.base_url is required when llm is enabled")
		}
		if c.LLM.Model == "" {
			return fmt.Errorf("llm.model is required when llm is enabled")
		}
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Cache config
	if c.Cache.Backend == "redis" && c.Cache.RedisAddr == "" {
		return fmt.Errorf("cache.redis_addr is required when cache.backend is redis")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
