package config

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Scraper   ScraperConfig   `yaml:"scraper" mapstructure:"scraper"`
	Scheduler SchedulerConfig `yaml:"scheduler" mapstructure:"scheduler"`
	Proxy     ProxyConfig     `yaml:"proxy" mapstructure:"proxy"`
	Dedup     DedupConfig     `yaml:"dedup" mapstructure:"dedup"`
	Quality   QualityConfig   `yaml:"quality" mapstructure:"quality"`
	Raw       RawStoreConfig  `yaml:"raw" mapstructure:"raw"`
	Alerting  AlertingConfig  `yaml:"alerting" mapstructure:"alerting"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds settings for the mapping-inference service.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// ScraperConfig configures fetch behavior shared by all adapters.
type ScraperConfig struct {
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RunTimeoutSecs    int     `yaml:"run_timeout_secs" mapstructure:"run_timeout_secs"`
	MaxRetries        int     `yaml:"max_retries" mapstructure:"max_retries"`
	RateLimitPerSec   float64 `yaml:"rate_limit_per_sec" mapstructure:"rate_limit_per_sec"`
	UserAgent         string  `yaml:"user_agent" mapstructure:"user_agent"`
	MappingSampleSize int     `yaml:"mapping_sample_size" mapstructure:"mapping_sample_size"`
}

// SchedulerConfig configures run dispatch cadence and concurrency.
type SchedulerConfig struct {
	TickIntervalSecs int            `yaml:"tick_interval_secs" mapstructure:"tick_interval_secs"`
	MaxConcurrent    int            `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	TierCadenceHours map[string]int `yaml:"tier_cadence_hours" mapstructure:"tier_cadence_hours"`
	TierConcurrency  map[string]int `yaml:"tier_concurrency" mapstructure:"tier_concurrency"`
	DispatchRetries  int            `yaml:"dispatch_retries" mapstructure:"dispatch_retries"`
}

// CadenceHours returns the scrape cadence for a tier, defaulting to daily.
func (c SchedulerConfig) CadenceHours(tier int) int {
	if h, ok := c.TierCadenceHours[strconv.Itoa(tier)]; ok && h > 0 {
		return h
	}
	return 24
}

// ProxyConfig configures the tier escalation state machine and the proxy
// endpoints each tier maps to.
type ProxyConfig struct {
	EscalateAfter      int    `yaml:"escalate_after" mapstructure:"escalate_after"`
	FailureWindowMins  int    `yaml:"failure_window_mins" mapstructure:"failure_window_mins"`
	DeescalateAfter    int    `yaml:"deescalate_after" mapstructure:"deescalate_after"`
	CooldownMins       int    `yaml:"cooldown_mins" mapstructure:"cooldown_mins"`
	DatacenterProxyURL string `yaml:"datacenter_proxy_url" mapstructure:"datacenter_proxy_url"`
	ResidentialURL     string `yaml:"residential_proxy_url" mapstructure:"residential_proxy_url"`
}

// DedupConfig bounds fuzzy-key matching.
type DedupConfig struct {
	FuzzyWindowDays int `yaml:"fuzzy_window_days" mapstructure:"fuzzy_window_days"`
}

// QualityConfig configures scoring and batch anomaly detection.
type QualityConfig struct {
	AnomalyDeviation float64 `yaml:"anomaly_deviation" mapstructure:"anomaly_deviation"`
	BaselineRuns     int     `yaml:"baseline_runs" mapstructure:"baseline_runs"`
	LowScoreFlag     float64 `yaml:"low_score_flag" mapstructure:"low_score_flag"`
}

// RawStoreConfig configures the write-once raw batch archive.
type RawStoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// AlertingConfig configures the webhook alerter.
type AlertingConfig struct {
	WebhookURL  string `yaml:"webhook_url" mapstructure:"webhook_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("COUNCILSCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "councilscraper.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 2000)
	v.SetDefault("scraper.timeout_secs", 30)
	v.SetDefault("scraper.run_timeout_secs", 600)
	v.SetDefault("scraper.max_retries", 3)
	v.SetDefault("scraper.rate_limit_per_sec", 1.0)
	v.SetDefault("scraper.mapping_sample_size", 5)
	v.SetDefault("scraper.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("scheduler.tick_interval_secs", 60)
	v.SetDefault("scheduler.max_concurrent", 4)
	v.SetDefault("scheduler.tier_cadence_hours", map[string]int{"1": 6, "2": 12, "3": 24, "4": 24})
	v.SetDefault("scheduler.tier_concurrency", map[string]int{"1": 2, "2": 1, "3": 1, "4": 1})
	v.SetDefault("scheduler.dispatch_retries", 3)
	v.SetDefault("proxy.escalate_after", 3)
	v.SetDefault("proxy.failure_window_mins", 30)
	v.SetDefault("proxy.deescalate_after", 5)
	v.SetDefault("proxy.cooldown_mins", 360)
	v.SetDefault("dedup.fuzzy_window_days", 180)
	v.SetDefault("quality.anomaly_deviation", 0.5)
	v.SetDefault("quality.baseline_runs", 5)
	v.SetDefault("quality.low_score_flag", 0.3)
	v.SetDefault("raw.path", "data/raw")
	v.SetDefault("alerting.timeout_secs", 10)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
