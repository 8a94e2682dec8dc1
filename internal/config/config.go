package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Finnhub   FinnhubConfig  `mapstructure:"finnhub"`
	EDGAR     EDGARConfig    `mapstructure:"edgar"`
	Discord   DiscordConfig  `mapstructure:"discord"`
	Watchlist []string       `mapstructure:"watchlist"`
	Feeds     FeedsConfig    `mapstructure:"feeds"`
	Schedule  ScheduleConfig `mapstructure:"schedule"`
	Telegram  TelegramConfig `mapstructure:"telegram"`
	Metrics   MetricsConfig  `mapstructure:"metrics"`
	Logging   LoggingConfig  `mapstructure:"logging"`
}

// FinnhubConfig holds Finnhub API configuration
type FinnhubConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKeys        []string      `mapstructure:"api_keys"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
	MinInterval    time.Duration `mapstructure:"min_interval"` // 0 = derived from key count
}

// EDGARConfig holds SEC EDGAR configuration
type EDGARConfig struct {
	UserAgent   string        `mapstructure:"user_agent"`
	MinInterval time.Duration `mapstructure:"min_interval"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// DiscordConfig holds webhook delivery configuration shared by all feeds
type DiscordConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	BatchSize int           `mapstructure:"batch_size"`
	Cooldown  time.Duration `mapstructure:"cooldown"`
	Interval  time.Duration `mapstructure:"interval"`
}

// FeedConfig holds the settings of one feed
type FeedConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	WebhookURL    string        `mapstructure:"webhook_url"`
	HistoryPath   string        `mapstructure:"history_path"`
	Lookback      time.Duration `mapstructure:"lookback"`
	Lookahead     time.Duration `mapstructure:"lookahead"`
	Retention     time.Duration `mapstructure:"retention"`
	Dedup         string        `mapstructure:"dedup"` // simple or windowed
	RecheckWindow time.Duration `mapstructure:"recheck_window"`
	MinPrimary    float64       `mapstructure:"min_primary"`
	MinSecondary  float64       `mapstructure:"min_secondary"`
	MissingValue  string        `mapstructure:"missing_value"` // include or exclude
	PerQueryLimit int           `mapstructure:"per_query_limit"`
	MaxAlerts     int           `mapstructure:"max_alerts"`
}

// FeedsConfig holds every feed's configuration
type FeedsConfig struct {
	InsiderTransactions FeedConfig `mapstructure:"insider_transactions"`
	InsiderSentiment    FeedConfig `mapstructure:"insider_sentiment"`
	EPSSurprises        FeedConfig `mapstructure:"eps_surprises"`
	IPOCalendar         FeedConfig `mapstructure:"ipo_calendar"`
	Form4               FeedConfig `mapstructure:"form4"`
	Form8K              FeedConfig `mapstructure:"form8k"`
}

// NamedFeed pairs a feed name with its configuration
type NamedFeed struct {
	Name string
	FeedConfig
}

// All returns every feed in run order
func (f FeedsConfig) All() []NamedFeed {
	return []NamedFeed{
		{"insider_transactions", f.InsiderTransactions},
		{"insider_sentiment", f.InsiderSentiment},
		{"eps_surprises", f.EPSSurprises},
		{"ipo_calendar", f.IPOCalendar},
		{"form4", f.Form4},
		{"form8k", f.Form8K},
	}
}

// Get returns the configuration of the named feed
func (f FeedsConfig) Get(name string) (FeedConfig, bool) {
	for _, nf := range f.All() {
		if nf.Name == name {
			return nf.FeedConfig, true
		}
	}
	return FeedConfig{}, false
}

// ScheduleConfig holds the service loop configuration
type ScheduleConfig struct {
	Interval time.Duration `mapstructure:"interval"` // 0 = run once and exit
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	NotifySummary  bool          `mapstructure:"notify_summary"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// MetricsConfig holds Prometheus Pushgateway configuration
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// legacyKeyEnv are the credential variables read in addition to
// finnhub.api_keys.
var legacyKeyEnv = []string{"FINNHUB_API_KEY", "FINNHUB_API_KEY_2", "FINNHUB_API_KEY_3"}

// legacyWebhookEnv maps each feed to its historical webhook variable.
var legacyWebhookEnv = map[string]string{
	"insider_transactions": "DISCORD_WEBHOOK_INSIDER_TRANSACTIONS",
	"insider_sentiment":    "DISCORD_WEBHOOK_INSIDER_SENTIMENT",
	"eps_surprises":        "DISCORD_WEBHOOK_EPS_SURPRISES",
	"ipo_calendar":         "DISCORD_WEBHOOK_IPO_CALENDAR",
	"form4":                "DISCORD_WEBHOOK_FORM4",
	"form8k":               "DISCORD_WEBHOOK_FORM8K",
}

// Load reads configuration from file, .env and environment variables. An
// empty or missing path leaves every key at its default.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	// Enable environment variable override
	v.SetEnvPrefix("FINNWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for feed, env := range legacyWebhookEnv {
		key := "feeds." + feed + ".webhook_url"
		if err := v.BindEnv(key, "FINNWATCH_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	keys := cfg.Finnhub.APIKeys
	for _, env := range legacyKeyEnv {
		keys = append(keys, os.Getenv(env))
	}
	cfg.Finnhub.APIKeys = cleanKeys(keys)

	return &cfg, nil
}

// cleanKeys trims keys and drops empties and duplicates, keeping order.
func cleanKeys(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Finnhub defaults
	v.SetDefault("finnhub.base_url", "https://finnhub.io/api/v1")
	v.SetDefault("finnhub.api_keys", []string{})
	v.SetDefault("finnhub.timeout", "10s")
	v.SetDefault("finnhub.max_retries", 3)
	v.SetDefault("finnhub.retry_delay_base", "5s")
	v.SetDefault("finnhub.min_interval", "0s")

	// EDGAR defaults
	v.SetDefault("edgar.user_agent", "finnwatch admin@example.com")
	v.SetDefault("edgar.min_interval", "150ms")
	v.SetDefault("edgar.timeout", "15s")

	// Discord defaults
	v.SetDefault("discord.timeout", "10s")
	v.SetDefault("discord.batch_size", 10)
	v.SetDefault("discord.cooldown", "2s")
	v.SetDefault("discord.interval", "1s")

	v.SetDefault("watchlist", []string{
		"AAPL", "MSFT", "NVDA", "GOOGL", "AMZN", "META", "TSLA", "AMD", "NFLX", "AVGO",
	})

	// Feed defaults
	setFeedDefaults(v, "insider_transactions", map[string]any{
		"lookback": "168h", "retention": "720h",
		"min_primary": 100000.0, "min_secondary": 10000.0,
	})
	setFeedDefaults(v, "insider_sentiment", map[string]any{
		"lookback": "2160h", "retention": "8760h",
		"min_primary": 5.0, "min_secondary": 2.0,
	})
	setFeedDefaults(v, "eps_surprises", map[string]any{
		"retention": "17520h", "dedup": "windowed", "recheck_window": "48h",
		"min_primary": 5.0, "per_query_limit": 1,
	})
	setFeedDefaults(v, "ipo_calendar", map[string]any{
		"lookback": "336h", "lookahead": "1440h", "retention": "2160h",
		"min_primary": 1e9, "missing_value": "exclude",
	})
	setFeedDefaults(v, "form4", map[string]any{
		"retention": "2160h", "min_primary": 100000.0, "missing_value": "include",
		"per_query_limit": 7, "max_alerts": 5,
	})
	setFeedDefaults(v, "form8k", map[string]any{
		"retention": "8760h", "per_query_limit": 7,
	})

	// Schedule defaults
	v.SetDefault("schedule.interval", "0s")

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.notify_summary", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Metrics defaults
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "finnwatch")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
}

func setFeedDefaults(v *viper.Viper, feed string, overrides map[string]any) {
	base := map[string]any{
		"enabled":         true,
		"webhook_url":     "",
		"history_path":    "./data/" + feed + ".db",
		"lookback":        "0s",
		"lookahead":       "0s",
		"retention":       "0s",
		"dedup":           "simple",
		"recheck_window":  "0s",
		"min_primary":     0.0,
		"min_secondary":   0.0,
		"missing_value":   "exclude",
		"per_query_limit": 0,
		"max_alerts":      0,
	}
	for k, val := range overrides {
		base[k] = val
	}
	for k, val := range base {
		v.SetDefault("feeds."+feed+"."+k, val)
	}
}

// EnabledFeeds returns the names of enabled feeds in run order
func (c *Config) EnabledFeeds() []string {
	var names []string
	for _, f := range c.Feeds.All() {
		if f.Enabled {
			names = append(names, f.Name)
		}
	}
	return names
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Finnhub config
	if len(c.Finnhub.APIKeys) == 0 {
		return fmt.Errorf("finnhub.api_keys is required (or set FINNHUB_API_KEY)")
	}
	if c.Finnhub.BaseURL == "" {
		return fmt.Errorf("finnhub.base_url is required")
	}
	if c.Finnhub.MaxRetries < 1 {
		return fmt.Errorf("finnhub.max_retries must be at least 1")
	}
	if c.Finnhub.RetryDelayBase < 0 {
		return fmt.Errorf("finnhub.retry_delay_base must not be negative")
	}

	// Validate Discord config
	if c.Discord.BatchSize < 1 || c.Discord.BatchSize > 10 {
		return fmt.Errorf("discord.batch_size must be between 1 and 10")
	}

	// Validate feeds
	enabled := c.EnabledFeeds()
	if len(enabled) == 0 {
		return fmt.Errorf("at least one feed must be enabled")
	}
	for _, f := range c.Feeds.All() {
		if !f.Enabled {
			continue
		}
		if err := f.validate(); err != nil {
			return err
		}
		if f.Name != "ipo_calendar" && len(c.Watchlist) == 0 {
			return fmt.Errorf("watchlist must contain at least one symbol when feeds.%s is enabled", f.Name)
		}
	}

	// Validate Schedule config
	if c.Schedule.Interval != 0 && c.Schedule.Interval < time.Minute {
		return fmt.Errorf("schedule.interval must be 0 or at least 1 minute")
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

func (f NamedFeed) validate() error {
	prefix := "feeds." + f.Name
	if f.WebhookURL == "" {
		return fmt.Errorf("%s.webhook_url is required when the feed is enabled (or set %s)", prefix, legacyWebhookEnv[f.Name])
	}
	if f.HistoryPath == "" {
		return fmt.Errorf("%s.history_path is required", prefix)
	}
	switch f.Dedup {
	case "simple":
	case "windowed":
		if f.RecheckWindow <= 0 {
			return fmt.Errorf("%s.recheck_window must be positive for windowed dedup", prefix)
		}
	default:
		return fmt.Errorf("%s.dedup must be one of: simple, windowed", prefix)
	}
	if f.MissingValue != "include" && f.MissingValue != "exclude" {
		return fmt.Errorf("%s.missing_value must be one of: include, exclude", prefix)
	}
	if f.Lookback < 0 || f.Lookahead < 0 || f.Retention < 0 {
		return fmt.Errorf("%s durations must not be negative", prefix)
	}
	if f.PerQueryLimit < 0 || f.MaxAlerts < 0 {
		return fmt.Errorf("%s.per_query_limit and max_alerts must not be negative", prefix)
	}
	return nil
}
