package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"collectionwatch/internal/detect"
	"collectionwatch/internal/logging"
)

// ErrConfiguration is returned when a required setting is missing or invalid.
var ErrConfiguration = errors.New("configuration error")

// Config materialises application configuration.
type Config struct {
	App         AppConfig       `mapstructure:"app"`
	Logging     logging.Config  `mapstructure:"logging"`
	Scheduler   SchedulerConfig `mapstructure:"scheduler"`
	Reservoir   ReservoirConfig `mapstructure:"reservoir"`
	State       StateConfig     `mapstructure:"state"`
	Alerting    AlertingConfig  `mapstructure:"alerting"`
	Collections []string        `mapstructure:"collections"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// SchedulerConfig governs the poll loop.
type SchedulerConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	StartupDelay time.Duration `mapstructure:"startup_delay"`
	Workers      int           `mapstructure:"workers"`
	CycleTimeout time.Duration `mapstructure:"cycle_timeout"`
}

// ReservoirConfig captures marketplace API connectivity.
type ReservoirConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	UserAgent         string        `mapstructure:"user_agent"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	MaxRetries        int           `mapstructure:"max_retries"`
	BackoffBase       time.Duration `mapstructure:"backoff_base"`
	ListingsWindow    int           `mapstructure:"listings_window"`
	SalesWindow       int           `mapstructure:"sales_window"`
}

// StateConfig selects and configures the state store backend.
type StateConfig struct {
	Backend   string         `mapstructure:"backend"`
	OpTimeout time.Duration  `mapstructure:"op_timeout"`
	Redis     RedisConfig    `mapstructure:"redis"`
	Postgres  PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig describes the Redis connection. URL wins over Addr when both are set.
type RedisConfig struct {
	URL      string `mapstructure:"url"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// PostgresConfig encapsulates PostgreSQL connectivity.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// AlertingConfig defines alert policy and routing.
type AlertingConfig struct {
	Cooldown         time.Duration  `mapstructure:"cooldown"`
	OverrideFraction float64        `mapstructure:"override_fraction"`
	Categories       []string       `mapstructure:"categories"`
	AnnounceRestart  bool           `mapstructure:"announce_restart"`
	BurnAddress      string         `mapstructure:"burn_address"`
	Telegram         TelegramConfig `mapstructure:"telegram"`
	Discord          DiscordConfig  `mapstructure:"discord"`
}

// TelegramConfig routes alerts to Telegram chats. Routes maps a category to a chat id.
type TelegramConfig struct {
	Enabled  bool              `mapstructure:"enabled"`
	BotToken string            `mapstructure:"bot_token"`
	ChatID   string            `mapstructure:"chat_id"`
	APIBase  string            `mapstructure:"api_base"`
	Routes   map[string]string `mapstructure:"routes"`
}

// DiscordConfig routes alerts to Discord webhooks. Routes maps a category to a webhook url.
type DiscordConfig struct {
	Enabled    bool              `mapstructure:"enabled"`
	WebhookURL string            `mapstructure:"webhook_url"`
	Routes     map[string]string `mapstructure:"routes"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := loadDotenv(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("COLLECTIONWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindLegacyEnv(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotenv() error {
	if _, err := os.Stat(".env"); err != nil {
		return nil
	}
	if err := godotenv.Load(".env"); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "collectionwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "1s")
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.workers", 1)
	v.SetDefault("scheduler.cycle_timeout", "2m")

	v.SetDefault("reservoir.base_url", "https://api.reservoir.tools")
	v.SetDefault("reservoir.api_key", "")
	v.SetDefault("reservoir.request_timeout", "10s")
	v.SetDefault("reservoir.user_agent", "")
	v.SetDefault("reservoir.requests_per_second", 4.0)
	v.SetDefault("reservoir.max_retries", 4)
	v.SetDefault("reservoir.backoff_base", "500ms")
	v.SetDefault("reservoir.listings_window", 500)
	v.SetDefault("reservoir.sales_window", 100)

	v.SetDefault("state.backend", "redis")
	v.SetDefault("state.op_timeout", "5s")
	v.SetDefault("state.redis.addr", "redis:6379")
	v.SetDefault("state.redis.url", "")
	v.SetDefault("state.redis.password", "")
	v.SetDefault("state.redis.db", 0)
	v.SetDefault("state.postgres.dsn", "")
	v.SetDefault("state.postgres.max_open_conns", 4)
	v.SetDefault("state.postgres.max_idle_conns", 1)
	v.SetDefault("state.postgres.conn_max_lifetime", "30m")

	v.SetDefault("alerting.cooldown", "30m")
	v.SetDefault("alerting.override_fraction", 0.1)
	v.SetDefault("alerting.categories", []string{"sales", "burn"})
	v.SetDefault("alerting.announce_restart", true)
	v.SetDefault("alerting.burn_address", "0x0000000000000000000000000000000000000000")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.discord.enabled", false)
	v.SetDefault("alerting.discord.webhook_url", "")

	v.SetDefault("collections", []string{})
}

// bindLegacyEnv accepts the variable names used by earlier deployments of the bot.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("reservoir.api_key", "COLLECTIONWATCH_RESERVOIR_API_KEY", "RESERVOIR_API_KEY")
	_ = v.BindEnv("collections", "COLLECTIONWATCH_COLLECTIONS", "TRACKED_CONTRACT")
	_ = v.BindEnv("state.redis.url", "COLLECTIONWATCH_STATE_REDIS_URL", "REDIS_URL")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs sanity checks; every failure wraps ErrConfiguration.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return invalid("scheduler.interval must be greater than zero")
	}
	if c.Scheduler.Workers <= 0 {
		return invalid("scheduler.workers must be at least 1")
	}
	if strings.TrimSpace(c.Reservoir.APIKey) == "" {
		return invalid("reservoir.api_key is required")
	}
	if c.Reservoir.MaxRetries < 0 {
		return invalid("reservoir.max_retries cannot be negative")
	}
	if c.Reservoir.ListingsWindow <= 0 || c.Reservoir.SalesWindow <= 0 {
		return invalid("reservoir windows must be greater than zero")
	}
	if c.Alerting.Cooldown < 0 {
		return invalid("alerting.cooldown cannot be negative")
	}
	if c.Alerting.OverrideFraction <= 0 || c.Alerting.OverrideFraction >= 1 {
		return invalid("alerting.override_fraction must be between 0 and 1 (exclusive)")
	}
	if !common.IsHexAddress(c.Alerting.BurnAddress) {
		return invalid("alerting.burn_address %q is not a hex address", c.Alerting.BurnAddress)
	}
	if _, err := c.EnabledCategories(); err != nil {
		return invalid("alerting.categories: %v", err)
	}
	if len(c.Collections) == 0 {
		return invalid("collections must list at least one contract address")
	}
	for _, addr := range c.Collections {
		if !common.IsHexAddress(strings.TrimSpace(addr)) {
			return invalid("collection %q is not a contract address", addr)
		}
	}

	switch strings.ToLower(c.State.Backend) {
	case "redis":
		if c.State.Redis.URL == "" && c.State.Redis.Addr == "" {
			return invalid("state.redis.url or state.redis.addr is required")
		}
	case "postgres":
		if c.State.Postgres.DSN == "" {
			return invalid("state.postgres.dsn is required")
		}
	case "memory":
	default:
		return invalid("state.backend %q is not one of redis, postgres, memory", c.State.Backend)
	}

	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return invalid("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return invalid("alerting.telegram.chat_id is required")
		}
	}
	if c.Alerting.Discord.Enabled && c.Alerting.Discord.WebhookURL == "" {
		return invalid("alerting.discord.webhook_url is required")
	}
	for _, routes := range []map[string]string{c.Alerting.Telegram.Routes, c.Alerting.Discord.Routes} {
		for name := range routes {
			if _, err := detect.ParseCategory(name); err != nil {
				return invalid("alerting routes: %v", err)
			}
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// EnabledCategories parses alerting.categories into a set.
func (c *Config) EnabledCategories() (map[detect.Category]bool, error) {
	enabled := make(map[detect.Category]bool, len(c.Alerting.Categories))
	for _, name := range c.Alerting.Categories {
		if strings.TrimSpace(name) == "" {
			continue
		}
		cat, err := detect.ParseCategory(name)
		if err != nil {
			return nil, err
		}
		enabled[cat] = true
	}
	return enabled, nil
}

// Policy builds the cooldown/override policy for scalar categories.
func (c *Config) Policy() detect.Policy {
	return detect.Policy{
		Cooldown:         c.Alerting.Cooldown,
		OverrideFraction: decimal.NewFromFloat(c.Alerting.OverrideFraction),
	}
}

// TrackedCollections returns the configured contract addresses in order, dropping repeats of
// the same address written with different casing.
func (c *Config) TrackedCollections() []string {
	seen := make(map[common.Address]bool, len(c.Collections))
	out := make([]string, 0, len(c.Collections))
	for _, raw := range c.Collections {
		addr := common.HexToAddress(strings.TrimSpace(raw))
		if seen[addr] {
			continue
		}
		seen[addr] = true
		out = append(out, strings.TrimSpace(raw))
	}
	return out
}

// BurnAddress returns the configured burn address.
func (c *Config) BurnAddress() common.Address {
	return common.HexToAddress(c.Alerting.BurnAddress)
}
