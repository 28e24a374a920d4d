package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"cost-anomaly-engine/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Detection DetectionConfig `mapstructure:"detection"`
	EventBus  EventBusConfig  `mapstructure:"eventbus"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// SchedulerConfig governs the daily detection cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	Offset          time.Duration `mapstructure:"offset"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
}

// DetectionConfig tunes anomaly detection.
type DetectionConfig struct {
	ThresholdPct       float64       `mapstructure:"threshold_pct"`
	BaselineWindowDays int           `mapstructure:"baseline_window_days"`
	Concurrency        int           `mapstructure:"concurrency"`
	RunTimeout         time.Duration `mapstructure:"run_timeout"`
}

// EventBusConfig sizes the in-process event bus.
type EventBusConfig struct {
	Buffer          int           `mapstructure:"buffer"`
	DeliveryTimeout time.Duration `mapstructure:"delivery_timeout"`
}

// AlertingConfig defines anomaly alert routing.
type AlertingConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	MinSeverity string         `mapstructure:"min_severity"`
	Telegram    TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram alert parameters.
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ANOMALYD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "anomalyd")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "24h")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.offset", "2h")
	v.SetDefault("scheduler.advisory_lock_key", int64(0x636f7374))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_on_start", false)

	v.SetDefault("detection.threshold_pct", 50.0)
	v.SetDefault("detection.baseline_window_days", 30)
	v.SetDefault("detection.concurrency", 4)
	v.SetDefault("detection.run_timeout", "5m")

	v.SetDefault("eventbus.buffer", 256)
	v.SetDefault("eventbus.delivery_timeout", "10s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.min_severity", "medium")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("export.max_data_points", 365)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", false)
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

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Scheduler.Offset < 0 || c.Scheduler.Offset >= c.Scheduler.Interval {
		return fmt.Errorf("scheduler.offset must be within [0, scheduler.interval)")
	}
	if c.Detection.ThresholdPct <= 0 {
		return fmt.Errorf("detection.threshold_pct must be greater than zero")
	}
	if c.Detection.BaselineWindowDays < 0 {
		return fmt.Errorf("detection.baseline_window_days cannot be negative")
	}
	if c.Detection.Concurrency <= 0 {
		return fmt.Errorf("detection.concurrency must be greater than zero")
	}
	if c.EventBus.Buffer <= 0 {
		return fmt.Errorf("eventbus.buffer must be greater than zero")
	}
	switch strings.ToLower(c.Alerting.MinSeverity) {
	case "low", "medium", "high", "critical":
	default:
		return fmt.Errorf("alerting.min_severity must be one of low, medium, high, critical")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
