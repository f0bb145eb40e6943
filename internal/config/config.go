package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Meta       MetaConfig       `yaml:"meta" mapstructure:"meta"`
	Sync       SyncConfig       `yaml:"sync" mapstructure:"sync"`
	Schedule   ScheduleConfig   `yaml:"schedule" mapstructure:"schedule"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// MetaConfig holds ads reporting API settings.
type MetaConfig struct {
	AccessToken    string   `yaml:"access_token" mapstructure:"access_token"`
	BaseURL        string   `yaml:"base_url" mapstructure:"base_url"`
	AccountIDs     []string `yaml:"account_ids" mapstructure:"account_ids"`
	PageSize       int      `yaml:"page_size" mapstructure:"page_size"`
	MaxPages       int      `yaml:"max_pages" mapstructure:"max_pages"`
	TimeoutSecs    int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RequestsPerSec float64  `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
}

// Timeout returns the per-request timeout.
func (m MetaConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutSecs) * time.Second
}

// SyncConfig configures a sync cycle.
type SyncConfig struct {
	WindowDays       int `yaml:"window_days" mapstructure:"window_days"`
	CycleTimeoutMins int `yaml:"cycle_timeout_mins" mapstructure:"cycle_timeout_mins"`
	BreakerFailures  int `yaml:"breaker_failures" mapstructure:"breaker_failures"`
	BreakerResetSecs int `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// CycleTimeout returns the deadline applied to one cycle; zero means none.
func (s SyncConfig) CycleTimeout() time.Duration {
	return time.Duration(s.CycleTimeoutMins) * time.Minute
}

// ScheduleConfig configures the daily trigger.
type ScheduleConfig struct {
	Enabled    bool   `yaml:"enabled" mapstructure:"enabled"`
	Hour       int    `yaml:"hour" mapstructure:"hour"`
	Minute     int    `yaml:"minute" mapstructure:"minute"`
	Timezone   string `yaml:"timezone" mapstructure:"timezone"`
	RunOnStart bool   `yaml:"run_on_start" mapstructure:"run_on_start"`
}

// Location resolves the configured IANA timezone.
func (s ScheduleConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, eris.Wrapf(err, "config: load timezone %q", s.Timezone)
	}
	return loc, nil
}

// ServerConfig configures the HTTP front door.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// MonitoringConfig configures failure alerting.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackHours        int     `yaml:"lookback_hours" mapstructure:"lookback_hours"`
	StaleAfterHours      int     `yaml:"stale_after_hours" mapstructure:"stale_after_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	RepeatAfterHours     int     `yaml:"repeat_after_hours" mapstructure:"repeat_after_hours"`
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
	v.SetEnvPrefix("FUNNELSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 5)
	v.SetDefault("meta.access_token", "")
	v.SetDefault("meta.base_url", "https://graph.facebook.com/v19.0")
	v.SetDefault("meta.page_size", 1000)
	v.SetDefault("meta.max_pages", 50)
	v.SetDefault("meta.timeout_secs", 30)
	v.SetDefault("meta.requests_per_sec", 5)
	v.SetDefault("sync.window_days", 7)
	v.SetDefault("sync.cycle_timeout_mins", 30)
	v.SetDefault("sync.breaker_failures", 5)
	v.SetDefault("sync.breaker_reset_secs", 60)
	v.SetDefault("schedule.enabled", true)
	v.SetDefault("schedule.hour", 6)
	v.SetDefault("schedule.minute", 0)
	v.SetDefault("schedule.timezone", "UTC")
	v.SetDefault("schedule.run_on_start", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 900)
	v.SetDefault("monitoring.lookback_hours", 72)
	v.SetDefault("monitoring.stale_after_hours", 26)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.repeat_after_hours", 6)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks the fields required by the given mode: "sync" needs the
// store and the ads API, "serve" additionally needs the server and schedule,
// "store" only needs the database and "meta" only the ads API.
func (c *Config) Validate(mode string) error {
	var errs []string

	checkStore := func() {
		switch c.Store.Driver {
		case "postgres", "sqlite":
		default:
			errs = append(errs, "store.driver must be postgres or sqlite")
		}
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	}
	checkMeta := func() {
		if c.Meta.AccessToken == "" {
			errs = append(errs, "meta.access_token is required")
		}
		if c.Meta.PageSize < 1 || c.Meta.PageSize > 1000 {
			errs = append(errs, "meta.page_size must be between 1 and 1000")
		}
		if c.Sync.WindowDays < 1 {
			errs = append(errs, "sync.window_days must be >= 1")
		}
	}

	switch mode {
	case "store":
		checkStore()
	case "meta":
		checkMeta()
	case "sync":
		checkStore()
		checkMeta()
	case "serve":
		checkStore()
		checkMeta()
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Schedule.Hour < 0 || c.Schedule.Hour > 23 {
			errs = append(errs, "schedule.hour must be between 0 and 23")
		}
		if c.Schedule.Minute < 0 || c.Schedule.Minute > 59 {
			errs = append(errs, "schedule.minute must be between 0 and 59")
		}
		if _, err := c.Schedule.Location(); err != nil {
			errs = append(errs, "schedule.timezone is not a valid IANA timezone")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(errs, "; "))
	}
	return nil
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
