package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"ticketpilot/internal/bootstrap/logging"
	"ticketpilot/internal/errs"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Database  DatabaseConfig  `mapstructure:"database"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Sessions  SessionsConfig  `mapstructure:"sessions"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	// Schedules maps a trigger kind to a cron expression for serve mode,
	// for example "load-tickets" -> "@every 1m".
	Schedules map[string]string `mapstructure:"schedules"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type PipelineConfig struct {
	MaxRetryAttempts         int    `mapstructure:"max_retry_attempts"`
	RetryDelaySeconds        int    `mapstructure:"retry_delay_seconds"`
	MaxConcurrentTickets     int    `mapstructure:"max_concurrent_tickets"`
	MaxProcessingTimeSeconds int    `mapstructure:"max_processing_time_seconds"`
	RequiredLabel            string `mapstructure:"required_label"`
	AllowAssigned            bool   `mapstructure:"allow_assigned"`
	// Simulate records executions without applying changes to a working copy.
	Simulate bool `mapstructure:"simulate"`
}

type SessionsConfig struct {
	DefaultHours      float64          `mapstructure:"default_hours"`
	WarningThresholds ThresholdsConfig `mapstructure:"warning_thresholds"`
}

type ThresholdsConfig struct {
	First  float64 `mapstructure:"first"`
	Second float64 `mapstructure:"second"`
}

type ProvidersConfig struct {
	// File points at the providers.toml profile describing tracker, AI and
	// VCS provider settings, including the fallback provider.
	File string `mapstructure:"file"`
}

type NotifyConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	NATSURL       string `mapstructure:"nats_url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

func Load(ctx context.Context, configFile string) (Config, error) {
	if ctx == nil {
		return Config{}, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return Config{}, errs.Wrap(err, "check context")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.config"))

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile == "" && errors.As(err, &notFound) {
			// Keep default and env-backed config when no file is provided.
			logging.Warn(logCtx, "config file not found, fallback to defaults and env")
		} else {
			return Config{}, errs.Wrap(err, "read config")
		}
	} else {
		logging.Info(logCtx, "using config file", slog.String("path", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errs.Wrap(err, "unmarshal config")
	}

	if err := validate(cfg); err != nil {
		return Config{}, errs.Wrap(err, "validate config")
	}

	logging.Info(
		logCtx,
		"config loaded",
		slog.String("app", cfg.App.Name),
		slog.String("env", cfg.App.Env),
		slog.String("database_driver", cfg.Database.Driver),
		slog.Int("max_retry_attempts", cfg.Pipeline.MaxRetryAttempts),
		slog.Int("max_concurrent_tickets", cfg.Pipeline.MaxConcurrentTickets),
	)

	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	if cfg.Pipeline.MaxRetryAttempts < 1 {
		return errors.New("pipeline.max_retry_attempts must be at least 1")
	}
	if cfg.Pipeline.RetryDelaySeconds < 0 {
		return errors.New("pipeline.retry_delay_seconds must not be negative")
	}
	if cfg.Pipeline.MaxConcurrentTickets < 1 {
		return errors.New("pipeline.max_concurrent_tickets must be at least 1")
	}
	if cfg.Pipeline.MaxProcessingTimeSeconds < 1 {
		return errors.New("pipeline.max_processing_time_seconds must be at least 1")
	}
	if cfg.Sessions.DefaultHours <= 0 {
		return errors.New("sessions.default_hours must be positive")
	}

	first := cfg.Sessions.WarningThresholds.First
	second := cfg.Sessions.WarningThresholds.Second
	if first <= 0 || first >= 1 {
		return fmt.Errorf("sessions.warning_thresholds.first %v out of range (0,1)", first)
	}
	if second <= first || second > 1 {
		return fmt.Errorf("sessions.warning_thresholds.second %v must be in (first,1]", second)
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "ticketpilot")
	v.SetDefault("app.env", "local")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", ".ticketpilot/state/ticketpilot.sqlite")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("pipeline.max_retry_attempts", 3)
	v.SetDefault("pipeline.retry_delay_seconds", 300)
	v.SetDefault("pipeline.max_concurrent_tickets", 1)
	v.SetDefault("pipeline.max_processing_time_seconds", 1800)
	v.SetDefault("pipeline.required_label", "ai-fix")
	v.SetDefault("pipeline.allow_assigned", false)
	v.SetDefault("pipeline.simulate", false)
	v.SetDefault("sessions.default_hours", 10.0)
	v.SetDefault("sessions.warning_thresholds.first", 0.75)
	v.SetDefault("sessions.warning_thresholds.second", 0.90)
	v.SetDefault("providers.file", "configs/providers.toml")
	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.subject_prefix", "ticketpilot.sessions")
}
