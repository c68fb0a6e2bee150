package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Override adjusts the viper instance before values are read.
type Override func(v *viper.Viper) error

// BindFlag makes a changed command line flag win over every other source.
// A nil flag is ignored.
func BindFlag(key string, flag *pflag.Flag) Override {
	return func(v *viper.Viper) error {
		if flag == nil {
			return nil
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag.Name, err)
		}
		return nil
	}
}

// LoadConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence.
func LoadConfig(configPath string, overrides ...Override) (*Config, error) {
	v := viper.New()
	def := Default()

	// Set defaults matching Default
	v.SetDefault("webhook.host", def.Webhook.Host)
	v.SetDefault("webhook.port", def.Webhook.Port)
	v.SetDefault("webhook.max_body_bytes", def.Webhook.MaxBodyBytes)
	v.SetDefault("webhook.archive_dir", def.Webhook.ArchiveDir)
	v.SetDefault("admin.enabled", def.Admin.Enabled)
	v.SetDefault("admin.host", def.Admin.Host)
	v.SetDefault("admin.port", def.Admin.Port)
	v.SetDefault("rules.label", def.Rules.Label)
	v.SetDefault("rules.reload_interval", def.Rules.ReloadInterval.String())
	v.SetDefault("rules.timeout", def.Rules.Timeout.String())
	v.SetDefault("calendar.enabled", def.Calendar.Enabled)
	v.SetDefault("calendar.timezone", def.Calendar.Timezone)
	v.SetDefault("source.type", def.Source.Type)
	v.SetDefault("source.shortcut_base_url", def.Source.ShortcutBaseURL)
	v.SetDefault("source.app_url", def.Source.AppURL)
	v.SetDefault("database_url", def.DatabaseURL)
	v.SetDefault("redis.addr", def.Redis.Addr)
	v.SetDefault("redis.db", def.Redis.DB)
	v.SetDefault("redis.prefix", def.Redis.Prefix)
	v.SetDefault("run_log.enabled", def.RunLog.Enabled)
	v.SetDefault("run_log.record_misses", def.RunLog.RecordMisses)
	v.SetDefault("run_log.retention", def.RunLog.Retention.String())
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.format", def.Log.Format)

	// Bind environment variables with GEARS_ prefix
	v.SetEnvPrefix("GEARS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// PORT is honoured for platforms that inject it
	if err := v.BindEnv("webhook.port", "GEARS_WEBHOOK_PORT", "PORT"); err != nil {
		return nil, fmt.Errorf("bind webhook.port: %w", err)
	}

	// Load config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	for _, o := range overrides {
		if err := o(v); err != nil {
			return nil, err
		}
	}

	// Security check: reject secrets in config files
	// Secrets must be environment-only per 12-factor principles
	if err := validateNoSecretsInConfig(v); err != nil {
		return nil, err
	}

	cfg := &Config{
		Webhook: WebhookConfig{
			Host:         v.GetString("webhook.host"),
			Port:         v.GetInt("webhook.port"),
			MaxBodyBytes: v.GetInt64("webhook.max_body_bytes"),
			ArchiveDir:   v.GetString("webhook.archive_dir"),
		},
		Admin: AdminConfig{
			Enabled: v.GetBool("admin.enabled"),
			Host:    v.GetString("admin.host"),
			Port:    v.GetInt("admin.port"),
		},
		Rules: RulesConfig{
			Label:          v.GetString("rules.label"),
			ReloadInterval: v.GetDuration("rules.reload_interval"),
			Timeout:        v.GetDuration("rules.timeout"),
		},
		Calendar: CalendarConfig{
			Enabled:  v.GetBool("calendar.enabled"),
			Timezone: v.GetString("calendar.timezone"),
		},
		Source: SourceConfig{
			Type:            v.GetString("source.type"),
			ShortcutBaseURL: v.GetString("source.shortcut_base_url"),
			AppURL:          v.GetString("source.app_url"),
		},
		DatabaseURL: v.GetString("database_url"),
		Redis: RedisConfig{
			Addr:   v.GetString("redis.addr"),
			DB:     v.GetInt("redis.db"),
			Prefix: v.GetString("redis.prefix"),
		},
		RunLog: RunLogConfig{
			Enabled:      v.GetBool("run_log.enabled"),
			RecordMisses: v.GetBool("run_log.record_misses"),
			Retention:    v.GetDuration("run_log.retention"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks ports, durations and enumerations.
func Validate(cfg *Config) error {
	if cfg.Webhook.Port <= 0 || cfg.Webhook.Port > 65535 {
		return fmt.Errorf("webhook.port must be between 1 and 65535, got %d", cfg.Webhook.Port)
	}
	if cfg.Admin.Enabled && (cfg.Admin.Port <= 0 || cfg.Admin.Port > 65535) {
		return fmt.Errorf("admin.port must be between 1 and 65535, got %d", cfg.Admin.Port)
	}
	if cfg.Webhook.MaxBodyBytes <= 0 {
		return fmt.Errorf("webhook.max_body_bytes must be positive, got %d", cfg.Webhook.MaxBodyBytes)
	}
	if cfg.Rules.Label == "" {
		return fmt.Errorf("rules.label must not be empty")
	}
	if cfg.Rules.ReloadInterval <= 0 {
		return fmt.Errorf("rules.reload_interval must be positive, got %v", cfg.Rules.ReloadInterval)
	}
	if cfg.Rules.Timeout <= 0 {
		return fmt.Errorf("rules.timeout must be positive, got %v", cfg.Rules.Timeout)
	}
	switch cfg.Source.Type {
	case SourceShortcut:
	case SourceSQL:
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("source.type %q requires database_url", SourceSQL)
		}
	default:
		return fmt.Errorf("source.type must be %q or %q, got %q", SourceShortcut, SourceSQL, cfg.Source.Type)
	}
	if cfg.RunLog.Enabled && cfg.DatabaseURL == "" {
		return fmt.Errorf("run_log.enabled requires database_url")
	}
	if _, err := cfg.Location(); err != nil {
		return err
	}
	return nil
}

// secretKeys are config keys that must never appear in a file.
var secretKeys = []string{
	"secret",
	"webhook.secret",
	"shortcut_token",
	"source.shortcut_token",
	"admin.token",
	"redis.password",
}

// validateNoSecretsInConfig enforces environment-only secrets (12-factor principle).
func validateNoSecretsInConfig(v *viper.Viper) error {
	for _, key := range secretKeys {
		if v.InConfig(key) {
			return fmt.Errorf("secrets not allowed in config files (found %q; use GEARS_* environment variables)", key)
		}
	}
	return nil
}
