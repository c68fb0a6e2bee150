// Package config provides configuration management for gears.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// DefaultSecret is the webhook secret used when none is configured.
// Running with it means anyone can forge deliveries.
const DefaultSecret = "oh-so-secret"

// Source types.
const (
	SourceShortcut = "shortcut"
	SourceSQL      = "sql"
)

// Config is the full service configuration.
type Config struct {
	Webhook     WebhookConfig
	Admin       AdminConfig
	Rules       RulesConfig
	Calendar    CalendarConfig
	Source      SourceConfig
	DatabaseURL string
	Redis       RedisConfig
	RunLog      RunLogConfig
	Log         LogConfig
}

// WebhookConfig holds the HTTP ingress settings.
type WebhookConfig struct {
	Host         string
	Port         int
	MaxBodyBytes int64
	ArchiveDir   string
}

// AdminConfig holds the gRPC admin API settings.
type AdminConfig struct {
	Enabled bool
	Host    string
	Port    int
}

// RulesConfig controls rule loading and evaluation.
type RulesConfig struct {
	Label          string
	ReloadInterval time.Duration
	Timeout        time.Duration
}

// CalendarConfig controls the synthetic clock.
type CalendarConfig struct {
	Enabled  bool
	Timezone string
}

// SourceConfig selects where rule stories come from.
type SourceConfig struct {
	Type            string
	ShortcutBaseURL string
	AppURL          string
}

// RedisConfig enables the kv capability when Addr is set.
type RedisConfig struct {
	Addr   string
	DB     int
	Prefix string
}

// RunLogConfig controls persistence of dispatch outcomes.
type RunLogConfig struct {
	Enabled      bool
	RecordMisses bool
	Retention    time.Duration
}

// LogConfig controls logger construction.
type LogConfig struct {
	Level  string
	Format string
}

// Default returns configuration with default values.
func Default() *Config {
	return &Config{
		Webhook: WebhookConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			MaxBodyBytes: 1 << 20,
		},
		Admin: AdminConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    50051,
		},
		Rules: RulesConfig{
			Label:          "gears",
			ReloadInterval: 5 * time.Minute,
			Timeout:        30 * time.Second,
		},
		Calendar: CalendarConfig{
			Enabled:  true,
			Timezone: "Local",
		},
		Source: SourceConfig{
			Type:            SourceShortcut,
			ShortcutBaseURL: "https://api.app.shortcut.com/api/v3",
		},
		Redis: RedisConfig{
			Prefix: "gears:",
		},
		RunLog: RunLogConfig{
			Retention: 7 * 24 * time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Location resolves the calendar timezone.
func (c *Config) Location() (*time.Location, error) {
	switch c.Calendar.Timezone {
	case "", "Local":
		return time.Local, nil
	default:
		loc, err := time.LoadLocation(c.Calendar.Timezone)
		if err != nil {
			return nil, fmt.Errorf("calendar timezone: %w", err)
		}
		return loc, nil
	}
}

// Secrets are credentials read from the environment only.
type Secrets struct {
	Webhook       string
	ShortcutToken string
	AdminToken    string
	RedisPassword string
}

// secretEnv lists accepted variables per secret, most specific first.
var secretEnv = struct {
	webhook, shortcut, admin, redis []string
}{
	webhook:  []string{"GEARS_SECRET", "SECRET"},
	shortcut: []string{"GEARS_SHORTCUT_TOKEN", "SHORTCUT_API_TOKEN", "CLUBHOUSE_API_TOKEN"},
	admin:    []string{"GEARS_ADMIN_TOKEN"},
	redis:    []string{"GEARS_REDIS_PASSWORD"},
}

// LoadSecrets reads secrets from the environment. The webhook secret falls
// back to DefaultSecret.
func LoadSecrets() Secrets {
	s := Secrets{
		Webhook:       firstEnv(secretEnv.webhook...),
		ShortcutToken: firstEnv(secretEnv.shortcut...),
		AdminToken:    firstEnv(secretEnv.admin...),
		RedisPassword: firstEnv(secretEnv.redis...),
	}
	if s.Webhook == "" {
		s.Webhook = DefaultSecret
	}
	return s
}

// UsingDefaultSecret reports whether deliveries are signed with the public default.
func (s Secrets) UsingDefaultSecret() bool {
	return s.Webhook == DefaultSecret
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// LoadDotEnv loads variables from .env-style files into the process
// environment without overriding variables already set. Missing files are
// ignored; with no paths, ./.env is tried.
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
