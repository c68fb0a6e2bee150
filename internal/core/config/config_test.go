package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gears.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Webhook.Port != 8080 {
			t.Errorf("expected webhook port 8080, got %d", cfg.Webhook.Port)
		}
		if cfg.Rules.Label != "gears" {
			t.Errorf("expected label gears, got %s", cfg.Rules.Label)
		}
		if cfg.Rules.ReloadInterval != 5*time.Minute {
			t.Errorf("expected reload interval 5m, got %v", cfg.Rules.ReloadInterval)
		}
		if cfg.Rules.Timeout != 30*time.Second {
			t.Errorf("expected timeout 30s, got %v", cfg.Rules.Timeout)
		}
		if cfg.Source.Type != SourceShortcut {
			t.Errorf("expected shortcut source, got %s", cfg.Source.Type)
		}
	})

	t.Run("file values", func(t *testing.T) {
		path := writeConfig(t, `webhook:
  port: 9090
  max_body_bytes: 2048
rules:
  label: automation
  reload_interval: 1m
calendar:
  timezone: Europe/Amsterdam
source:
  type: sql
database_url: sqlite:///tmp/gears.db
`)
		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Webhook.Port != 9090 || cfg.Webhook.MaxBodyBytes != 2048 {
			t.Errorf("webhook = %+v", cfg.Webhook)
		}
		if cfg.Rules.Label != "automation" || cfg.Rules.ReloadInterval != time.Minute {
			t.Errorf("rules = %+v", cfg.Rules)
		}
		loc, err := cfg.Location()
		if err != nil || loc.String() != "Europe/Amsterdam" {
			t.Errorf("Location() = %v, %v", loc, err)
		}
	})

	t.Run("environment overrides file", func(t *testing.T) {
		t.Setenv("GEARS_WEBHOOK_PORT", "7070")
		t.Setenv("GEARS_RULES_LABEL", "from-env")
		path := writeConfig(t, "webhook:\n  port: 9090\n")

		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Webhook.Port != 7070 {
			t.Errorf("expected port 7070 from env, got %d", cfg.Webhook.Port)
		}
		if cfg.Rules.Label != "from-env" {
			t.Errorf("expected label from env, got %s", cfg.Rules.Label)
		}
	})

	t.Run("PORT fallback", func(t *testing.T) {
		t.Setenv("PORT", "6060")
		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Webhook.Port != 6060 {
			t.Errorf("expected port 6060 from PORT, got %d", cfg.Webhook.Port)
		}
	})

	t.Run("invalid values", func(t *testing.T) {
		cases := map[string]string{
			"port":        "webhook:\n  port: 70000\n",
			"interval":    "rules:\n  reload_interval: 0s\n",
			"source type": "source:\n  type: jira\n",
			"sql no db":   "source:\n  type: sql\n",
			"timezone":    "calendar:\n  timezone: Mars/Olympus\n",
			"empty label": "rules:\n  label: \"\"\n",
		}
		for name, content := range cases {
			t.Run(name, func(t *testing.T) {
				if _, err := LoadConfig(writeConfig(t, content)); err == nil {
					t.Error("expected validation error")
				}
			})
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
			t.Error("expected error for missing config file")
		}
	})
}

func TestLoadSecrets(t *testing.T) {
	for _, k := range []string{"GEARS_SECRET", "SECRET", "GEARS_SHORTCUT_TOKEN", "SHORTCUT_API_TOKEN", "CLUBHOUSE_API_TOKEN", "GEARS_ADMIN_TOKEN"} {
		t.Setenv(k, "")
	}

	t.Run("default secret", func(t *testing.T) {
		s := LoadSecrets()
		if !s.UsingDefaultSecret() {
			t.Errorf("expected default secret, got %q", s.Webhook)
		}
	})

	t.Run("legacy variables", func(t *testing.T) {
		t.Setenv("SECRET", "legacy")
		t.Setenv("CLUBHOUSE_API_TOKEN", "ch-token")
		s := LoadSecrets()
		if s.Webhook != "legacy" || s.ShortcutToken != "ch-token" {
			t.Errorf("secrets = %+v", s)
		}
	})

	t.Run("prefixed wins", func(t *testing.T) {
		t.Setenv("SECRET", "legacy")
		t.Setenv("GEARS_SECRET", "current")
		s := LoadSecrets()
		if s.Webhook != "current" || s.UsingDefaultSecret() {
			t.Errorf("secrets = %+v", s)
		}
	})
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("GEARS_TEST_DOTENV=loaded\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GEARS_TEST_DOTENV", "")
	os.Unsetenv("GEARS_TEST_DOTENV")

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}
	if got := os.Getenv("GEARS_TEST_DOTENV"); got != "loaded" {
		t.Errorf("GEARS_TEST_DOTENV = %q, want loaded", got)
	}
}

func TestLoadConfig_FlagOverride(t *testing.T) {
	t.Setenv("GEARS_DATABASE_URL", "sqlite:///from-env.db")
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("db-url", "", "")
	fs.String("log-level", "info", "")
	if err := fs.Parse([]string{"--db-url", "sqlite:///from-flag.db"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig("",
		BindFlag("database_url", fs.Lookup("db-url")),
		BindFlag("log.level", fs.Lookup("log-level")),
		BindFlag("webhook.host", nil),
	)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.DatabaseURL != "sqlite:///from-flag.db" {
		t.Errorf("DatabaseURL = %q, want flag value", cfg.DatabaseURL)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
}
