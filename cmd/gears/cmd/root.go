package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/solatis/gears/internal/core/config"
	"github.com/solatis/gears/internal/logging"
)

var (
	configFile string
	dbURL      string
	logLevel   string
	logFormat  string
	envFiles   []string
)

var rootCmd = &cobra.Command{
	Use:   "gears",
	Short: "gears story tracker automation",
	Long: `gears runs automation rules written as stories in the story tracker.

A story titled "when(<condition>)" whose description holds fenced code blocks
becomes a rule: every tracker webhook event and every calendar minute is
matched against the condition, and the code runs on a match.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.LoadDotEnv(envFiles...)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db-url", "", "database connection URL (sqlite://path or postgres://...)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format (json, text)")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load (default .env)")
}

// Execute runs the root command. Subcommands see ctx through cmd.Context().
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// loadConfig reads configuration with the persistent flags layered on top.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()
	return config.LoadConfig(configFile,
		config.BindFlag("database_url", flags.Lookup("db-url")),
		config.BindFlag("log.level", flags.Lookup("log-level")),
		config.BindFlag("log.format", flags.Lookup("log-format")),
	)
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.Log.Level, cfg.Log.Format)
}
