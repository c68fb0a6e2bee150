package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/solatis/gears/internal/calendar"
	"github.com/solatis/gears/internal/capability"
	"github.com/solatis/gears/internal/capability/kv"
	"github.com/solatis/gears/internal/core/api"
	"github.com/solatis/gears/internal/core/auth"
	"github.com/solatis/gears/internal/core/config"
	"github.com/solatis/gears/internal/core/db"
	"github.com/solatis/gears/internal/core/server"
	"github.com/solatis/gears/internal/recordsource"
	"github.com/solatis/gears/internal/recordsource/shortcut"
	"github.com/solatis/gears/internal/recordsource/sqlstore"
	"github.com/solatis/gears/internal/reload"
	"github.com/solatis/gears/internal/rules"
	"github.com/solatis/gears/internal/types"
)

const Version = "0.1.0"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Receive webhooks and run rules",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "", "webhook listen host (overrides webhook.host)")
	serveCmd.Flags().Int("port", 0, "webhook listen port (overrides webhook.port)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("host") {
		cfg.Webhook.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Webhook.Port, _ = cmd.Flags().GetInt("port")
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	secrets := config.LoadSecrets()
	if secrets.UsingDefaultSecret() {
		logger.Warn("webhook secret isn't configured, anyone who knows the default can trigger rules; set GEARS_SECRET")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var queries *db.Queries
	if cfg.DatabaseURL != "" {
		database, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer database.Close()

		if err := requireMigrated(ctx, database, logger); err != nil {
			return err
		}
		queries, err = db.LoadQueries(database)
		if err != nil {
			return fmt.Errorf("failed to load queries: %w", err)
		}
	}

	src, err := newSource(cfg, secrets, queries, logger)
	if err != nil {
		return err
	}

	reg := rules.NewRegistry()
	store, err := registerCapabilities(ctx, reg, cfg, secrets, src, logger)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	engineOpts := []rules.Option{
		rules.WithTimeout(cfg.Rules.Timeout),
		rules.WithCommenter(src),
	}
	var runLog *db.RunLog
	if cfg.RunLog.Enabled {
		runLog = db.NewRunLog(queries, logger)
		runLog.RecordMisses = cfg.RunLog.RecordMisses
		engineOpts = append(engineOpts, rules.WithObserver(runLog))
	}

	compiler := rules.NewCompiler(reg, logger, src)
	engine := rules.NewEngine(reg.Freeze(), logger, engineOpts...)
	loader := reload.New(src, compiler, engine, reload.Config{
		Label:    cfg.Rules.Label,
		Interval: cfg.Rules.ReloadInterval,
	}, logger)

	archive, err := api.NewArchive(cfg.Webhook.ArchiveDir)
	if err != nil {
		return err
	}
	router := api.NewRouter(api.RouterConfig{
		Verifier:     auth.NewVerifier(secrets.Webhook),
		Handler:      api.NewWebhookHandler(engine, archive, logger),
		MaxBodyBytes: cfg.Webhook.MaxBodyBytes,
		Ready:        func() bool { return isClosed(loader.Ready()) },
		Logger:       logger,
	})
	httpServer := server.NewHTTPServer(net.JoinHostPort(cfg.Webhook.Host, strconv.Itoa(cfg.Webhook.Port)), router)

	var grpcServer *server.GRPCServer
	adminAddr := net.JoinHostPort(cfg.Admin.Host, strconv.Itoa(cfg.Admin.Port))
	if cfg.Admin.Enabled {
		var runs api.RunLister
		if runLog != nil {
			runs = runLog
		}
		svc, err := api.NewAdminService(engine, loader, runs, logger)
		if err != nil {
			return fmt.Errorf("failed to create admin service: %w", err)
		}
		authenticator := auth.NewTokenAuthenticator(secrets.AdminToken)
		if authenticator.Open() {
			logger.Warn("admin API has no token; set GEARS_ADMIN_TOKEN", zap.String("addr", adminAddr))
		}
		grpcServer, err = server.NewGRPCServer(adminAddr, svc, authenticator)
		if err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ignoreCanceled(loader.Run(gctx))
	})

	if cfg.Calendar.Enabled {
		ticker := calendar.NewTicker(loc)
		g.Go(func() error {
			return ignoreCanceled(ticker.Run(gctx, func(ctx context.Context, tick calendar.Tick) {
				dispatchTick(ctx, engine, tick)
			}))
		})
	}

	g.Go(func() error {
		logger.Info("webhook listening", zap.String("addr", net.JoinHostPort(cfg.Webhook.Host, strconv.Itoa(cfg.Webhook.Port))))
		return httpServer.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		return httpServer.Shutdown(context.Background())
	})

	if grpcServer != nil {
		g.Go(func() error {
			logger.Info("admin API listening", zap.String("addr", adminAddr))
			return grpcServer.Start(gctx)
		})
		g.Go(func() error {
			select {
			case <-loader.Ready():
				grpcServer.MarkServing()
			case <-gctx.Done():
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return grpcServer.Shutdown(context.Background())
		})
	}

	if runLog != nil && cfg.RunLog.Retention > 0 {
		g.Go(func() error {
			return ignoreCanceled(pruneRuns(gctx, runLog, cfg.RunLog.Retention, logger))
		})
	}

	logger.Info("gears started",
		zap.String("version", Version),
		zap.String("source", cfg.Source.Type),
		zap.String("label", cfg.Rules.Label),
		zap.Bool("calendar", cfg.Calendar.Enabled))

	err = g.Wait()
	logger.Info("gears stopped")
	return err
}

// newSource selects the record source rules are loaded from.
func newSource(cfg *config.Config, secrets config.Secrets, queries *db.Queries, logger *zap.Logger) (recordsource.Source, error) {
	switch cfg.Source.Type {
	case config.SourceSQL:
		if queries == nil {
			return nil, fmt.Errorf("source.type %q requires database_url", config.SourceSQL)
		}
		return sqlstore.New(queries, sqlstore.WithAppURL(cfg.Source.AppURL)), nil
	case config.SourceShortcut:
		client, err := shortcut.New(secrets.ShortcutToken,
			shortcut.WithBaseURL(cfg.Source.ShortcutBaseURL),
			shortcut.WithLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("shortcut source: %w (set GEARS_SHORTCUT_TOKEN)", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown source type %q", cfg.Source.Type)
	}
}

// registerCapabilities adds the built-in capabilities rules can call. The
// returned store is non-nil when redis is configured and must be closed.
func registerCapabilities(ctx context.Context, reg *rules.Registry, cfg *config.Config, secrets config.Secrets, src recordsource.Source, logger *zap.Logger) (*kv.Store, error) {
	if err := capability.RegisterLog(reg, logger); err != nil {
		return nil, err
	}
	if err := capability.RegisterStories(reg, src); err != nil {
		return nil, err
	}
	if err := capability.RegisterHTTP(reg, &http.Client{Timeout: 10 * time.Second}); err != nil {
		return nil, err
	}
	if cfg.Redis.Addr == "" {
		return nil, nil
	}
	store, err := kv.Open(ctx, kv.Config{
		Addr:     cfg.Redis.Addr,
		Password: secrets.RedisPassword,
		DB:       cfg.Redis.DB,
		Prefix:   cfg.Redis.Prefix,
	})
	if err != nil {
		return nil, err
	}
	if err := kv.Register(reg, store); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// dispatchTick broadcasts one calendar minute as a synthetic time event.
func dispatchTick(ctx context.Context, d api.Dispatcher, tick calendar.Tick) {
	payload := types.NewTimePayload(tick.At, tick.Changes, tick.Reference)
	d.Broadcast(ctx, payload.Actions, payload)
}

// pruneRuns deletes run log rows older than retention once an hour.
func pruneRuns(ctx context.Context, runLog *db.RunLog, retention time.Duration, logger *zap.Logger) error {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		n, err := runLog.Prune(ctx, time.Now().Add(-retention))
		if err != nil {
			logger.Warn("pruning run log failed", zap.Error(err))
		} else if n > 0 {
			logger.Debug("pruned run log", zap.Int64("rows", n))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// requireMigrated refuses to start against a schema with pending migrations.
func requireMigrated(ctx context.Context, database *sqlx.DB, logger *zap.Logger) error {
	migrator, err := db.NewMigrator(database, logger)
	if err != nil {
		return err
	}
	pending, err := migrator.Pending(ctx)
	if err != nil {
		return fmt.Errorf("failed to check migrations: %w", err)
	}
	if len(pending) > 0 {
		return fmt.Errorf("migration %s not applied, run 'gears migrate' first", pending[0])
	}
	return nil
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
