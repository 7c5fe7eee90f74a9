package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bigkaa/backup-retention/internal/api/handlers"
	"github.com/bigkaa/backup-retention/internal/api/middleware"
	"github.com/bigkaa/backup-retention/internal/config"
	"github.com/bigkaa/backup-retention/internal/server"
	"github.com/bigkaa/backup-retention/internal/service"
)

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Запустить HTTP API и очистку по расписанию",
		Long: `Запускает HTTP API (health, metrics, retention, backends, cleanup, uploads)
и периодическую очистку по schedule.interval (0 — отключена).
JWT-аутентификация включается параметром auth.jwks_url.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, a)
		},
	}
}

// serve собирает зависимости и блокируется до отмены ctx.
func serve(ctx context.Context, a *app) error {
	cfg, logger := a.cfg, a.logger

	logger.Info("Запуск backup-retention",
		slog.String("version", config.Version),
		slog.String("local_dir", cfg.Local.Dir),
		slog.Int("backends", len(cfg.Remote.Backends)),
		slog.Bool("remote_enabled", cfg.Remote.Enabled),
	)

	set := a.backends()
	defer a.closeBackends(set)

	summary := service.SummarizeRetention(cfg.Retention)
	for _, t := range summary.Tiers {
		for _, v := range t.Violations {
			logger.Warn("Нарушение политики хранения",
				slog.String("tier", t.Tier),
				slog.String("field", v.Field),
				slog.String("message", v.Message),
			)
		}
	}

	var jwtAuth *middleware.JWTAuth
	if cfg.Auth.JWKSURL != "" {
		var err error
		jwtAuth, err = middleware.NewJWTAuth(middleware.JWTAuthConfig{
			JWKSURL:         cfg.Auth.JWKSURL,
			CACertPath:      cfg.Auth.CACert,
			TLSSkipVerify:   cfg.Auth.TLSSkipVerify,
			ClientTimeout:   cfg.Auth.ClientTimeout,
			RefreshInterval: cfg.Auth.RefreshInterval,
			JWTLeeway:       cfg.Auth.JWTLeeway,
		}, logger)
		if err != nil {
			return fmt.Errorf("инициализация JWT: %w", err)
		}
		logger.Info("JWT-аутентификация включена", slog.String("jwks_url", cfg.Auth.JWKSURL))
	} else {
		logger.Warn("auth.jwks_url не задан, API работает без аутентификации")
	}

	var deps handlers.DependencyChecker
	if targets := service.DependencyTargets(cfg); len(targets) > 0 {
		ds, err := service.NewDephealthService(cfg.Dephealth.Name, cfg.Dephealth.Group, targets, cfg.Dephealth.CheckInterval, logger)
		if err != nil {
			return fmt.Errorf("инициализация dephealth: %w", err)
		}
		if err := ds.Start(ctx); err != nil {
			return fmt.Errorf("запуск dephealth: %w", err)
		}
		defer ds.Stop()
		deps = ds
	}

	cleanup := service.NewCleanupService(cfg, set, logger)
	if cfg.Schedule.Interval > 0 {
		cleanup.Start(ctx, cfg.Schedule.Interval)
		defer cleanup.Stop()
	} else {
		logger.Info("Очистка по расписанию отключена (schedule.interval = 0)")
	}

	probe := service.NewProbeService(set, cfg.Probe.CacheSize, cfg.Probe.CacheTTL, cfg.Timeouts.Connect, logger)

	srv := server.New(cfg.Server, logger, server.Handlers{
		Health:    handlers.NewHealthHandler(cfg.Local.Dir, deps),
		Retention: handlers.NewRetentionHandler(cfg.Retention),
		Backends:  handlers.NewBackendsHandler(cfg.Remote, probe),
		Cleanup:   handlers.NewCleanupHandler(cleanup, set.IDs()),
		Uploads:   handlers.NewUploadsHandler(cfg.Local.Dir, service.NewUploadService(cfg, set, logger)),
	}, jwtAuth)

	return srv.Run(ctx)
}
