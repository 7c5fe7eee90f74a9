// Пакет server — HTTP-сервер backup-retention с TLS и graceful shutdown.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/backup-retention/internal/api/handlers"
	"github.com/bigkaa/backup-retention/internal/api/middleware"
	"github.com/bigkaa/backup-retention/internal/config"
)

// Handlers — доменные обработчики API.
type Handlers struct {
	Health    *handlers.HealthHandler
	Retention *handlers.RetentionHandler
	Backends  *handlers.BackendsHandler
	Cleanup   *handlers.CleanupHandler
	Uploads   *handlers.UploadsHandler
}

// Server — HTTP-сервер режима serve.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        config.ServerConfig
}

// New создаёт сервер с маршрутами и middleware.
// jwtAuth может быть nil: API работает без аутентификации.
func New(cfg config.ServerConfig, logger *slog.Logger, h Handlers, jwtAuth *middleware.JWTAuth) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(logger, h, jwtAuth),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "http_server")),
		cfg:        cfg,
	}
}

// NewRouter собирает chi-роутер. Health и metrics доступны без JWT:
// их опрашивают Kubernetes и Prometheus напрямую.
func NewRouter(logger *slog.Logger, h Handlers, jwtAuth *middleware.JWTAuth) http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))
	if jwtAuth != nil {
		router.Use(jwtAuthWithExclusions(jwtAuth, "/health/", "/metrics"))
	}

	router.Get("/health/live", h.Health.HealthLive)
	router.Get("/health/ready", h.Health.HealthReady)
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireScope(middleware.ScopeRead))
			r.Get("/retention", h.Retention.GetRetention)
			r.Post("/retention/validate", h.Retention.ValidateRetention)
			r.Get("/backends", h.Backends.ListBackends)
			r.Post("/backends/{id}/test", h.Backends.TestBackend)
			r.Get("/cleanup/last", h.Cleanup.LastCleanup)
		})
		r.With(middleware.RequireScope(middleware.ScopeCleanup)).Post("/cleanup", h.Cleanup.Cleanup)
		r.With(middleware.RequireScope(middleware.ScopeUpload)).Post("/uploads", h.Uploads.Upload)
	})

	return router
}

// jwtAuthWithExclusions пропускает без JWT пути с указанными префиксами.
func jwtAuthWithExclusions(jwtAuth *middleware.JWTAuth, excludePrefixes ...string) func(http.Handler) http.Handler {
	jwtMiddleware := jwtAuth.Middleware()

	return func(next http.Handler) http.Handler {
		protected := jwtMiddleware(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range excludePrefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}
			protected.ServeHTTP(w, r)
		})
	}
}

// Run запускает сервер и ждёт отмены ctx (SIGINT/SIGTERM в режиме serve),
// после чего выполняет graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
			slog.Bool("tls", s.httpServer.TLSConfig != nil),
		)

		var err error
		if s.httpServer.TLSConfig != nil {
			err = s.httpServer.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Получен сигнал завершения")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
