// dephealth.go — интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// backup-retention мониторит:
//   - JWKS endpoint (HTTP GET, critical) — если включена JWT-аутентификация
//   - WebDAV backend-ы с заданным health_url (HTTP GET, non-critical)
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками.
package service

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // HTTP checker
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bigkaa/backup-retention/internal/config"
)

// DependencyTarget — одна HTTP-зависимость для мониторинга.
type DependencyTarget struct {
	Name       string
	URL        string
	HealthPath string
	Critical   bool
	SkipVerify bool
}

// DependencyTargets собирает зависимости из конфигурации.
func DependencyTargets(cfg *config.Config) []DependencyTarget {
	var targets []DependencyTarget

	if cfg.Auth.JWKSURL != "" {
		targets = append(targets, DependencyTarget{
			Name:       "jwks",
			URL:        cfg.Auth.JWKSURL,
			HealthPath: healthPath(cfg.Auth.JWKSURL),
			Critical:   true,
			SkipVerify: cfg.Auth.TLSSkipVerify,
		})
	}

	for _, b := range cfg.Remote.Backends {
		if b.Type != config.BackendHTTPDAV || b.HealthURL == "" {
			continue
		}
		targets = append(targets, DependencyTarget{
			Name:       "backend-" + b.ID,
			URL:        b.HealthURL,
			HealthPath: healthPath(b.HealthURL),
			SkipVerify: !b.VerifySSLEnabled(),
		})
	}
	return targets
}

// healthPath извлекает path из URL; по умолчанию "/".
func healthPath(rawURL string) string {
	if parsed, err := url.Parse(rawURL); err == nil && parsed.Path != "" {
		return parsed.Path
	}
	return "/"
}

// DephealthService — сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh       *dephealth.DepHealth
	critical map[string]bool
	logger   *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
// Метрики регистрируются в глобальном Prometheus registry.
func NewDephealthService(
	name string,
	group string,
	targets []DependencyTarget,
	checkInterval time.Duration,
	logger *slog.Logger,
) (*DephealthService, error) {
	return newDephealthService(name, group, targets, checkInterval, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с указанным Prometheus registerer.
// Используется в тестах для изоляции метрик.
func NewDephealthServiceWithRegisterer(
	name string,
	group string,
	targets []DependencyTarget,
	checkInterval time.Duration,
	logger *slog.Logger,
	registerer prometheus.Registerer,
) (*DephealthService, error) {
	return newDephealthService(name, group, targets, checkInterval, logger, dephealth.WithRegisterer(registerer))
}

func newDephealthService(
	name string,
	group string,
	targets []DependencyTarget,
	checkInterval time.Duration,
	logger *slog.Logger,
	extraOpts ...dephealth.Option,
) (*DephealthService, error) {
	opts := make([]dephealth.Option, 0, 1+len(targets)+len(extraOpts))
	opts = append(opts, dephealth.WithLogger(logger))

	critical := make(map[string]bool, len(targets))
	for _, t := range targets {
		depOpts := []dephealth.DependencyOption{
			dephealth.FromURL(t.URL),
			dephealth.WithHTTPHealthPath(t.HealthPath),
			dephealth.CheckInterval(checkInterval),
			dephealth.Critical(t.Critical),
		}
		if parsed, err := url.Parse(t.URL); err == nil && parsed.Scheme == "https" {
			depOpts = append(depOpts, dephealth.WithHTTPTLSSkipVerify(t.SkipVerify))
		}
		opts = append(opts, dephealth.HTTP(t.Name, depOpts...))
		critical[t.Name] = t.Critical
	}
	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(name, group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:       dh,
		critical: critical,
		logger:   logger.With(slog.String("component", "dephealth")),
	}, nil
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен", slog.Int("dependencies", len(ds.critical)))
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ — имя зависимости, значение — true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}

// CriticalHealthy возвращает false, если хотя бы одна критичная
// зависимость в состоянии fail.
func (ds *DephealthService) CriticalHealthy() bool {
	for name, ok := range ds.dh.Health() {
		if !ok && ds.isCritical(name) {
			return false
		}
	}
	return true
}

// isCritical сопоставляет ключ Health() с именем зависимости.
// Ключ может содержать адрес эндпоинта после имени.
func (ds *DephealthService) isCritical(key string) bool {
	if c, ok := ds.critical[key]; ok {
		return c
	}
	for name, c := range ds.critical {
		if c && len(key) > len(name) && key[:len(name)] == name && (key[len(name)] == ':' || key[len(name)] == '/') {
			return true
		}
	}
	return false
}
