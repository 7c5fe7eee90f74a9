// probe.go — проверка подключения к backend-ам с кэшированием результата.
// Обёртка над hashicorp/golang-lru/v2/expirable: повторные проверки
// из API в пределах TTL не открывают новых соединений.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/backup-retention/internal/backend"
	"github.com/bigkaa/backup-retention/internal/domain/model"
)

// Prometheus-метрики кэша проверок.
var (
	probeCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "br_probe_cache_hits_total",
		Help: "Общее количество попаданий в кэш проверок backend-ов.",
	})
	probeCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "br_probe_cache_misses_total",
		Help: "Общее количество промахов кэша проверок backend-ов.",
	})
)

// ProbeService — проверка backend-ов с LRU-кэшем результатов.
type ProbeService struct {
	backends BackendProvider
	cache    *expirable.LRU[string, model.ConnectionReport]
	timeout  time.Duration
	logger   *slog.Logger
}

// NewProbeService создаёт сервис проверки.
// cacheSize — максимальное число записей, ttl — время жизни результата,
// timeout — ограничение одной проверки.
func NewProbeService(backends BackendProvider, cacheSize int, ttl, timeout time.Duration, logger *slog.Logger) *ProbeService {
	return &ProbeService{
		backends: backends,
		cache:    expirable.NewLRU[string, model.ConnectionReport](cacheSize, nil, ttl),
		timeout:  timeout,
		logger:   logger.With(slog.String("component", "probe")),
	}
}

// TestBackend проверяет backend id. При fresh кэш не используется,
// но свежий результат в него записывается.
func (p *ProbeService) TestBackend(ctx context.Context, id string, fresh bool) model.ConnectionReport {
	if !fresh {
		if report, ok := p.cache.Get(id); ok {
			probeCacheHitsTotal.Inc()
			report.Cached = true
			return report
		}
		probeCacheMissesTotal.Inc()
	}

	b, err := p.backends.Get(id)
	if err != nil {
		return model.ConnectionReport{
			BackendID: id,
			ErrorKind: model.KindOf(err),
			Error:     err.Error(),
			CheckedAt: time.Now().UTC(),
		}
	}

	report := TestBackend(ctx, b, p.timeout)
	p.cache.Add(id, report)

	if !report.OK {
		p.logger.Warn("Backend недоступен",
			slog.String("backend", id),
			slog.String("error_kind", string(report.ErrorKind)),
			slog.String("error", report.Error),
		)
	}
	return report
}

// Invalidate удаляет результат проверки из кэша.
func (p *ProbeService) Invalidate(id string) {
	p.cache.Remove(id)
}

// TestBackend выполняет одну проверку подключения без кэша.
func TestBackend(ctx context.Context, b backend.Backend, timeout time.Duration) model.ConnectionReport {
	report := model.ConnectionReport{
		BackendID:   b.ID(),
		BackendType: string(b.Type()),
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	err := b.TestConnection(ctx)
	report.Latency = time.Since(start)
	report.CheckedAt = start.UTC()

	if err != nil {
		report.ErrorKind = model.KindOf(err)
		report.Error = err.Error()
		return report
	}
	report.OK = true
	return report
}
