// Пакет service — сценарии управления резервными копиями поверх
// политики хранения и backend-ов.
//
// cleanup.go — очистка локального и удалённых уровней хранения.
//
// Каждая цель (local или backend) обрабатывается независимо:
//  1. Проверка подключения и листинг (для local — чтение директории)
//  2. Разрешение политики уровня
//  3. Оценка артефактов и удаление просроченных
//
// Ошибка одной цели не влияет на остальные; Cleanup никогда не
// возвращает ошибку, только список результатов. В режиме serve очистка
// запускается периодически тикером (schedule.interval).
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/backup-retention/internal/backend"
	"github.com/bigkaa/backup-retention/internal/config"
	"github.com/bigkaa/backup-retention/internal/domain/model"
	"github.com/bigkaa/backup-retention/internal/retention"
	"github.com/bigkaa/backup-retention/internal/storage/filestore"
)

// Prometheus метрики очистки
var (
	cleanupRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "br_cleanup_runs_total",
		Help: "Общее количество запусков очистки",
	}, []string{"trigger"})

	cleanupDeletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "br_cleanup_artifacts_deleted_total",
		Help: "Количество удалённых артефактов",
	}, []string{"location"})

	cleanupFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "br_cleanup_artifacts_failed_total",
		Help: "Количество артефактов, удалить которые не удалось",
	}, []string{"location"})

	cleanupTargetFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "br_cleanup_target_failures_total",
		Help: "Количество целей очистки, завершившихся терминальной ошибкой",
	}, []string{"location", "kind"})

	cleanupDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "br_cleanup_duration_seconds",
		Help:    "Длительность очистки в секундах",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
	})
)

// Источники запуска очистки.
const (
	TriggerSchedule = "schedule"
	TriggerAPI      = "api"
	TriggerCLI      = "cli"
)

// ErrCleanupInProgress — очистка уже выполняется.
var ErrCleanupInProgress = errors.New("очистка уже выполняется")

// BackendProvider — доступ к сконфигурированным backend-ам.
type BackendProvider interface {
	Get(id string) (backend.Backend, error)
	IDs() []string
}

// CleanupRun — итог одного запуска очистки.
type CleanupRun struct {
	Trigger   string                `json:"trigger" yaml:"trigger"`
	StartedAt time.Time             `json:"started_at" yaml:"started_at"`
	Now       time.Time             `json:"now" yaml:"now"`
	Duration  time.Duration         `json:"duration_ns" yaml:"duration_ns"`
	Results   []model.CleanupResult `json:"results" yaml:"results"`
}

// CleanupService — очистка уровней хранения по политике.
type CleanupService struct {
	cfg      *config.Config
	backends BackendProvider
	logger   *slog.Logger

	mu sync.Mutex // исключает параллельные запуски очистки

	lastMu sync.RWMutex
	last   *CleanupRun

	cancel context.CancelFunc
	done   chan struct{}
}

// NewCleanupService создаёт сервис очистки.
func NewCleanupService(cfg *config.Config, backends BackendProvider, logger *slog.Logger) *CleanupService {
	return &CleanupService{
		cfg:      cfg,
		backends: backends,
		logger:   logger.With(slog.String("component", "cleanup")),
	}
}

// Cleanup очищает local (если задан) и перечисленные backend-ы.
// Ожидает завершения параллельного запуска, если он идёт.
// now — момент, относительно которого считается возраст артефактов.
func (s *CleanupService) Cleanup(ctx context.Context, local bool, remoteIDs []string, now time.Time) []model.CleanupResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run(ctx, TriggerCLI, local, remoteIDs, now)
}

// TryCleanup — как Cleanup, но при идущей очистке сразу возвращает
// ErrCleanupInProgress.
func (s *CleanupService) TryCleanup(
	ctx context.Context,
	trigger string,
	local bool,
	remoteIDs []string,
	now time.Time,
) ([]model.CleanupResult, error) {
	if !s.mu.TryLock() {
		return nil, ErrCleanupInProgress
	}
	defer s.mu.Unlock()
	return s.run(ctx, trigger, local, remoteIDs, now), nil
}

// LastRun возвращает итог последнего запуска (nil, если запусков не было).
func (s *CleanupService) LastRun() *CleanupRun {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	return s.last
}

// Start запускает периодическую очистку по расписанию.
// Первый запуск — сразу после старта.
func (s *CleanupService) Start(ctx context.Context, interval time.Duration) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(runCtx, interval)

	s.logger.Info("Очистка по расписанию запущена",
		slog.String("interval", interval.String()),
		slog.Bool("local", s.cfg.Schedule.Local),
		slog.Bool("remote", s.cfg.Schedule.Remote),
	)
}

// Stop останавливает очистку по расписанию и ждёт завершения текущего запуска.
func (s *CleanupService) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.logger.Info("Очистка по расписанию остановлена")
}

func (s *CleanupService) loop(ctx context.Context, interval time.Duration) {
	defer close(s.done)

	s.RunScheduled(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunScheduled(ctx)
		}
	}
}

// RunScheduled выполняет один запуск по расписанию: local и все backend-ы
// согласно schedule.local / schedule.remote.
func (s *CleanupService) RunScheduled(ctx context.Context) {
	var remoteIDs []string
	if s.cfg.Schedule.Remote {
		remoteIDs = s.backends.IDs()
	}

	if _, err := s.TryCleanup(ctx, TriggerSchedule, s.cfg.Schedule.Local, remoteIDs, time.Now().UTC()); err != nil {
		s.logger.Warn("Плановая очистка пропущена", slog.String("reason", err.Error()))
	}
}

// run выполняет очистку. Вызывается под s.mu.
func (s *CleanupService) run(ctx context.Context, trigger string, local bool, remoteIDs []string, now time.Time) []model.CleanupResult {
	start := time.Now()
	if now.IsZero() {
		now = start.UTC()
	}
	cleanupRunsTotal.WithLabelValues(trigger).Inc()

	ids := uniqueIDs(remoteIDs)
	results := make([]model.CleanupResult, 0, len(ids)+1)

	if local {
		results = append(results, s.finish(s.cleanupLocal(ctx, now)))
	}
	for _, id := range ids {
		results = append(results, s.finish(s.cleanupRemote(ctx, id, now)))
	}

	elapsed := time.Since(start)
	cleanupDurationSeconds.Observe(elapsed.Seconds())

	s.lastMu.Lock()
	s.last = &CleanupRun{
		Trigger:   trigger,
		StartedAt: start.UTC(),
		Now:       now,
		Duration:  elapsed,
		Results:   results,
	}
	s.lastMu.Unlock()

	return results
}

// cleanupLocal очищает локальную директорию резервных копий.
func (s *CleanupService) cleanupLocal(ctx context.Context, now time.Time) model.CleanupResult {
	start := time.Now()
	res := model.NewCleanupResult(model.LocationLocal)
	defer func() { res.Duration = time.Since(start) }()

	store := filestore.Open(s.cfg.Local.Dir, s.cfg.Local.Extensions...)
	artifacts, err := store.List(model.LocationLocal, "")
	if err != nil {
		res.SetTerminal(model.Wrap(model.KindListing, "list", model.LocationLocal, err))
		return res
	}

	s.evaluateAndDelete(ctx, &res, s.cfg.Retention.Local, artifacts, now, func(_ context.Context, name string) error {
		return model.Wrap(model.KindDelete, "delete", model.LocationLocal, store.DeleteFile(name))
	})
	return res
}

// cleanupRemote очищает один удалённый backend.
func (s *CleanupService) cleanupRemote(ctx context.Context, id string, now time.Time) model.CleanupResult {
	start := time.Now()
	res := model.NewCleanupResult(id)
	defer func() { res.Duration = time.Since(start) }()

	b, err := s.backends.Get(id)
	if err != nil {
		res.SetTerminal(err)
		return res
	}
	res.BackendType = string(b.Type())

	opCtx, cancel := s.opContext(ctx)
	err = b.TestConnection(opCtx)
	cancel()
	if err != nil {
		res.SetTerminal(err)
		return res
	}

	var prefix string
	if bc, ok := s.cfg.Remote.Backend(id); ok {
		prefix = bc.Prefix
	}

	opCtx, cancel = s.opContext(ctx)
	listed, err := b.ListArtifacts(opCtx, prefix)
	cancel()
	if err != nil {
		res.SetTerminal(err)
		return res
	}

	// Чужие файлы на общем ресурсе не трогаем
	artifacts := listed[:0]
	for _, a := range listed {
		if filestore.MatchesExtensions(a.Name, s.cfg.Local.Extensions) {
			artifacts = append(artifacts, a)
		}
	}

	s.evaluateAndDelete(ctx, &res, s.cfg.Retention.Remote, artifacts, now, func(ctx context.Context, name string) error {
		opCtx, cancel := s.opContext(ctx)
		defer cancel()
		return b.Delete(opCtx, name)
	})
	return res
}

// evaluateAndDelete разрешает политику уровня, оценивает артефакты и
// удаляет просроченные. Ошибка удаления одного артефакта не прерывает цикл.
func (s *CleanupService) evaluateAndDelete(
	ctx context.Context,
	res *model.CleanupResult,
	spec retention.Spec,
	artifacts []model.Artifact,
	now time.Time,
	del func(ctx context.Context, name string) error,
) {
	logger := s.logger.With(slog.String("location", res.Location))
	res.Scanned = len(artifacts)

	resolution, err := retention.Resolve(spec, s.cfg.Retention.RetentionDays)
	if err != nil {
		res.SetTerminal(model.Wrap(model.KindConfiguration, "resolve_policy", res.Location, err))
		return
	}
	if !resolution.Resolved() {
		res.PolicyUnset = true
		for _, a := range artifacts {
			res.Kept[retention.Classify(a.CreatedAt, now)]++
		}
		logger.Info("Политика хранения не задана, удаление не выполняется")
		return
	}
	for _, v := range retention.ValidatePolicy(resolution.Policy) {
		logger.Warn("Политика хранения нарушает порядок окон", slog.String("violation", v.Message))
	}

	decision := retention.Evaluate(artifacts, resolution.Policy, now)
	for _, v := range decision.Keep {
		res.Kept[v.Bucket]++
	}

	for _, v := range decision.Delete {
		if err := ctx.Err(); err != nil {
			s.recordFailure(res, v.Artifact.Name, model.Wrap(model.KindTimeout, "delete", res.Location, err))
			continue
		}
		if err := del(ctx, v.Artifact.Name); err != nil {
			s.recordFailure(res, v.Artifact.Name, err)
			logger.Warn("Ошибка удаления артефакта",
				slog.String("name", v.Artifact.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		res.Deleted++
		res.DeletedNames = append(res.DeletedNames, v.Artifact.Name)
		logger.Info("Артефакт удалён",
			slog.String("name", v.Artifact.Name),
			slog.String("bucket", string(v.Bucket)),
			slog.Int("age_days", v.AgeDays),
			slog.String("reason", v.Reason),
		)
	}
}

func (s *CleanupService) recordFailure(res *model.CleanupResult, name string, err error) {
	res.Failed++
	res.Failures = append(res.Failures, model.ArtifactFailure{
		Name:  name,
		Kind:  model.KindOf(err),
		Error: err.Error(),
	})
}

// finish логирует итог цели и обновляет метрики.
func (s *CleanupService) finish(res model.CleanupResult) model.CleanupResult {
	cleanupDeletedTotal.WithLabelValues(res.Location).Add(float64(res.Deleted))
	cleanupFailedTotal.WithLabelValues(res.Location).Add(float64(res.Failed))

	attrs := []any{
		slog.String("location", res.Location),
		slog.Int("scanned", res.Scanned),
		slog.Int("kept", res.KeptTotal()),
		slog.Int("deleted", res.Deleted),
		slog.Int("failed", res.Failed),
		slog.Duration("duration", res.Duration),
	}
	if res.Error != "" {
		cleanupTargetFailuresTotal.WithLabelValues(res.Location, string(res.ErrorKind)).Inc()
		s.logger.Error("Очистка цели завершилась ошибкой",
			append(attrs, slog.String("error_kind", string(res.ErrorKind)), slog.String("error", res.Error))...)
		return res
	}
	s.logger.Info("Очистка цели завершена", attrs...)
	return res
}

func (s *CleanupService) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Timeouts.Operation <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.Timeouts.Operation)
}

// uniqueIDs убирает повторы, сохраняя порядок.
func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
