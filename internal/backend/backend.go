// Пакет backend — удалённые хранилища резервных копий.
//
// Все варианты (http_dav, transfer_session, mounted_fs) реализуют один
// интерфейс Backend. Протокольные особенности наружу выходят только как
// доменные ошибки (model.ErrConnection, model.ErrNotMounted и т.д.).
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/bigkaa/backup-retention/internal/config"
	"github.com/bigkaa/backup-retention/internal/domain/model"
)

// Backend — удалённое хранилище резервных копий.
type Backend interface {
	// ID возвращает идентификатор backend-а из конфигурации.
	ID() string
	// Type возвращает тип backend-а.
	Type() config.BackendType
	// TestConnection проверяет доступность и учётные данные, ничего не изменяя.
	TestConnection(ctx context.Context) error
	// ListArtifacts возвращает артефакты с именем, начинающимся с prefix.
	// Частичный листинг не возвращается: любая ошибка — ошибка всего вызова.
	ListArtifacts(ctx context.Context, prefix string) ([]model.Artifact, error)
	// Upload загружает локальный файл под именем remoteName.
	// Повторная загрузка перезаписывает файл; частично записанный файл не виден.
	Upload(ctx context.Context, localPath, remoteName string) error
	// Delete удаляет артефакт. Отсутствующий артефакт — не ошибка.
	Delete(ctx context.Context, remoteName string) error
	// Close освобождает ресурсы backend-а (ссылку на точку монтирования).
	Close(ctx context.Context) error
}

// Options — общие параметры создания backend-ов.
type Options struct {
	// ConnectTimeout — таймаут установки соединения
	ConnectTimeout time.Duration
	// OperationTimeout — верхняя граница HTTP-запроса WebDAV
	OperationTimeout time.Duration
	// MountTimeout — таймаут монтирования и размонтирования
	MountTimeout time.Duration
	// Mounts — реестр точек монтирования (обязателен для mounted_fs)
	Mounts *MountRegistry
	Logger *slog.Logger
}

// New создаёт backend по конфигурации.
func New(cfg config.BackendConfig, opts Options) (Backend, error) {
	switch cfg.Type {
	case config.BackendHTTPDAV:
		return NewWebDAV(cfg, opts)
	case config.BackendTransferSession:
		return NewFTP(cfg, opts)
	case config.BackendMountedFS:
		if opts.Mounts == nil {
			return nil, model.New(model.KindConfiguration, "new_backend", cfg.ID, "не задан реестр точек монтирования")
		}
		return NewMountedFS(cfg, opts), nil
	default:
		return nil, model.New(model.KindConfiguration, "new_backend", cfg.ID,
			fmt.Sprintf("неизвестный тип backend-а %q", cfg.Type))
	}
}

// Set — набор сконфигурированных backend-ов. Владеет реестром точек
// монтирования: Close освобождает все монтирования.
type Set struct {
	backends map[string]Backend
	broken   map[string]error
	ids      []string
	mounts   *MountRegistry
	logger   *slog.Logger
}

// NewSet создаёт backend-ы по списку конфигураций. Backend, который не
// удалось создать, остаётся в наборе: Get возвращает для него ошибку
// создания, остальные backend-ы работают.
func NewSet(cfgs []config.BackendConfig, timeouts config.TimeoutsConfig, logger *slog.Logger) *Set {
	mounts := NewMountRegistry(NewExecMounter(), os.TempDir(), logger)
	opts := Options{
		ConnectTimeout:   timeouts.Connect,
		OperationTimeout: timeouts.Operation,
		MountTimeout:     timeouts.Mount,
		Mounts:           mounts,
		Logger:           logger,
	}

	s := NewSetFrom(logger)
	s.mounts = mounts
	for _, c := range cfgs {
		b, err := New(c, opts)
		if err != nil {
			s.logger.Warn("Backend не создан, операции с ним будут отклоняться",
				slog.String("backend", c.ID),
				slog.String("error", err.Error()),
			)
			s.broken[c.ID] = err
			s.ids = append(s.ids, c.ID)
			continue
		}
		s.backends[b.ID()] = b
		s.ids = append(s.ids, b.ID())
	}
	return s
}

// NewSetFrom создаёт набор из готовых backend-ов.
func NewSetFrom(logger *slog.Logger, backends ...Backend) *Set {
	s := &Set{
		backends: make(map[string]Backend, len(backends)),
		broken:   make(map[string]error),
		ids:      make([]string, 0, len(backends)),
		logger:   logger.With(slog.String("component", "backends")),
	}
	for _, b := range backends {
		s.backends[b.ID()] = b
		s.ids = append(s.ids, b.ID())
	}
	return s
}

// Get возвращает backend по идентификатору. Для несконфигурированного
// backend-а и backend-а, который не удалось создать, возвращается
// ConfigurationError.
func (s *Set) Get(id string) (Backend, error) {
	if err, ok := s.broken[id]; ok {
		return nil, err
	}
	b, ok := s.backends[id]
	if !ok {
		return nil, model.New(model.KindConfiguration, "get_backend", id, "backend не сконфигурирован")
	}
	return b, nil
}

// IDs возвращает идентификаторы backend-ов в порядке конфигурации.
func (s *Set) IDs() []string {
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

// Close закрывает все backend-ы и размонтирует собственные точки монтирования.
func (s *Set) Close(ctx context.Context) error {
	var errs []error
	for _, id := range s.ids {
		b, ok := s.backends[id]
		if !ok {
			continue
		}
		if err := b.Close(ctx); err != nil {
			s.logger.Warn("Ошибка закрытия backend-а",
				slog.String("backend", id),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
		}
	}
	if s.mounts != nil {
		if err := s.mounts.ReleaseAll(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// runWithContext выполняет блокирующую операцию fn с учётом отмены ctx.
// При отмене вызывается abort (если задан) для прерывания операции,
// а вызывающий получает ctx.Err().
func runWithContext(ctx context.Context, abort func(), fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if abort != nil {
			abort()
		}
		return ctx.Err()
	}
}

// checkRemoteName проверяет, что имя артефакта не содержит путь.
func checkRemoteName(op, target, name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return model.New(model.KindConfiguration, op, target, fmt.Sprintf("недопустимое имя артефакта %q", name))
	}
	return nil
}
