// mount.go — управление точками монтирования CIFS.
//
// MountRegistry — явно передаваемый владелец состояния монтирования:
// один путь монтируется не более одного раза, ссылки считаются,
// размонтирование выполняется при освобождении последней ссылки и
// только для точек, смонтированных самим реестром.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/moby/sys/mountinfo"

	"github.com/bigkaa/backup-retention/internal/domain/model"
)

// rollbackTimeout — таймаут отката неудачного монтирования.
const rollbackTimeout = 30 * time.Second

// MountRequest — параметры монтирования сетевого ресурса.
type MountRequest struct {
	// Source — сетевой ресурс (//server/share)
	Source string
	// Target — точка монтирования
	Target   string
	FSType   string
	Username string
	Password string
	Domain   string
	// Options — дополнительные опции mount -o
	Options []string
}

// Mounter — системные операции монтирования.
type Mounter interface {
	Mount(ctx context.Context, req MountRequest) error
	Unmount(ctx context.Context, target string) error
	IsMounted(target string) (bool, error)
}

// execMounter монтирует через mount(8)/umount(8).
type execMounter struct{}

// NewExecMounter создаёт Mounter на базе системных утилит.
// Требует прав на монтирование (root или CAP_SYS_ADMIN).
func NewExecMounter() Mounter {
	return execMounter{}
}

func (execMounter) IsMounted(target string) (bool, error) {
	return mountinfo.Mounted(target)
}

// Mount передаёт учётные данные через временный файл с правами 0600,
// чтобы пароль не попадал в список процессов.
func (execMounter) Mount(ctx context.Context, req MountRequest) error {
	opts := []string{
		fmt.Sprintf("uid=%d", os.Getuid()),
		fmt.Sprintf("gid=%d", os.Getgid()),
	}

	if req.Username != "" {
		credPath, err := writeCredentials(req)
		if err != nil {
			return err
		}
		defer os.Remove(credPath)
		opts = append(opts, "credentials="+credPath)
	} else {
		opts = append(opts, "guest")
	}
	opts = append(opts, req.Options...)

	cmd := exec.CommandContext(ctx, "mount", "-t", req.FSType, req.Source, req.Target, "-o", strings.Join(opts, ","))
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("mount %s: %w: %s", req.Source, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (execMounter) Unmount(ctx context.Context, target string) error {
	cmd := exec.CommandContext(ctx, "umount", target)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("umount %s: %w: %s", target, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// writeCredentials создаёт файл учётных данных mount.cifs.
func writeCredentials(req MountRequest) (string, error) {
	f, err := os.CreateTemp("", "backup-retention-cifs-*.cred")
	if err != nil {
		return "", fmt.Errorf("не удалось создать файл учётных данных: %w", err)
	}

	content := fmt.Sprintf("username=%s\npassword=%s\n", req.Username, req.Password)
	if req.Domain != "" {
		content += fmt.Sprintf("domain=%s\n", req.Domain)
	}

	if err := f.Chmod(0o600); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("chmod файла учётных данных: %w", err)
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("запись файла учётных данных: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("закрытие файла учётных данных: %w", err)
	}
	return f.Name(), nil
}

// mountEntry — состояние одной точки монтирования.
type mountEntry struct {
	refs int
	// owned — смонтировано реестром (иначе чужое монтирование, не размонтируется)
	owned bool
}

// MountRegistry — реестр точек монтирования процесса.
type MountRegistry struct {
	mounter Mounter
	lockDir string
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[string]*mountEntry
}

// NewMountRegistry создаёт реестр. lockDir — директория lock-файлов.
func NewMountRegistry(mounter Mounter, lockDir string, logger *slog.Logger) *MountRegistry {
	return &MountRegistry{
		mounter: mounter,
		lockDir: lockDir,
		logger:  logger.With(slog.String("component", "mounts")),
		entries: make(map[string]*mountEntry),
	}
}

// MountHandle — ссылка на точку монтирования. Release освобождает её
// не более одного раза.
type MountHandle struct {
	registry *MountRegistry
	target   string
	once     sync.Once
}

// Target возвращает путь точки монтирования.
func (h *MountHandle) Target() string {
	return h.target
}

// Release освобождает ссылку. Последняя ссылка на собственное
// монтирование приводит к размонтированию.
func (h *MountHandle) Release(ctx context.Context) error {
	var err error
	h.once.Do(func() {
		err = h.registry.release(ctx, h.target)
	})
	return err
}

// Acquire возвращает ссылку на смонтированный req.Target.
//
// Существующее монтирование (своё или внешнее) переиспользуется.
// Если путь не смонтирован и autoMount выключен, возвращается NotMountedError
// без попытки монтирования.
func (r *MountRegistry) Acquire(ctx context.Context, req MountRequest, autoMount bool) (*MountHandle, error) {
	target := filepath.Clean(req.Target)
	req.Target = target

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[target]; ok {
		e.refs++
		return r.handle(target), nil
	}

	mounted, err := r.mounter.IsMounted(target)
	if err != nil {
		return nil, model.Wrap(model.KindConnection, "mount_check", target, err)
	}
	if mounted {
		r.logger.Info("Используется существующее монтирование", slog.String("mount_point", target))
		r.entries[target] = &mountEntry{refs: 1}
		return r.handle(target), nil
	}

	if !autoMount {
		return nil, model.New(model.KindNotMounted, "mount", target, "ресурс не смонтирован, auto_mount выключен")
	}

	lock, err := acquireMountLock(ctx, r.lockDir, target)
	if err != nil {
		return nil, model.Wrap(model.KindConnection, "mount_lock", target, err)
	}
	defer lock.release()

	// Пока ожидали lock, ресурс мог смонтировать другой процесс
	if mounted, err := r.mounter.IsMounted(target); err == nil && mounted {
		r.entries[target] = &mountEntry{refs: 1}
		return r.handle(target), nil
	}

	if err := os.MkdirAll(target, 0o750); err != nil {
		return nil, model.Wrap(model.KindConnection, "mount", target, err)
	}

	r.logger.Info("Монтирование ресурса",
		slog.String("source", req.Source),
		slog.String("mount_point", target),
	)
	if err := r.mounter.Mount(ctx, req); err != nil {
		r.rollback(target)
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		return nil, model.Wrap(model.KindConnection, "mount", target, err)
	}

	mounted, err = r.mounter.IsMounted(target)
	if err != nil || !mounted {
		r.rollback(target)
		if err == nil {
			err = errors.New("после mount ресурс не виден в таблице монтирования")
		}
		return nil, model.Wrap(model.KindConnection, "mount", target, err)
	}

	r.entries[target] = &mountEntry{refs: 1, owned: true}
	return r.handle(target), nil
}

// ReleaseAll размонтирует все собственные точки независимо от числа ссылок.
func (r *MountRegistry) ReleaseAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for target, e := range r.entries {
		delete(r.entries, target)
		if e.owned {
			if err := r.unmount(ctx, target); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Refs возвращает число ссылок на точку монтирования.
func (r *MountRegistry) Refs(target string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[filepath.Clean(target)]; ok {
		return e.refs
	}
	return 0
}

func (r *MountRegistry) handle(target string) *MountHandle {
	return &MountHandle{registry: r, target: target}
}

func (r *MountRegistry) release(ctx context.Context, target string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[target]
	if !ok {
		return nil
	}
	e.refs--
	if e.refs > 0 {
		return nil
	}
	delete(r.entries, target)

	if !e.owned {
		return nil
	}
	return r.unmount(ctx, target)
}

func (r *MountRegistry) unmount(ctx context.Context, target string) error {
	lock, err := acquireMountLock(ctx, r.lockDir, target)
	if err != nil {
		return model.Wrap(model.KindConnection, "unmount_lock", target, err)
	}
	defer lock.release()

	if err := r.mounter.Unmount(ctx, target); err != nil {
		r.logger.Warn("Ошибка размонтирования",
			slog.String("mount_point", target),
			slog.String("error", err.Error()),
		)
		return model.Wrap(model.KindConnection, "unmount", target, err)
	}
	r.logger.Info("Ресурс размонтирован", slog.String("mount_point", target))
	return nil
}

// rollback снимает частично выполненное монтирование. Использует
// собственный таймаут: контекст операции к этому моменту может истечь.
func (r *MountRegistry) rollback(target string) {
	ctx, cancel := context.WithTimeout(context.Background(), rollbackTimeout)
	defer cancel()

	mounted, err := r.mounter.IsMounted(target)
	if err != nil || !mounted {
		return
	}
	if err := r.mounter.Unmount(ctx, target); err != nil {
		r.logger.Warn("Ошибка отката монтирования",
			slog.String("mount_point", target),
			slog.String("error", err.Error()),
		)
	}
}
