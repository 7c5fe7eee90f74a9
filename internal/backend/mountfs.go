// mountfs.go — backend mounted_fs: сетевой ресурс CIFS, смонтированный
// в локальную директорию. Файловые операции выполняет filestore.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bigkaa/backup-retention/internal/config"
	"github.com/bigkaa/backup-retention/internal/domain/model"
	"github.com/bigkaa/backup-retention/internal/storage/filestore"
)

// MountedFS — backend mounted_fs. Монтирование выполняется лениво при
// первой операции, ссылка на точку монтирования освобождается в Close.
type MountedFS struct {
	id           string
	cfg          config.BackendConfig
	registry     *MountRegistry
	mountTimeout time.Duration
	logger       *slog.Logger

	mu     sync.Mutex
	handle *MountHandle
}

// NewMountedFS создаёт backend. Монтирование не выполняется.
func NewMountedFS(cfg config.BackendConfig, opts Options) *MountedFS {
	mountPoint := cfg.MountPoint
	if mountPoint == "" {
		mountPoint = config.DefaultMountPoint
	}
	cfg.MountPoint = filepath.Clean(mountPoint)

	return &MountedFS{
		id:           cfg.ID,
		cfg:          cfg,
		registry:     opts.Mounts,
		mountTimeout: opts.MountTimeout,
		logger:       opts.Logger.With(slog.String("component", "backend"), slog.String("backend", cfg.ID)),
	}
}

func (m *MountedFS) ID() string {
	return m.id
}

func (m *MountedFS) Type() config.BackendType {
	return config.BackendMountedFS
}

// TestConnection проверяет, что ресурс смонтирован и директория доступна.
func (m *MountedFS) TestConnection(ctx context.Context) error {
	store, err := m.store(ctx)
	if err != nil {
		return err
	}

	err = runWithContext(ctx, nil, func() error {
		dir := store.Dir()
		info, err := os.Stat(dir)
		if errors.Is(err, fs.ErrNotExist) && dir != m.cfg.MountPoint {
			// remote_dir создаётся при первой загрузке
			info, err = os.Stat(m.cfg.MountPoint)
		}
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("%s не является директорией", dir)
		}
		return nil
	})
	return model.Wrap(model.KindConnection, "test_connection", m.id, err)
}

// ListArtifacts читает директорию на смонтированном ресурсе.
// Отсутствующая remote_dir — пустой список.
func (m *MountedFS) ListArtifacts(ctx context.Context, prefix string) ([]model.Artifact, error) {
	store, err := m.store(ctx)
	if err != nil {
		return nil, err
	}

	var artifacts []model.Artifact
	err = runWithContext(ctx, nil, func() error {
		var listErr error
		artifacts, listErr = store.List(m.id, prefix)
		if errors.Is(listErr, fs.ErrNotExist) && store.Dir() != m.cfg.MountPoint {
			artifacts = nil
			return nil
		}
		return listErr
	})
	if err != nil {
		return nil, model.Wrap(model.KindListing, "list", m.id, err)
	}
	return artifacts, nil
}

// Upload копирует файл атомарно (temp → fsync → rename).
func (m *MountedFS) Upload(ctx context.Context, localPath, remoteName string) error {
	if err := checkRemoteName("upload", m.id, remoteName); err != nil {
		return err
	}
	store, err := m.store(ctx)
	if err != nil {
		return err
	}

	err = runWithContext(ctx, nil, func() error {
		if err := os.MkdirAll(store.Dir(), 0o750); err != nil {
			return fmt.Errorf("создание директории %s: %w", store.Dir(), err)
		}
		_, err := store.SaveFrom(localPath, remoteName)
		return err
	})
	return model.Wrap(model.KindUpload, "upload", m.id, err)
}

// Delete удаляет файл. Отсутствующий файл — успех.
func (m *MountedFS) Delete(ctx context.Context, remoteName string) error {
	if err := checkRemoteName("delete", m.id, remoteName); err != nil {
		return err
	}
	store, err := m.store(ctx)
	if err != nil {
		return err
	}

	err = runWithContext(ctx, nil, func() error {
		return store.DeleteFile(remoteName)
	})
	return model.Wrap(model.KindDelete, "delete", m.id, err)
}

// Close освобождает ссылку на точку монтирования.
func (m *MountedFS) Close(ctx context.Context) error {
	m.mu.Lock()
	h := m.handle
	m.handle = nil
	m.mu.Unlock()

	if h == nil {
		return nil
	}
	return h.Release(ctx)
}

// store гарантирует монтирование и возвращает FileStore директории
// резервных копий на ресурсе.
func (m *MountedFS) store(ctx context.Context) (*filestore.FileStore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handle == nil {
		mctx := ctx
		if m.mountTimeout > 0 {
			var cancel context.CancelFunc
			mctx, cancel = context.WithTimeout(ctx, m.mountTimeout)
			defer cancel()
		}

		h, err := m.registry.Acquire(mctx, m.request(), m.cfg.AutoMountEnabled())
		if err != nil {
			return nil, err
		}
		m.handle = h
	}

	return filestore.Open(filepath.Join(m.cfg.MountPoint, m.cfg.RemoteDir)), nil
}

func (m *MountedFS) request() MountRequest {
	return MountRequest{
		Source:   m.cfg.Server,
		Target:   m.cfg.MountPoint,
		FSType:   "cifs",
		Username: m.cfg.Username,
		Password: m.cfg.Password,
		Domain:   m.cfg.Domain,
		Options:  m.cfg.MountOptions,
	}
}
