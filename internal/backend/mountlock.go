package backend

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// lockRetryInterval — интервал повторных попыток захвата mount-lock.
const lockRetryInterval = 200 * time.Millisecond

// mountLock — межпроцессная блокировка точки монтирования (flock).
// Защищает монтирование и размонтирование одного пути от параллельных
// экземпляров backup-retention (например, cron и serve).
type mountLock struct {
	file *os.File
}

// mountLockPath возвращает путь lock-файла для точки монтирования.
func mountLockPath(dir, target string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(target)))
	return filepath.Join(dir, "backup-retention-mount-"+hex.EncodeToString(sum[:8])+".lock")
}

// acquireMountLock захватывает эксклюзивный flock, повторяя неблокирующие
// попытки до отмены ctx.
func acquireMountLock(ctx context.Context, dir, target string) (*mountLock, error) {
	lockPath := mountLockPath(dir, target)

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть lock-файл %s: %w", lockPath, err)
	}

	ticker := time.NewTicker(lockRetryInterval)
	defer ticker.Stop()

	for {
		err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			return &mountLock{file: f}, nil
		}
		if err != syscall.EWOULDBLOCK {
			_ = f.Close()
			return nil, fmt.Errorf("ошибка захвата lock %s: %w", lockPath, err)
		}

		select {
		case <-ctx.Done():
			_ = f.Close()
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// release снимает flock и закрывает файл.
func (l *mountLock) release() {
	if l == nil || l.file == nil {
		return
	}
	_ = syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	_ = l.file.Close()
	l.file = nil
}
