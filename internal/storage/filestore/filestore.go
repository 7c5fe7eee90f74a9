// Пакет filestore — операции с файлами резервных копий в директории:
// листинг с фильтром по расширениям, атомарное сохранение с подсчётом
// SHA-256 на лету и идемпотентное удаление.
//
// Используется для локального уровня хранения и для смонтированного
// CIFS-ресурса.
package filestore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/bigkaa/backup-retention/internal/domain/model"
)

// partialSuffix — суффикс временного файла незавершённой записи.
const partialSuffix = ".part"

// FileStore — управление файлами резервных копий в одной директории.
type FileStore struct {
	// dir — директория с резервными копиями
	dir string
	// extensions — расширения файлов резервных копий (пусто — любые)
	extensions []string
}

// SaveResult — результат сохранения файла.
type SaveResult struct {
	// Name — имя файла в директории
	Name string
	// FullPath — абсолютный путь файла на диске
	FullPath string
	// Size — размер записанных данных в байтах
	Size int64
	// Checksum — SHA-256 хэш содержимого файла
	Checksum string
}

// New создаёт FileStore. Директория создаётся, если её нет.
func New(dir string, extensions ...string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию %s: %w", dir, err)
	}
	return &FileStore{dir: dir, extensions: extensions}, nil
}

// Open создаёт FileStore для существующей директории, не создавая её.
func Open(dir string, extensions ...string) *FileStore {
	return &FileStore{dir: dir, extensions: extensions}
}

// Dir возвращает путь к директории.
func (fs *FileStore) Dir() string {
	return fs.dir
}

// FullPath возвращает абсолютный путь к файлу.
func (fs *FileStore) FullPath(name string) string {
	return filepath.Join(fs.dir, name)
}

// List возвращает файлы резервных копий с именем, начинающимся с prefix.
// Скрытые и временные файлы (незавершённая запись) пропускаются.
// Любая ошибка чтения директории или stat — ошибка всего листинга.
func (fs *FileStore) List(location, prefix string) ([]model.Artifact, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения директории %s: %w", fs.dir, err)
	}

	artifacts := make([]model.Artifact, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || IsPartial(name) {
			continue
		}
		if !strings.HasPrefix(name, prefix) || !fs.Matches(name) {
			continue
		}

		info, err := e.Info()
		if err != nil {
			if os.IsNotExist(err) {
				// Файл удалён между ReadDir и Stat
				continue
			}
			return nil, fmt.Errorf("ошибка получения информации о файле %s: %w", name, err)
		}

		artifacts = append(artifacts, model.Artifact{
			Name:      name,
			Location:  location,
			CreatedAt: info.ModTime().UTC(),
			SizeBytes: info.Size(),
		})
	}
	return artifacts, nil
}

// Matches проверяет, что имя файла имеет одно из расширений резервных копий.
func (fs *FileStore) Matches(name string) bool {
	return MatchesExtensions(name, fs.extensions)
}

// SaveFrom копирует файл srcPath в директорию под именем name.
//
// Паттерн: temp файл → запись + SHA-256 → fsync → atomic rename.
// При ошибке temp файл удаляется, существующий файл name не меняется.
func (fs *FileStore) SaveFrom(srcPath, name string) (*SaveResult, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия исходного файла %s: %w", srcPath, err)
	}
	defer src.Close()

	return fs.Save(src, name)
}

// Save записывает данные из reader в файл name атомарно.
func (fs *FileStore) Save(reader io.Reader, name string) (*SaveResult, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}

	fullPath := filepath.Join(fs.dir, name)
	tmpPath := filepath.Join(fs.dir, PartialName(name))

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	// Streaming запись с одновременным подсчётом SHA-256
	hasher := sha256.New()
	size, err := io.Copy(f, io.TeeReader(reader, hasher))
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &SaveResult{
		Name:     name,
		FullPath: fullPath,
		Size:     size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// DeleteFile удаляет файл. Возвращает nil, если файла уже нет.
func (fs *FileStore) DeleteFile(name string) error {
	if err := checkName(name); err != nil {
		return err
	}

	err := os.Remove(filepath.Join(fs.dir, name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", name, err)
	}
	return nil
}

// ComputeChecksum вычисляет SHA-256 хэш файла по пути.
func ComputeChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("ошибка открытия файла %s: %w", path, err)
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("ошибка вычисления checksum %s: %w", path, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// PartialName возвращает скрытое временное имя для незавершённой записи name.
// Формат: .{name}.{uuid8}.part
func PartialName(name string) string {
	return "." + name + "." + uuid.New().String()[:8] + partialSuffix
}

// IsPartial проверяет, является ли имя временным или скрытым.
func IsPartial(name string) bool {
	return strings.HasPrefix(name, ".") ||
		strings.HasSuffix(name, partialSuffix) ||
		strings.HasSuffix(name, ".tmp")
}

// MatchesExtensions проверяет расширение имени без учёта регистра.
// Пустой список расширений допускает любое имя.
// Составные расширения (.sql.gz) совпадают по последнему суффиксу.
func MatchesExtensions(name string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	lower := strings.ToLower(name)
	for _, ext := range extensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// checkName не допускает выход за пределы директории.
func checkName(name string) error {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return fmt.Errorf("недопустимое имя файла: %q", name)
	}
	return nil
}
