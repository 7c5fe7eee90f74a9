package service

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/backup-retention/internal/backend"
	"github.com/bigkaa/backup-retention/internal/config"
	"github.com/bigkaa/backup-retention/internal/domain/model"
	"github.com/bigkaa/backup-retention/internal/retention"
)

// testNow — фиксированный момент для расчёта возраста.
var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// daysAgo возвращает момент на days суток (и ещё час) раньше testNow.
func daysAgo(days int) time.Time {
	return testNow.Add(-time.Duration(days)*24*time.Hour - time.Hour)
}

func spec(daily, weekly, monthly, maxAge int) retention.Spec {
	return retention.SpecFromPolicy(retention.Policy{
		DailyDays: daily, WeeklyDays: weekly, MonthlyDays: monthly, MaxAgeDays: maxAge,
	})
}

// testConfig создаёт минимальную конфигурацию с локальной директорией dir.
func testConfig(dir string) *config.Config {
	return &config.Config{
		Local: config.LocalConfig{Dir: dir, Extensions: config.DefaultExtensions},
		Timeouts: config.TimeoutsConfig{
			Operation: 5 * time.Second,
			Connect:   time.Second,
			Mount:     time.Second,
		},
		Schedule: config.ScheduleConfig{Local: true, Remote: true},
	}
}

// writeBackup создаёт локальную резервную копию возрастом days суток.
func writeBackup(t *testing.T, dir, name string, days int) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("backup"), 0o640); err != nil {
		t.Fatalf("Ошибка создания файла: %v", err)
	}
	mtime := daysAgo(days)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("Ошибка установки mtime: %v", err)
	}
}

// fakeBackend — backend в памяти.
type fakeBackend struct {
	id  string
	typ config.BackendType

	mu        sync.Mutex
	artifacts map[string]model.Artifact
	connErr   error
	listErr   error
	deleteErr map[string]error
	uploadErr error
	deleted   []string
	uploaded  []string
	tests     int
}

func newFakeBackend(id string) *fakeBackend {
	return &fakeBackend{
		id:        id,
		typ:       config.BackendHTTPDAV,
		artifacts: make(map[string]model.Artifact),
		deleteErr: make(map[string]error),
	}
}

func (f *fakeBackend) add(name string, days int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.artifacts[name] = model.Artifact{Name: name, Location: f.id, CreatedAt: daysAgo(days), SizeBytes: 1}
}

func (f *fakeBackend) has(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.artifacts[name]
	return ok
}

func (f *fakeBackend) ID() string               { return f.id }
func (f *fakeBackend) Type() config.BackendType { return f.typ }

func (f *fakeBackend) TestConnection(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tests++
	return f.connErr
}

func (f *fakeBackend) ListArtifacts(_ context.Context, prefix string) ([]model.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]model.Artifact, 0, len(f.artifacts))
	for name, a := range f.artifacts {
		if len(name) >= len(prefix) && name[:len(prefix)] == prefix {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeBackend) Upload(_ context.Context, localPath, remoteName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return f.uploadErr
	}
	if _, err := os.Stat(localPath); err != nil {
		return model.Wrap(model.KindUpload, "upload", f.id, err)
	}
	f.uploaded = append(f.uploaded, remoteName)
	f.artifacts[remoteName] = model.Artifact{Name: remoteName, Location: f.id, CreatedAt: time.Now().UTC()}
	return nil
}

func (f *fakeBackend) Delete(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.deleteErr[name]; err != nil {
		return err
	}
	delete(f.artifacts, name)
	f.deleted = append(f.deleted, name)
	return nil
}

func (f *fakeBackend) Close(context.Context) error { return nil }

func newSet(backends ...backend.Backend) *backend.Set {
	return backend.NewSetFrom(testLogger(), backends...)
}
