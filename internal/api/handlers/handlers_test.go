package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/backup-retention/internal/domain/model"
	"github.com/bigkaa/backup-retention/internal/service"
)

// --- Заглушки сервисного слоя ---

type fakeRunner struct {
	mu      sync.Mutex
	busy    bool
	calls   int
	local   bool
	remote  []string
	now     time.Time
	results []model.CleanupResult
	last    *service.CleanupRun
}

func (f *fakeRunner) TryCleanup(_ context.Context, trigger string, local bool, remoteIDs []string, now time.Time) ([]model.CleanupResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return nil, service.ErrCleanupInProgress
	}
	f.calls++
	f.local, f.remote, f.now = local, remoteIDs, now
	f.last = &service.CleanupRun{Trigger: trigger, Now: now, Results: f.results}
	return f.results, nil
}

func (f *fakeRunner) LastRun() *service.CleanupRun {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

type fakeProber struct {
	calls []bool
}

func (f *fakeProber) TestBackend(_ context.Context, id string, fresh bool) model.ConnectionReport {
	f.calls = append(f.calls, fresh)
	if id == "ftp" {
		return model.ConnectionReport{BackendID: id, ErrorKind: model.KindConnection, Error: "connection refused"}
	}
	return model.ConnectionReport{BackendID: id, OK: true}
}

type fakeUploader struct {
	path    string
	backend string
	result  model.UploadResult
}

func (f *fakeUploader) UploadIfEnabled(_ context.Context, artifactPath, backendID string) model.UploadResult {
	f.path, f.backend = artifactPath, backendID
	res := f.result
	res.Path = artifactPath
	return res
}

type fakeDeps struct {
	health   map[string]bool
	critical bool
}

func (f fakeDeps) Health() map[string]bool { return f.health }
func (f fakeDeps) CriticalHealthy() bool   { return f.critical }

// --- Вспомогательные функции ---

func do(t *testing.T, h http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// doRouted выполняет запрос через chi, чтобы заполнились URL-параметры.
func doRouted(t *testing.T, pattern string, h http.HandlerFunc, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Method(method, pattern, h)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
		t.Fatalf("ошибка декодирования ответа: %v", err)
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decodeJSON(t, rec, &body)
	return body.Error.Code
}
