// cleanup.go — очистка по запросу и итог последнего запуска.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	apierrors "github.com/bigkaa/backup-retention/internal/api/errors"
	"github.com/bigkaa/backup-retention/internal/domain/model"
	"github.com/bigkaa/backup-retention/internal/service"
)

// CleanupRunner — запуск очистки без ожидания параллельного запуска.
type CleanupRunner interface {
	TryCleanup(ctx context.Context, trigger string, local bool, remoteIDs []string, now time.Time) ([]model.CleanupResult, error)
	LastRun() *service.CleanupRun
}

// CleanupHandler — POST /api/v1/cleanup и GET /api/v1/cleanup/last.
type CleanupHandler struct {
	runner CleanupRunner
	// remoteIDs — все сконфигурированные backend-ы (для all_remote)
	remoteIDs []string
}

// NewCleanupHandler создаёт обработчик очистки.
func NewCleanupHandler(runner CleanupRunner, remoteIDs []string) *CleanupHandler {
	return &CleanupHandler{runner: runner, remoteIDs: remoteIDs}
}

type cleanupRequest struct {
	Local     bool     `json:"local"`
	Remote    []string `json:"remote"`
	AllRemote bool     `json:"all_remote"`
	// Now — момент отсчёта возраста (по умолчанию текущее время)
	Now *time.Time `json:"now"`
}

type cleanupResponse struct {
	Now     time.Time             `json:"now"`
	OK      bool                  `json:"ok"`
	Results []model.CleanupResult `json:"results"`
}

// Cleanup выполняет очистку синхронно и возвращает результаты по целям.
// Ошибки отдельных целей не меняют статус ответа: они в results.
// Если очистка уже идёт, ответ 409 CLEANUP_IN_PROGRESS.
func (h *CleanupHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if err := decodeBody(r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	remote := req.Remote
	if req.AllRemote {
		remote = h.remoteIDs
	}
	if !req.Local && len(remote) == 0 {
		apierrors.ValidationError(w, "Не выбрана ни одна цель очистки: укажите local, remote или all_remote")
		return
	}

	now := time.Now().UTC()
	if req.Now != nil {
		now = req.Now.UTC()
	}

	results, err := h.runner.TryCleanup(r.Context(), service.TriggerAPI, req.Local, remote, now)
	if err != nil {
		if errors.Is(err, service.ErrCleanupInProgress) {
			apierrors.CleanupInProgress(w, "Очистка уже выполняется")
			return
		}
		apierrors.InternalError(w, err.Error())
		return
	}

	resp := cleanupResponse{Now: now, OK: true, Results: results}
	for i := range results {
		if !results[i].OK() {
			resp.OK = false
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// LastCleanup возвращает итог последнего запуска (по расписанию или по запросу).
func (h *CleanupHandler) LastCleanup(w http.ResponseWriter, _ *http.Request) {
	last := h.runner.LastRun()
	if last == nil {
		apierrors.NotFound(w, "Очистка ещё не выполнялась")
		return
	}
	writeJSON(w, http.StatusOK, last)
}
