// retention.go — сводка и проверка политик хранения.
package handlers

import (
	"net/http"

	apierrors "github.com/bigkaa/backup-retention/internal/api/errors"
	"github.com/bigkaa/backup-retention/internal/config"
	"github.com/bigkaa/backup-retention/internal/retention"
	"github.com/bigkaa/backup-retention/internal/service"
)

// RetentionHandler — GET /api/v1/retention и POST /api/v1/retention/validate.
type RetentionHandler struct {
	cfg config.RetentionConfig
}

// NewRetentionHandler создаёт обработчик политик хранения.
func NewRetentionHandler(cfg config.RetentionConfig) *RetentionHandler {
	return &RetentionHandler{cfg: cfg}
}

// validateRequest — политика для проверки. Пустое тело — проверяется
// сконфигурированная политика.
type validateRequest struct {
	RetentionDays *int            `json:"retention_days"`
	Local         *retention.Spec `json:"local"`
	Remote        *retention.Spec `json:"remote"`
}

func (r validateRequest) empty() bool {
	return r.RetentionDays == nil && r.Local == nil && r.Remote == nil
}

func (r validateRequest) config() config.RetentionConfig {
	cfg := config.RetentionConfig{RetentionDays: r.RetentionDays}
	if r.Local != nil {
		cfg.Local = *r.Local
	}
	if r.Remote != nil {
		cfg.Remote = *r.Remote
	}
	return cfg
}

// GetRetention возвращает политики уровней, их состояние и legacy_mode.
func (h *RetentionHandler) GetRetention(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, service.SummarizeRetention(h.cfg))
}

// ValidateRetention проверяет политику из тела запроса или сконфигурированную.
// Нарушения возвращаются списком с 200: проверка ничего не исправляет
// и ошибкой запроса не является.
func (h *RetentionHandler) ValidateRetention(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := decodeBody(r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	cfg := h.cfg
	if !req.empty() {
		cfg = req.config()
	}
	writeJSON(w, http.StatusOK, service.SummarizeRetention(cfg))
}
