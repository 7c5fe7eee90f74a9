// uploads.go — загрузка локальной резервной копии в удалённое хранилище.
package handlers

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"

	apierrors "github.com/bigkaa/backup-retention/internal/api/errors"
	"github.com/bigkaa/backup-retention/internal/domain/model"
)

// Uploader — загрузка артефакта, если удалённое хранилище включено.
type Uploader interface {
	UploadIfEnabled(ctx context.Context, artifactPath, backendID string) model.UploadResult
}

// UploadsHandler — POST /api/v1/uploads.
type UploadsHandler struct {
	localDir string
	uploader Uploader
}

// NewUploadsHandler создаёт обработчик загрузок.
func NewUploadsHandler(localDir string, uploader Uploader) *UploadsHandler {
	return &UploadsHandler{localDir: localDir, uploader: uploader}
}

type uploadRequest struct {
	// Path — путь относительно local.dir или абсолютный путь внутри него
	Path string `json:"path"`
	// Backend — backend для загрузки (по умолчанию remote.upload_backend)
	Backend string `json:"backend"`
}

// Upload загружает файл из локальной директории. Повторов нет,
// локальная копия сохраняется в любом случае.
// Статус: 200 при загрузке или пропуске, 400 при ошибке конфигурации,
// 502 при ошибке удалённого хранилища. Тело всегда — UploadResult.
func (h *UploadsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	if err := decodeBody(r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	if req.Path == "" {
		apierrors.ValidationError(w, "Не указан path")
		return
	}

	full, ok := h.resolve(req.Path)
	if !ok {
		apierrors.ValidationError(w, "Путь должен находиться внутри локальной директории резервных копий")
		return
	}

	res := h.uploader.UploadIfEnabled(r.Context(), full, req.Backend)

	status := http.StatusOK
	switch {
	case res.Error == "":
	case res.ErrorKind == model.KindConfiguration:
		status = http.StatusBadRequest
	default:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, res)
}

// resolve приводит путь к абсолютному и проверяет, что он внутри localDir.
func (h *UploadsHandler) resolve(p string) (string, bool) {
	base := filepath.Clean(h.localDir)
	full := p
	if !filepath.IsAbs(full) {
		full = filepath.Join(base, full)
	}
	full = filepath.Clean(full)

	rel, err := filepath.Rel(base, full)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return full, true
}
