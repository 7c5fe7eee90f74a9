// backends.go — список backend-ов и проверка подключения.
package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/backup-retention/internal/api/errors"
	"github.com/bigkaa/backup-retention/internal/config"
	"github.com/bigkaa/backup-retention/internal/domain/model"
)

// BackendProber — проверка подключения к backend-у.
type BackendProber interface {
	TestBackend(ctx context.Context, id string, fresh bool) model.ConnectionReport
}

// BackendsHandler — GET /api/v1/backends и POST /api/v1/backends/{id}/test.
type BackendsHandler struct {
	remote config.RemoteConfig
	prober BackendProber
}

// NewBackendsHandler создаёт обработчик backend-ов.
func NewBackendsHandler(remote config.RemoteConfig, prober BackendProber) *BackendsHandler {
	return &BackendsHandler{remote: remote, prober: prober}
}

// backendInfo — описание backend-а без учётных данных.
type backendInfo struct {
	ID        string             `json:"id"`
	Type      config.BackendType `json:"type"`
	Endpoint  string             `json:"endpoint"`
	RemoteDir string             `json:"remote_dir,omitempty"`
	Prefix    string             `json:"prefix,omitempty"`
	// Upload — backend используется для загрузки новых копий
	Upload bool `json:"upload"`
}

type backendsResponse struct {
	Enabled  bool          `json:"enabled"`
	Backends []backendInfo `json:"backends"`
}

// ListBackends возвращает сконфигурированные backend-ы.
func (h *BackendsHandler) ListBackends(w http.ResponseWriter, _ *http.Request) {
	resp := backendsResponse{
		Enabled:  h.remote.Enabled,
		Backends: make([]backendInfo, 0, len(h.remote.Backends)),
	}
	for _, b := range h.remote.Backends {
		resp.Backends = append(resp.Backends, backendInfo{
			ID:        b.ID,
			Type:      b.Type,
			Endpoint:  endpoint(b),
			RemoteDir: b.RemoteDir,
			Prefix:    b.Prefix,
			Upload:    b.ID == h.remote.UploadBackend,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// TestBackend проверяет подключение к backend-у {id}.
// Результат кэшируется; ?fresh=true выполняет новую проверку.
// Недоступный backend не считается ошибкой запроса, отчёт возвращается с ok=false.
func (h *BackendsHandler) TestBackend(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := h.remote.Backend(id); !ok {
		apierrors.NotFound(w, "Backend "+id+" не сконфигурирован")
		return
	}

	fresh := false
	if v := r.URL.Query().Get("fresh"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			apierrors.ValidationError(w, "Параметр fresh должен быть булевым значением")
			return
		}
		fresh = parsed
	}

	writeJSON(w, http.StatusOK, h.prober.TestBackend(r.Context(), id, fresh))
}

// endpoint возвращает адрес backend-а для отображения.
func endpoint(b config.BackendConfig) string {
	switch b.Type {
	case config.BackendHTTPDAV:
		return b.URL
	case config.BackendTransferSession:
		if b.Port != 0 {
			return b.Host + ":" + strconv.Itoa(b.Port)
		}
		return b.Host
	case config.BackendMountedFS:
		return "//" + b.Server + " → " + b.MountPoint
	default:
		return ""
	}
}
