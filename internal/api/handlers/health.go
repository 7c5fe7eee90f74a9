// health.go — обработчики health endpoints для Kubernetes probes.
package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bigkaa/backup-retention/internal/config"
)

const (
	serviceName = "backup-retention"

	statusOK       = "ok"
	statusFail     = "fail"
	statusDegraded = "degraded"
)

// DependencyChecker — состояние внешних зависимостей (dephealth).
type DependencyChecker interface {
	Health() map[string]bool
	CriticalHealthy() bool
}

// HealthHandler реализует /health/live и /health/ready.
type HealthHandler struct {
	version string
	// localDir — локальная директория резервных копий (проверяется на запись)
	localDir string
	deps     DependencyChecker
}

// NewHealthHandler создаёт обработчик health endpoints.
// deps может быть nil: тогда зависимости не проверяются.
func NewHealthHandler(localDir string, deps DependencyChecker) *HealthHandler {
	return &HealthHandler{
		version:  config.Version,
		localDir: localDir,
		deps:     deps,
	}
}

// HealthLive обрабатывает GET /health/live. Зависимости не проверяются.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    statusOK,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   serviceName,
	})
}

// HealthReady обрабатывает GET /health/ready.
// Локальная директория недоступна на запись или упала критичная
// зависимость (JWKS) — 503. Недоступный backend — degraded, 200.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	overall := statusOK
	httpStatus := http.StatusOK

	fsCheck := h.checkFilesystem()
	if fsCheck["status"] != statusOK {
		overall = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	checks := map[string]any{"filesystem": fsCheck}

	if h.deps != nil {
		depCheck := h.checkDependencies()
		checks["dependencies"] = depCheck
		switch depCheck["status"] {
		case statusFail:
			overall = statusFail
			httpStatus = http.StatusServiceUnavailable
		case statusDegraded:
			if overall != statusFail {
				overall = statusDegraded
			}
		}
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    overall,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   serviceName,
		"checks":    checks,
	})
}

// checkFilesystem проверяет доступность локальной директории на запись.
func (h *HealthHandler) checkFilesystem() map[string]any {
	if h.localDir == "" {
		return map[string]any{
			"status":  statusOK,
			"message": "Проверка не настроена",
		}
	}

	testFile := filepath.Join(h.localDir, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return map[string]any{
			"status":  statusFail,
			"message": "Локальная директория недоступна для записи: " + err.Error(),
		}
	}
	_ = os.Remove(testFile)

	return map[string]any{"status": statusOK}
}

func (h *HealthHandler) checkDependencies() map[string]any {
	health := h.deps.Health()

	status := statusOK
	if !h.deps.CriticalHealthy() {
		status = statusFail
	} else {
		for _, ok := range health {
			if !ok {
				status = statusDegraded
				break
			}
		}
	}

	return map[string]any{
		"status":  status,
		"details": health,
	}
}
