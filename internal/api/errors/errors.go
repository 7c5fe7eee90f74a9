// Пакет errors — ответы с ошибками HTTP API backup-retention.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
package errors //nolint:revive // имя совпадает со stdlib, импортируется как apierrors

import (
	"encoding/json"
	"net/http"

	"github.com/bigkaa/backup-retention/internal/domain/model"
)

// Коды ошибок API.
const (
	CodeValidationError   = "VALIDATION_ERROR"
	CodeNotFound          = "NOT_FOUND"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeForbidden         = "FORBIDDEN"
	CodeCleanupInProgress = "CLEANUP_IN_PROGRESS"
	CodeInternalError     = "INTERNAL_ERROR"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Kind — категория доменной ошибки, если она известна
	Kind model.Kind `json:"kind,omitempty"`
}

// WriteError записывает ответ ошибки.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	writeBody(w, statusCode, errorDetail{Code: code, Message: message})
}

// WriteDomainError записывает доменную ошибку: ConfigurationError
// становится 400, остальные категории 500. Kind передаётся в ответе.
func WriteDomainError(w http.ResponseWriter, err error) {
	kind := model.KindOf(err)
	status, code := http.StatusInternalServerError, CodeInternalError
	if kind == model.KindConfiguration {
		status, code = http.StatusBadRequest, CodeValidationError
	}
	writeBody(w, status, errorDetail{Code: code, Message: err.Error(), Kind: kind})
}

func writeBody(w http.ResponseWriter, statusCode int, detail errorDetail) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{Error: detail})
}

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// CleanupInProgress — 409 очистка уже выполняется.
func CleanupInProgress(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeCleanupInProgress, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
