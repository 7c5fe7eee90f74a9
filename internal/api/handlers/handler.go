// Пакет handlers — HTTP handlers API backup-retention.
// Каждый handler работает через узкий интерфейс сервисного слоя,
// чтобы тестироваться без реальных backend-ов.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// maxBodyBytes — ограничение тела JSON-запроса.
const maxBodyBytes = 1 << 20

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeBody читает JSON-тело в dst. Пустое тело допустимо: dst
// остаётся без изменений. Неизвестные поля считаются ошибкой.
func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("некорректное тело запроса: %w", err)
	}
	return nil
}
