// metrics.go — Prometheus HTTP метрики: br_http_requests_total,
// br_http_request_duration_seconds. Бизнес-метрики очистки и загрузки
// регистрируются в пакете service.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "br_http_requests_total",
			Help: "Общее количество HTTP-запросов к backup-retention",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "br_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware считает запросы и их длительность по нормализованному пути.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			path := normalizePath(r.URL.Path)

			wrapped := newResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// normalizePath заменяет идентификатор backend-а на {id}, чтобы
// кардинальность лейбла path не зависела от конфигурации.
// /api/v1/backends/nas/test → /api/v1/backends/{id}/test
func normalizePath(path string) string {
	const backendsPrefix = "/api/v1/backends/"
	rest, ok := strings.CutPrefix(path, backendsPrefix)
	if !ok || rest == "" {
		return path
	}
	if id, suffix, found := strings.Cut(rest, "/"); found && id != "" {
		return backendsPrefix + "{id}/" + suffix
	}
	return backendsPrefix + "{id}"
}
