// metrics.go — Prometheus HTTP метрики для Cache Engine.
// Регистрирует метрики: ce_http_requests_total, ce_http_request_duration_seconds.
// Бизнес-метрики (ce_runs_total, ce_cache_entries и др.) регистрируются
// в соответствующих пакетах и обновляются из сервисного слоя.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ce_http_requests_total",
			Help: "Общее количество HTTP-запросов к Cache Engine",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ce_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к Cache Engine в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Записывает количество запросов и длительность для каждого endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Нормализуем путь для лейблов метрик
			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newMetricsResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(duration)
		})
	}
}

// metricsResponseWriter — обёртка для перехвата статус-кода.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// knownPaths — фиксированный набор endpoints Cache Engine.
// API не содержит path-параметров, поэтому достаточно точного совпадения.
var knownPaths = map[string]struct{}{
	"/health/live":         {},
	"/health/ready":        {},
	"/metrics":             {},
	"/api/v1/info":         {},
	"/api/v1/runs":         {},
	"/api/v1/runs/current": {},
	"/api/v1/runs/stop":    {},
	"/api/v1/entries":      {},
	"/api/v1/manifest":     {},
}

// normalizePath сводит неизвестные пути к одному лейблу, предотвращая
// взрывной рост кардинальности метрик от сканеров и опечаток.
func normalizePath(path string) string {
	p := strings.TrimRight(path, "/")
	if p == "" {
		p = "/"
	}
	if _, ok := knownPaths[p]; ok {
		return p
	}
	return "unknown"
}
