// logging.go — slog-логирование HTTP-запросов к API Cache Engine.
// Фиксирует метод, путь, статус, длительность и размер ответа; уровень
// записи выводится из статус-кода. Health-probes логируются на Debug:
// оркестратор опрашивает их каждые несколько секунд, и на Info они
// заглушили бы записи о реальной работе движка.
package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// loggingResponseWriter перехватывает статус-код и объём записанного тела.
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
	bodyBytes  int64
}

func (lw *loggingResponseWriter) WriteHeader(code int) {
	lw.statusCode = code
	lw.ResponseWriter.WriteHeader(code)
}

func (lw *loggingResponseWriter) Write(b []byte) (int, error) {
	n, err := lw.ResponseWriter.Write(b)
	lw.bodyBytes += int64(n)
	return n, err
}

// Unwrap отдаёт оригинальный ResponseWriter для http.ResponseController.
func (lw *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return lw.ResponseWriter
}

// requestLevel выводит уровень записи из статуса и пути:
// 5xx — Error, 4xx — Warn, health-probes — Debug, остальное — Info.
func requestLevel(statusCode int, path string) slog.Level {
	switch {
	case statusCode >= 500:
		return slog.LevelError
	case statusCode >= 400:
		return slog.LevelWarn
	case strings.HasPrefix(path, "/health/"):
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// RequestLogger возвращает middleware логирования запросов.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	httpLogger := logger.With(slog.String("component", "http"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			httpLogger.LogAttrs(r.Context(), requestLevel(wrapped.statusCode, r.URL.Path),
				"HTTP запрос",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", wrapped.statusCode),
				slog.Duration("duration", time.Since(start)),
				slog.Int64("bytes", wrapped.bodyBytes),
				slog.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}
