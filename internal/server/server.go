// Пакет server — HTTP-сервер Cache Engine с TLS и graceful shutdown.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/mediacache/cache-engine/internal/api/handlers"
	"github.com/bigkaa/mediacache/cache-engine/internal/api/middleware"
	"github.com/bigkaa/mediacache/cache-engine/internal/config"
)

// Handlers — набор доменных обработчиков, монтируемых на роутер.
type Handlers struct {
	Runs    *handlers.RunsHandler
	System  *handlers.SystemHandler
	Entries *handlers.EntriesHandler
	Health  *handlers.HealthHandler
}

// Server — HTTP-сервер Cache Engine.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт новый HTTP-сервер с настроенными routes и middleware.
// auth — JWT middleware; nil, если аутентификация не настроена
// (CE_JWKS_URL пуст): тогда все endpoints публичны.
func New(cfg *config.Config, logger *slog.Logger, h Handlers, auth *middleware.JWTAuth) *Server {
	router := chi.NewRouter()

	// Middleware
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.MetricsMiddleware())

	// Публичные endpoints: probes, метрики, service discovery
	router.Get("/health/live", h.Health.HealthLive)
	router.Get("/health/ready", h.Health.HealthReady)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/api/v1/info", h.System.GetEngineInfo)

	// Endpoints управления и чтения состояния
	router.Group(func(r chi.Router) {
		if auth != nil {
			r.Use(auth.Middleware())
		}

		r.Get("/api/v1/runs/current", h.Runs.GetCurrentRun)
		r.Get("/api/v1/entries", h.Entries.ListEntries)
		r.Get("/api/v1/manifest", h.Entries.GetManifest)

		// Мутирующие endpoints требуют scope cache:run
		r.Group(func(r chi.Router) {
			if auth != nil {
				r.Use(middleware.RequireScope("cache:run"))
			}
			r.Post("/api/v1/runs", h.Runs.StartRun)
			r.Post("/api/v1/runs/stop", h.Runs.StopRun)
		})
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Настройка TLS
	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		srv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown с таймаутом
// из конфигурации (CE_SHUTDOWN_TIMEOUT).
func (s *Server) Run() error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
			slog.Bool("tls", s.cfg.TLSCert != ""),
		)

		var err error
		if s.cfg.TLSCert != "" && s.cfg.TLSKey != "" {
			err = s.httpServer.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
		} else {
			err = s.httpServer.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
