// Точка входа Cache Engine — движка синхронизации медиа-кэша между
// архивным ярусом и кэш-ярусом.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/bigkaa/mediacache/cache-engine/internal/api/handlers"
	"github.com/bigkaa/mediacache/cache-engine/internal/api/middleware"
	"github.com/bigkaa/mediacache/cache-engine/internal/config"
	"github.com/bigkaa/mediacache/cache-engine/internal/manifest"
	"github.com/bigkaa/mediacache/cache-engine/internal/pathmap"
	"github.com/bigkaa/mediacache/cache-engine/internal/server"
	"github.com/bigkaa/mediacache/cache-engine/internal/service"
	"github.com/bigkaa/mediacache/cache-engine/internal/source"
	"github.com/bigkaa/mediacache/cache-engine/internal/storage/state"
)

func main() {
	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("Cache Engine запускается",
		slog.String("engine_id", cfg.EngineID),
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.Bool("dry_run", cfg.DryRun),
	)

	// --- Инициализация компонентов ---

	// 1. Директория служебных данных
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("Ошибка создания директории данных", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Блокировка единственного экземпляра: два движка с общей таблицей
	// кэша и манифестом устроят гонку на файловой системе
	lock, err := acquireInstanceLock(cfg.LockFile())
	if err != nil {
		logger.Error("Не удалось получить блокировку экземпляра",
			slog.String("lock_file", cfg.LockFile()),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer lock.Release()

	// 3. Таблица кэша (persistent, atomic replace)
	table := state.New(cfg.StateFile(), logger)

	// 4. Манифест исключений — контракт с внешним mover
	mstore := manifest.New(cfg.ManifestFile, logger)

	// 5. Клиент медиа-индекса (поставщик кандидатов)
	mediaIndex, err := source.New(source.Config{
		BaseURL:    cfg.MediaIndexURL,
		Token:      cfg.MediaIndexToken,
		CACertPath: cfg.MediaIndexCACert,
		Timeout:    cfg.MediaIndexTimeout,
		CacheTTL:   cfg.SourceCacheTTL,
	}, logger)
	if err != nil {
		logger.Error("Ошибка создания клиента медиа-индекса", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 6. Координатор проходов. Маппинги перечитываются перед каждым
	// проходом: правки файла подхватываются без перезапуска.
	configFn := func() (*service.RunConfig, error) {
		mappings, err := config.LoadMappings(cfg.MappingsFile)
		if err != nil {
			return nil, err
		}
		translator, err := pathmap.New(mappings)
		if err != nil {
			return nil, err
		}
		return &service.RunConfig{
			Translator:        translator,
			BudgetBytes:       cfg.CacheBudget,
			RetentionWindow:   cfg.RetentionWindow,
			Workers:           cfg.Workers,
			SafetyMarginBytes: cfg.SafetyMargin,
			VerifyChecksum:    cfg.VerifyChecksum,
			DryRun:            cfg.DryRun,
		}, nil
	}
	coord := service.NewCoordinator(configFn, mediaIndex, table, mstore, logger)

	// 7. Фоновые процессы
	ctx := context.Background()

	// 7.1 Плановые проходы (CE_RUN_INTERVAL=0 — только вручную через API)
	scheduleSvc := service.NewScheduleService(coord, cfg.RunInterval, logger)
	scheduleSvc.Start(ctx)

	// 7.2 topologymetrics — мониторинг медиа-индекса
	dephealthSvc, dephealthErr := service.NewDephealthService(
		cfg.EngineID,
		cfg.DephealthGroup,
		cfg.DephealthDepName,
		cfg.MediaIndexURL,
		cfg.DephealthCheckInterval,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else {
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("media_index_url", cfg.MediaIndexURL),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 8. Handlers
	h := server.Handlers{
		Runs:    handlers.NewRunsHandler(coord, logger),
		System:  handlers.NewSystemHandler(cfg, coord, table, mstore, getDiskUsage),
		Entries: handlers.NewEntriesHandler(table, mstore),
		Health:  handlers.NewHealthHandler(cfg.DataDir, cfg.ManifestFile),
	}

	// 9. JWT middleware (опционально: без CE_JWKS_URL API публичен)
	var jwtAuth *middleware.JWTAuth
	if cfg.JWKSUrl != "" {
		jwtAuth, err = middleware.NewJWTAuth(middleware.JWTAuthConfig{
			JWKSURL:         cfg.JWKSUrl,
			CACertPath:      cfg.JWKSCACert,
			TLSSkipVerify:   cfg.TLSSkipVerify,
			ClientTimeout:   cfg.JWKSClientTimeout,
			RefreshInterval: cfg.JWKSRefreshInterval,
			JWTLeeway:       cfg.JWTLeeway,
		}, logger)
		if err != nil {
			// JWT недоступен — запускаем без аутентификации (для разработки)
			logger.Warn("JWT JWKS недоступен, запуск без аутентификации",
				slog.String("jwks_url", cfg.JWKSUrl),
				slog.String("error", err.Error()),
			)
			jwtAuth = nil
		} else {
			logger.Info("JWT аутентификация настроена",
				slog.String("jwks_url", cfg.JWKSUrl),
			)
		}
	} else {
		logger.Warn("CE_JWKS_URL не задан, API работает без аутентификации")
	}

	// 10. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, h, jwtAuth)

	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// --- Graceful shutdown фоновых процессов ---
	logger.Info("Остановка фоновых процессов...")

	scheduleSvc.Stop()
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	// Stop кооперативен: активный проход довыполняет начатые перемещения.
	// Дожидаемся его, иначе финальная фиксация гонится с воркерами.
	coord.Join()

	// Финальная фиксация таблицы кэша
	if err := table.Flush(); err != nil {
		logger.Error("Ошибка сохранения таблицы кэша при остановке",
			slog.String("error", err.Error()),
		)
	}

	logger.Info("Cache Engine остановлен")
}
