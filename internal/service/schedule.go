// schedule.go — сервис периодического запуска проходов синхронизации.
//
// Движок сам не решает, когда запускаться: политика расписания принадлежит
// внешнему коллаборатору. Этот сервис — простейший тикер для автономных
// развёртываний (CE_RUN_INTERVAL); при нулевом интервале проходы запускаются
// только вручную через API.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bigkaa/mediacache/cache-engine/internal/domain/model"
)

// ScheduleService — периодический запуск проходов.
type ScheduleService struct {
	coord    *Coordinator
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
}

// NewScheduleService создаёт сервис расписания.
func NewScheduleService(coord *Coordinator, interval time.Duration, logger *slog.Logger) *ScheduleService {
	return &ScheduleService{
		coord:    coord,
		interval: interval,
		logger:   logger.With(slog.String("component", "schedule")),
	}
}

// Start запускает фоновую горутину с периодическим тикером.
// При нулевом интервале не делает ничего.
func (s *ScheduleService) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("Расписание отключено, проходы запускаются только вручную")
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go s.run(runCtx)

	s.logger.Info("Расписание запущено",
		slog.String("interval", s.interval.String()),
	)
}

// Stop останавливает фоновый процесс и запрашивает остановку активного прохода.
func (s *ScheduleService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.coord.Stop()
	s.logger.Info("Расписание остановлено")
}

// run — основной цикл фоновой горутины.
func (s *ScheduleService) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := s.coord.RunOnce(ctx, RunOptions{})
			if errors.Is(err, model.ErrConcurrentRun) {
				// Активный проход (например, запущенный через API) не вытесняется
				s.logger.Debug("Плановый запуск пропущен: проход уже выполняется")
				continue
			}
			if err != nil {
				s.logger.Error("Плановый проход не запустился", slog.String("error", err.Error()))
			}
		}
	}
}
