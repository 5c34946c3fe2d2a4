// runs.go — обработчики управления проходами синхронизации:
// POST /api/v1/runs, GET /api/v1/runs/current, POST /api/v1/runs/stop.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/mediacache/cache-engine/internal/api/errors"
	"github.com/bigkaa/mediacache/cache-engine/internal/domain/model"
	"github.com/bigkaa/mediacache/cache-engine/internal/service"
)

// RunsHandler — обработчик endpoints управления проходами.
type RunsHandler struct {
	coord  *service.Coordinator
	logger *slog.Logger
}

// NewRunsHandler создаёт обработчик endpoints управления проходами.
func NewRunsHandler(coord *service.Coordinator, logger *slog.Logger) *RunsHandler {
	return &RunsHandler{
		coord:  coord,
		logger: logger.With(slog.String("component", "runs_handler")),
	}
}

// startRunRequest — тело запроса POST /api/v1/runs. Все поля опциональны.
type startRunRequest struct {
	// DryRun форсирует проход без изменений файловой системы
	DryRun bool `json:"dry_run"`
}

// StartRun обрабатывает POST /api/v1/runs.
// Запускает проход асинхронно и возвращает 202 с идентификатором прохода.
// Если проход уже выполняется — 409 RUN_IN_PROGRESS.
func (h *RunsHandler) StartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		return
	}

	// Проход переживает HTTP-запрос, поэтому не привязан к его контексту
	runID, err := h.coord.Start(r.Context(), service.RunOptions{DryRun: req.DryRun})
	if err != nil {
		if errors.Is(err, model.ErrConcurrentRun) {
			apierrors.RunInProgress(w, "Проход синхронизации уже выполняется")
			return
		}
		h.logger.Error("Ошибка запуска прохода", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Не удалось запустить проход")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"run_id":  runID,
		"dry_run": req.DryRun,
	})
}

// GetCurrentRun обрабатывает GET /api/v1/runs/current.
// Возвращает текущую фазу конечного автомата и результат последнего прохода.
func (h *RunsHandler) GetCurrentRun(w http.ResponseWriter, _ *http.Request) {
	status := h.coord.Status()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(status)
}

// StopRun обрабатывает POST /api/v1/runs/stop.
// Идемпотентен: повторный запрос и запрос при бездействии — no-op, всегда 202.
func (h *RunsHandler) StopRun(w http.ResponseWriter, _ *http.Request) {
	h.coord.Stop()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"stop_requested": true,
	})
}
