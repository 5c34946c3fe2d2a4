// system.go — обработчик GET /api/v1/info (информация о Cache Engine).
// Публичный endpoint (без аутентификации) для service discovery и мониторинга.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/bigkaa/mediacache/cache-engine/internal/config"
	"github.com/bigkaa/mediacache/cache-engine/internal/manifest"
	"github.com/bigkaa/mediacache/cache-engine/internal/service"
	"github.com/bigkaa/mediacache/cache-engine/internal/storage/state"
)

// DiskUsageFunc возвращает общий и свободный объём тома по пути.
// Внедряется из cmd (зависит от платформы).
type DiskUsageFunc func(path string) (total, free int64, err error)

// SystemHandler — обработчик системных endpoints.
type SystemHandler struct {
	cfg       *config.Config
	coord     *service.Coordinator
	table     *state.Table
	manifest  *manifest.Store
	diskUsage DiskUsageFunc
}

// NewSystemHandler создаёт обработчик системных endpoints.
// diskUsage — функция вычисления занятости тома (nil, если недоступна).
func NewSystemHandler(
	cfg *config.Config,
	coord *service.Coordinator,
	table *state.Table,
	mstore *manifest.Store,
	diskUsage DiskUsageFunc,
) *SystemHandler {
	return &SystemHandler{
		cfg:       cfg,
		coord:     coord,
		table:     table,
		manifest:  mstore,
		diskUsage: diskUsage,
	}
}

// GetEngineInfo обрабатывает GET /api/v1/info.
// Без аутентификации. Возвращает состояние движка, занятость бюджета
// и размеры таблицы кэша / манифеста исключений.
func (h *SystemHandler) GetEngineInfo(w http.ResponseWriter, _ *http.Request) {
	status := h.coord.Status()

	usedBytes := h.table.TotalSize()
	availableBytes := h.cfg.CacheBudget - usedBytes
	if availableBytes < 0 {
		availableBytes = 0
	}

	resp := map[string]any{
		"engine_id": h.cfg.EngineID,
		"version":   config.Version,
		"state":     status.State,
		"dry_run":   h.cfg.DryRun,
		"budget": map[string]any{
			"total_bytes":     h.cfg.CacheBudget,
			"used_bytes":      usedBytes,
			"available_bytes": availableBytes,
		},
		"cache_entries":    h.table.Count(),
		"manifest_entries": h.manifest.Count(),
	}

	// Занятость тома служебных данных, если платформа её отдаёт
	if h.diskUsage != nil {
		if total, free, err := h.diskUsage(h.cfg.DataDir); err == nil {
			resp["data_volume"] = map[string]any{
				"total_bytes": total,
				"free_bytes":  free,
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}
