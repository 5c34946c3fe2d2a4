// entries.go — read-only снимки состояния движка:
// GET /api/v1/entries (таблица кэша), GET /api/v1/manifest (манифест исключений).
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/bigkaa/mediacache/cache-engine/internal/manifest"
	"github.com/bigkaa/mediacache/cache-engine/internal/storage/state"
)

// EntriesHandler — обработчик снимков таблицы кэша и манифеста.
type EntriesHandler struct {
	table    *state.Table
	manifest *manifest.Store
}

// NewEntriesHandler создаёт обработчик снимков состояния.
func NewEntriesHandler(table *state.Table, mstore *manifest.Store) *EntriesHandler {
	return &EntriesHandler{
		table:    table,
		manifest: mstore,
	}
}

// ListEntries обрабатывает GET /api/v1/entries.
// Возвращает отсортированный снимок таблицы кэша.
func (h *EntriesHandler) ListEntries(w http.ResponseWriter, _ *http.Request) {
	entries := h.table.List()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"entries":     entries,
		"count":       len(entries),
		"total_bytes": h.table.TotalSize(),
	})
}

// GetManifest обрабатывает GET /api/v1/manifest.
// Возвращает отсортированный снимок манифеста исключений.
func (h *EntriesHandler) GetManifest(w http.ResponseWriter, _ *http.Request) {
	entries := h.manifest.Entries()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}
