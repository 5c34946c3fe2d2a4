// Пакет state — долговечная таблица записей кэша (CacheEntry).
// Таблица хранится в памяти под RWMutex и персистится как единый JSON-документ
// с атомарной заменой файла, чтобы история релевантности переживала перезапуск.
// Удержание ("хранить N часов после последней релевантности") между проходами
// возможно только благодаря этой таблице.
package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/bigkaa/mediacache/cache-engine/internal/domain/model"
)

// stateDocument — формат файла состояния на диске.
type stateDocument struct {
	// Entries — все записи кэша
	Entries []model.CacheEntry `json:"entries"`
}

// Table — таблица записей кэша. Движок — единственный писатель;
// читатели (диагностика, UI) получают копии-снимки.
type Table struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]*model.CacheEntry
}

// New создаёт таблицу и загружает состояние с диска.
// Отсутствующий или повреждённый файл даёт пустую таблицу с предупреждением:
// записи восстановятся последующими проходами, сверка манифеста сойдётся.
func New(path string, logger *slog.Logger) *Table {
	t := &Table{
		path:    path,
		logger:  logger.With(slog.String("component", "state_table")),
		entries: make(map[string]*model.CacheEntry),
	}
	t.load()
	return t
}

// load читает файл состояния. Ошибки не фатальны.
func (t *Table) load() {
	data, err := os.ReadFile(t.path)
	if err != nil {
		if !os.IsNotExist(err) {
			t.logger.Warn("Файл состояния не прочитан, стартуем с пустой таблицы",
				slog.String("path", t.path),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	var doc stateDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		t.logger.Warn("Файл состояния повреждён, стартуем с пустой таблицы",
			slog.String("path", t.path),
			slog.String("error", err.Error()),
		)
		return
	}

	for i := range doc.Entries {
		e := doc.Entries[i]
		t.entries[e.EnginePath] = &e
	}
	t.logger.Info("Таблица кэша загружена",
		slog.String("path", t.path),
		slog.Int("entries", len(t.entries)),
	)
}

// Upsert добавляет или заменяет запись.
func (t *Table) Upsert(entry model.CacheEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	copied := entry
	t.entries[entry.EnginePath] = &copied
}

// Touch обновляет LastSeenEligibleAt существующей записи.
// Возвращает false, если записи нет.
func (t *Table) Touch(enginePath string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[enginePath]
	if !ok {
		return false
	}
	e.LastSeenEligibleAt = now
	return true
}

// Remove удаляет запись. Удаление отсутствующей записи — no-op.
func (t *Table) Remove(enginePath string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, enginePath)
}

// Get возвращает копию записи по пути.
func (t *Table) Get(enginePath string) (*model.CacheEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[enginePath]
	if !ok {
		return nil, false
	}
	copied := *e
	return &copied, true
}

// List возвращает снимок всех записей, отсортированный по пути.
func (t *Table) List() []model.CacheEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]model.CacheEntry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].EnginePath < out[j].EnginePath
	})
	return out
}

// Count возвращает количество записей.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// TotalSize возвращает суммарный размер отслеживаемых файлов в байтах.
// Используется планировщиком для проекции бюджета кэш-яруса.
func (t *Table) TotalSize() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var total int64
	for _, e := range t.entries {
		total += e.SizeBytes
	}
	return total
}

// Flush атомарно персистит таблицу: временный файл → fsync → переименование.
// Вызывается координатором на границе сверки, после завершения всех воркеров.
func (t *Table) Flush() error {
	t.mu.RLock()
	doc := stateDocument{Entries: make([]model.CacheEntry, 0, len(t.entries))}
	for _, e := range t.entries {
		doc.Entries = append(doc.Entries, *e)
	}
	t.mu.RUnlock()

	sort.Slice(doc.Entries, func(i, j int) bool {
		return doc.Entries[i].EnginePath < doc.Entries[j].EnginePath
	})

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("сериализация состояния: %w", err)
	}

	tmpPath := t.path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("создание временного файла состояния: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("запись временного файла состояния: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("fsync файла состояния: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("закрытие файла состояния: %w", err)
	}
	if err := os.Rename(tmpPath, t.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("атомарное переименование файла состояния: %w", err)
	}
	return nil
}
