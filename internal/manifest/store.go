// Пакет manifest — долговечный манифест исключений для внешнего mover.
// Формат файла — публичный контракт: один абсолютный путь на строку, UTF-8,
// без другого синтаксиса. Внешний mover разбирает файл самостоятельно и
// может читать его в любой момент, поэтому каждая запись атомарна:
// временный файл → fsync → переименование.
package manifest

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bigkaa/mediacache/cache-engine/internal/domain/model"
)

// Store — манифест исключений, полностью загруженный в память.
// Единственный писатель — движок; мутации сериализованы мьютексом.
type Store struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]model.ExclusionEntry
}

// New создаёт Store и загружает манифест с диска.
// Отсутствующий или повреждённый файл загружается как пустое множество:
// отсутствие манифеста не является защитой, движок перестроит его из
// текущего состояния кэша при первом использовании.
func New(path string, logger *slog.Logger) *Store {
	s := &Store{
		path:    path,
		logger:  logger.With(slog.String("component", "manifest")),
		entries: make(map[string]model.ExclusionEntry),
	}
	s.load()
	return s
}

// load читает манифест с диска. Ошибки не фатальны.
func (s *Store) load() {
	f, err := os.Open(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("Манифест не прочитан, стартуем с пустого множества",
				slog.String("path", s.path),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	defer f.Close()

	loadedAt := time.Now().UTC()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		s.entries[line] = model.ExclusionEntry{
			ExternalCachePath: line,
			AddedAt:           loadedAt,
		}
	}
	if err := scanner.Err(); err != nil {
		s.logger.Warn("Манифест повреждён, стартуем с пустого множества",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)
		s.entries = make(map[string]model.ExclusionEntry)
		return
	}

	s.logger.Info("Манифест загружен",
		slog.String("path", s.path),
		slog.Int("entries", len(s.entries)),
	)
}

// Add добавляет путь в манифест и сохраняет файл.
// Повторное добавление существующего пути — no-op без записи.
func (s *Store) Add(externalCachePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[externalCachePath]; ok {
		return nil
	}
	s.entries[externalCachePath] = model.ExclusionEntry{
		ExternalCachePath: externalCachePath,
		AddedAt:           time.Now().UTC(),
	}
	return s.flushLocked()
}

// Remove удаляет путь из манифеста и сохраняет файл.
// Удаление отсутствующего пути — no-op без записи.
func (s *Store) Remove(externalCachePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[externalCachePath]; !ok {
		return nil
	}
	delete(s.entries, externalCachePath)
	return s.flushLocked()
}

// Reconcile приводит манифест к авторитетному множеству путей.
// Применяется только симметрическая разность: AddedAt неизменившихся
// записей сохраняется, при пустой дельте файл не переписывается.
// Возвращает количество добавленных и удалённых записей.
func (s *Store) Reconcile(authoritative map[string]struct{}) (added, removed int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for path := range authoritative {
		if _, ok := s.entries[path]; !ok {
			s.entries[path] = model.ExclusionEntry{
				ExternalCachePath: path,
				AddedAt:           now,
			}
			added++
		}
	}
	for path := range s.entries {
		if _, ok := authoritative[path]; !ok {
			delete(s.entries, path)
			removed++
		}
	}

	if added == 0 && removed == 0 {
		return 0, 0, nil
	}
	if err := s.flushLocked(); err != nil {
		return added, removed, err
	}

	s.logger.Info("Манифест сверен",
		slog.Int("added", added),
		slog.Int("removed", removed),
		slog.Int("total", len(s.entries)),
	)
	return added, removed, nil
}

// Contains сообщает, защищён ли путь манифестом.
func (s *Store) Contains(externalCachePath string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[externalCachePath]
	return ok
}

// Entries возвращает снимок записей манифеста, отсортированный по пути.
func (s *Store) Entries() []model.ExclusionEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.ExclusionEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ExternalCachePath < out[j].ExternalCachePath
	})
	return out
}

// Count возвращает количество записей.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// flushLocked атомарно переписывает файл манифеста.
// Частично записанный файл никогда не виден внешнему mover: пишем во
// временный файл, fsync, затем переименовываем поверх. Любая ошибка
// оборачивается в ManifestPersistError, предыдущий файл остаётся цел.
func (s *Store) flushLocked() error {
	paths := make([]string, 0, len(s.entries))
	for p := range s.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	tmpPath := s.path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return &model.ManifestPersistError{Path: s.path,
			Err: fmt.Errorf("создание временного файла: %w", err)}
	}

	w := bufio.NewWriter(f)
	for _, p := range paths {
		if _, err := io.WriteString(w, p+"\n"); err != nil {
			f.Close()
			os.Remove(tmpPath)
			return &model.ManifestPersistError{Path: s.path,
				Err: fmt.Errorf("запись временного файла: %w", err)}
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return &model.ManifestPersistError{Path: s.path,
			Err: fmt.Errorf("сброс буфера: %w", err)}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return &model.ManifestPersistError{Path: s.path,
			Err: fmt.Errorf("fsync временного файла: %w", err)}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return &model.ManifestPersistError{Path: s.path,
			Err: fmt.Errorf("закрытие временного файла: %w", err)}
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return &model.ManifestPersistError{Path: s.path,
			Err: fmt.Errorf("атомарное переименование: %w", err)}
	}
	return nil
}
