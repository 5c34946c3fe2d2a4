// Пакет pathmap — трансляция путей между тремя пространствами имён:
// логическим (медиа-индекс), локальным (движок) и внешним (mover).
// Маппинги применяются в порядке объявления: выигрывает первый, чей
// префикс покрывает путь. Это сознательно не longest-match — порядок
// объявления даёт пользователю способ переопределять маппинги.
package pathmap

import (
	"fmt"
	"strings"

	"github.com/bigkaa/mediacache/cache-engine/internal/domain/model"
)

// Translator — транслятор путей по набору объявленных маппингов.
// Неизменяем после создания; конфигурация перечитывается между проходами.
type Translator struct {
	mappings []model.PathMapping
}

// New создаёт транслятор и валидирует маппинги: непустые префиксы,
// уникальные имена. Отключённые маппинги сохраняются, но не участвуют
// в трансляции.
func New(mappings []model.PathMapping) (*Translator, error) {
	names := make(map[string]bool, len(mappings))
	for i, m := range mappings {
		if m.Name == "" {
			return nil, fmt.Errorf("маппинг #%d: пустое имя", i)
		}
		if names[m.Name] {
			return nil, fmt.Errorf("маппинг %q: имя не уникально", m.Name)
		}
		names[m.Name] = true
		if m.LogicalRoot == "" || m.EngineRoot == "" || m.CacheRoot == "" {
			return nil, fmt.Errorf("маппинг %q: префиксы не могут быть пустыми", m.Name)
		}
	}
	return &Translator{mappings: mappings}, nil
}

// Mappings возвращает копию набора маппингов.
func (t *Translator) Mappings() []model.PathMapping {
	out := make([]model.PathMapping, len(t.mappings))
	copy(out, t.mappings)
	return out
}

// MappingFor возвращает первый активный маппинг, чей LogicalRoot покрывает
// логический путь, и false, если такого нет.
func (t *Translator) MappingFor(logicalPath string) (*model.PathMapping, bool) {
	for i := range t.mappings {
		m := &t.mappings[i]
		if !m.Enabled {
			continue
		}
		if hasPathPrefix(logicalPath, m.LogicalRoot) {
			copied := *m
			return &copied, true
		}
	}
	return nil, false
}

// ToEnginePath разрешает логический путь в путь архивного яруса движка.
// Возвращает UnmappedPathError, если ни один активный маппинг не покрывает путь.
func (t *Translator) ToEnginePath(logicalPath string) (string, error) {
	m, ok := t.MappingFor(logicalPath)
	if !ok {
		return "", &model.UnmappedPathError{Path: logicalPath}
	}
	return substitute(logicalPath, m.LogicalRoot, m.EngineRoot), nil
}

// ToCachePath разрешает логический путь в целевой путь кэш-яруса движка.
// Используется при разрешении цели продвижения: отсутствие маппинга — ошибка.
func (t *Translator) ToCachePath(logicalPath string) (string, error) {
	m, ok := t.MappingFor(logicalPath)
	if !ok {
		return "", &model.UnmappedPathError{Path: logicalPath}
	}
	return substitute(logicalPath, m.LogicalRoot, m.CacheRoot), nil
}

// ToArchivePath разрешает путь кэш-яруса обратно в путь архивного яруса.
// Используется при эвикции. Отсутствие маппинга — ошибка: эвикция без
// объявленной пары корней не выполняется.
func (t *Translator) ToArchivePath(engineCachePath string) (string, error) {
	for i := range t.mappings {
		m := &t.mappings[i]
		if !m.Enabled {
			continue
		}
		if hasPathPrefix(engineCachePath, m.CacheRoot) {
			return substitute(engineCachePath, m.CacheRoot, m.EngineRoot), nil
		}
	}
	return "", &model.UnmappedPathError{Path: engineCachePath}
}

// ToArrayDirectPath транслирует путь архивного яруса в прямой путь в обход
// объединённого FUSE-представления (Unraid: /mnt/user0 вместо /mnt/user).
// Возвращает false, если ни один активный маппинг с ArrayDirectRoot не
// покрывает путь: объединённого представления нет, прямой путь не нужен.
func (t *Translator) ToArrayDirectPath(engineArchivePath string) (string, bool) {
	for i := range t.mappings {
		m := &t.mappings[i]
		if !m.Enabled || m.ArrayDirectRoot == "" {
			continue
		}
		if hasPathPrefix(engineArchivePath, m.EngineRoot) {
			return substitute(engineArchivePath, m.EngineRoot, m.ArrayDirectRoot), true
		}
	}
	return "", false
}

// ToExternalPath транслирует путь кэш-яруса движка в пространство имён
// внешнего mover. Никогда не ошибается: без подходящего маппинга или при
// совпадении корней возвращает вход без изменений. Тождественная трансляция
// по умолчанию — защита для немаппированных и одноярусных развёртываний.
func (t *Translator) ToExternalPath(engineCachePath string) string {
	for i := range t.mappings {
		m := &t.mappings[i]
		if !m.Enabled {
			continue
		}
		if !hasPathPrefix(engineCachePath, m.CacheRoot) {
			continue
		}
		external := m.ExternalCacheRoot
		if external == "" || external == m.CacheRoot {
			return engineCachePath
		}
		return substitute(engineCachePath, m.CacheRoot, external)
	}
	return engineCachePath
}

// hasPathPrefix проверяет префикс с учётом границ сегментов:
// /lib/Movies покрывает /lib/Movies/A.mkv, но не /lib/MoviesHD/A.mkv.
func hasPathPrefix(path, root string) bool {
	root = strings.TrimRight(root, "/")
	if root == "" {
		return false
	}
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+"/")
}

// substitute заменяет префикс from на to, сохраняя остаток пути.
func substitute(path, from, to string) string {
	from = strings.TrimRight(from, "/")
	to = strings.TrimRight(to, "/")
	if path == from {
		return to
	}
	return to + strings.TrimPrefix(path, from)
}
