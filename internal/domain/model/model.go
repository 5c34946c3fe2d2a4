// Пакет model — доменные типы Cache Engine: маппинги путей, кандидаты
// на кэширование, записи кэша и результаты синхронизации.
package model

import "time"

// CandidateReason — причина, по которой внешний коллаборатор номинировал файл.
type CandidateReason string

const (
	// ReasonOnDeck — файл в очереди просмотра (текущий/следующий эпизод).
	ReasonOnDeck CandidateReason = "on-deck"
	// ReasonWatchlist — файл в списке отложенного просмотра.
	ReasonWatchlist CandidateReason = "watchlist"
	// ReasonPinned — файл закреплён пользователем вручную.
	ReasonPinned CandidateReason = "pinned"
)

// RunStatus — терминальный статус прохода синхронизации.
type RunStatus string

const (
	// RunCompleted — все операции выполнены успешно.
	RunCompleted RunStatus = "completed"
	// RunCompletedWithErrors — проход завершён, часть перемещений не удалась.
	RunCompletedWithErrors RunStatus = "completed-with-errors"
	// RunStopped — проход остановлен кооперативным запросом.
	RunStopped RunStatus = "stopped"
	// RunFailed — проход завершился фатально (манифест не сохранён).
	RunFailed RunStatus = "failed"
)

// RunState — фаза конечного автомата координатора.
type RunState string

const (
	StateIdle        RunState = "idle"
	StatePlanning    RunState = "planning"
	StateExecuting   RunState = "executing"
	StateReconciling RunState = "reconciling"
)

// MoveKind — направление перемещения файла между ярусами.
type MoveKind string

const (
	// MovePromote — архивный ярус → кэш-ярус.
	MovePromote MoveKind = "promote"
	// MoveEvict — кэш-ярус → архивный ярус.
	MoveEvict MoveKind = "evict"
)

// PathMapping — соответствие логического корня библиотеки его физическим
// расположениям в трёх пространствах имён (медиа-индекс, движок, внешний mover).
type PathMapping struct {
	// Name — человекочитаемое имя, уникальное в конфигурации
	Name string `json:"name"`
	// LogicalRoot — префикс пути в представлении медиа-индекса
	LogicalRoot string `json:"logical_root"`
	// EngineRoot — префикс архивного яруса в представлении движка
	EngineRoot string `json:"engine_root"`
	// CacheRoot — префикс кэш-яруса в представлении движка
	CacheRoot string `json:"cache_root"`
	// ExternalCacheRoot — префикс кэш-яруса в представлении внешнего mover.
	// Пустое значение означает совпадение с CacheRoot (трансляция не нужна).
	ExternalCacheRoot string `json:"external_cache_root,omitempty"`
	// ArrayDirectRoot — прямой префикс архивного яруса в обход объединённого
	// FUSE-представления EngineRoot (Unraid: /mnt/user0 вместо /mnt/user).
	// Пустое значение — EngineRoot не объединённый, прямой путь не нужен.
	ArrayDirectRoot string `json:"array_direct_root,omitempty"`
	// Cacheable — разрешено ли продвижение файлов этого маппинга в кэш
	Cacheable bool `json:"cacheable"`
	// Enabled — активен ли маппинг
	Enabled bool `json:"enabled"`
}

// CacheCandidate — файл, номинированный на продвижение в кэш на один проход.
// Не персистится: живёт от построения плана до конца прохода.
type CacheCandidate struct {
	// LogicalPath — путь в представлении медиа-индекса
	LogicalPath string `json:"logical_path"`
	// EngineSourcePath — разрешённый путь на архивном ярусе
	EngineSourcePath string `json:"engine_source_path"`
	// EngineTargetPath — разрешённый путь на кэш-ярусе
	EngineTargetPath string `json:"engine_target_path"`
	// Reason — причина номинации
	Reason CandidateReason `json:"reason"`
	// SizeBytes — размер основного файла в байтах
	SizeBytes int64 `json:"size_bytes"`
}

// CacheEntry — файл, находящийся на кэш-ярусе и отслеживаемый для эвикции.
// Персистится, чтобы история релевантности переживала перезапуск процесса.
type CacheEntry struct {
	// EnginePath — путь на кэш-ярусе в представлении движка
	EnginePath string `json:"engine_path"`
	// LastSeenEligibleAt — момент последнего прохода, где файл был валидным кандидатом
	LastSeenEligibleAt time.Time `json:"last_seen_eligible_at"`
	// SizeBytes — размер основного файла в байтах
	SizeBytes int64 `json:"size_bytes"`
}

// ExclusionEntry — путь в пространстве имён внешнего mover, защищённый
// от внешнего перемещения.
type ExclusionEntry struct {
	// ExternalCachePath — абсолютный путь в представлении mover
	ExternalCachePath string `json:"external_cache_path"`
	// AddedAt — момент добавления в манифест
	AddedAt time.Time `json:"added_at"`
}

// MoveError — одна неудавшаяся операция перемещения в составе RunResult.
type MoveError struct {
	// Path — путь источника перемещения
	Path string `json:"path"`
	// Kind — направление перемещения
	Kind MoveKind `json:"kind"`
	// Message — текст ошибки
	Message string `json:"message"`
}

// MoveOutcome — результат одного перемещения файла с сайдкарами.
type MoveOutcome struct {
	// Source, Target — пути основного файла
	Source string `json:"source"`
	Target string `json:"target"`
	// Kind — направление перемещения
	Kind MoveKind `json:"kind"`
	// BytesMoved — суммарно перемещено байт (включая сайдкары)
	BytesMoved int64 `json:"bytes_moved"`
	// SidecarsMoved — количество перемещённых сайдкаров
	SidecarsMoved int `json:"sidecars_moved"`
	// SidecarErrors — ошибки сайдкаров (не фатальны для основного файла)
	SidecarErrors []string `json:"sidecar_errors,omitempty"`
	// DryRun — перемещение не выполнялось, только запланировано
	DryRun bool `json:"dry_run"`
}

// RunResult — итог одного прохода синхронизации.
type RunResult struct {
	// RunID — уникальный идентификатор прохода
	RunID string `json:"run_id"`
	// Status — терминальный статус
	Status RunStatus `json:"status"`
	// StartedAt, CompletedAt — границы прохода
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	// Duration — длительность прохода
	Duration time.Duration `json:"duration"`
	// Promoted — успешно продвинуто в кэш
	Promoted int `json:"promoted"`
	// Evicted — успешно вытеснено из кэша
	Evicted int `json:"evicted"`
	// Refreshed — записей с обновлённым временем релевантности
	Refreshed int `json:"refreshed"`
	// SkippedBudget — кандидатов пропущено из-за бюджета кэш-яруса
	SkippedBudget int `json:"skipped_budget"`
	// SkippedUnmapped — кандидатов пропущено из-за отсутствия маппинга
	SkippedUnmapped int `json:"skipped_unmapped"`
	// Failed — перемещений завершилось ошибкой
	Failed int `json:"failed"`
	// BytesMoved — суммарно перемещено байт
	BytesMoved int64 `json:"bytes_moved"`
	// DryRun — проход выполнен без изменений файловой системы
	DryRun bool `json:"dry_run"`
	// Errors — список ошибок по файлам
	Errors []MoveError `json:"errors"`
	// FatalError — текст фатальной ошибки (только для Status == failed)
	FatalError string `json:"fatal_error,omitempty"`
}
