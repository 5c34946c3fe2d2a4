// errors.go — таксономия ошибок Cache Engine.
// Ошибки по отдельным кандидатам локальны (логируются, попадают в RunResult,
// проход продолжается). Фатальна только ошибка персистенции манифеста.
package model

import (
	"errors"
	"fmt"
)

// ErrConcurrentRun — запрошен старт прохода, пока координатор не в Idle.
// Запрос отклоняется сразу, без постановки в очередь.
var ErrConcurrentRun = errors.New("проход синхронизации уже выполняется")

// UnmappedPathError — ни один маппинг не разрешает путь, когда разрешение обязательно.
type UnmappedPathError struct {
	// Path — путь, который не удалось разрешить
	Path string
}

func (e *UnmappedPathError) Error() string {
	return fmt.Sprintf("путь %q не покрыт ни одним активным маппингом", e.Path)
}

// InsufficientSpaceError — продвижение превысило бы бюджет или физическое
// свободное место. Кандидат пропускается, проход продолжается.
type InsufficientSpaceError struct {
	// Path — кандидат, которому не хватило места
	Path string
	// RequiredBytes — требуется байт (с учётом запаса)
	RequiredBytes int64
	// AvailableBytes — доступно байт
	AvailableBytes int64
}

func (e *InsufficientSpaceError) Error() string {
	return fmt.Sprintf("недостаточно места для %q: требуется %d байт, доступно %d",
		e.Path, e.RequiredBytes, e.AvailableBytes)
}

// MoveIOError — ошибка копирования, переименования или верификации.
// Фиксируется в RunResult, CacheEntry остаётся без изменений.
type MoveIOError struct {
	// Source, Target — пути перемещения
	Source string
	Target string
	// Err — исходная ошибка
	Err error
}

func (e *MoveIOError) Error() string {
	return fmt.Sprintf("ошибка перемещения %q -> %q: %v", e.Source, e.Target, e.Err)
}

func (e *MoveIOError) Unwrap() error { return e.Err }

// ManifestPersistError — манифест исключений не удалось надёжно записать.
// Фатальна для прохода: непersistированный манифест молча нарушает
// защитный инвариант внешнего mover.
type ManifestPersistError struct {
	// Path — путь файла манифеста
	Path string
	// Err — исходная ошибка
	Err error
}

func (e *ManifestPersistError) Error() string {
	return fmt.Sprintf("ошибка сохранения манифеста %q: %v", e.Path, e.Err)
}

func (e *ManifestPersistError) Unwrap() error { return e.Err }
