// Пакет mover — исполнитель перемещений файлов между ярусами.
// Перемещает основной медиа-файл вместе с сайдкарами (субтитры, метаданные)
// как одну логическую единицу. На одном томе — атомарный rename, между
// томами — копирование с верификацией и последующим удалением источника.
// Чистый I/O: манифест и таблицу кэша исполнитель не трогает.
package mover

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bigkaa/mediacache/cache-engine/internal/domain/model"
)

// Config — параметры исполнителя перемещений.
type Config struct {
	// SafetyMarginBytes — запас свободного места сверх размера файла
	// при проверке перед продвижением
	SafetyMarginBytes int64
	// VerifyChecksum — сверять sha256 источника и копии при межтомовом
	// перемещении (дополнительно к обязательной сверке размера)
	VerifyChecksum bool
	// DryRun — логировать намерение без изменений файловой системы
	DryRun bool
}

// Executor — исполнитель одного перемещения.
type Executor struct {
	cfg    Config
	logger *slog.Logger

	// freeSpace подменяется в тестах
	freeSpace func(path string) (int64, error)
}

// New создаёт исполнителя перемещений.
func New(cfg Config, logger *slog.Logger) *Executor {
	return &Executor{
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "mover")),
		freeSpace: diskFree,
	}
}

// Move перемещает source в target вместе с сайдкарами.
// Запрос остановки прохода не прерывает начатое перемещение: контекст
// проверяется только на входе. Неудача сайдкара не откатывает успешно
// перемещённый основной файл — потеря субтитра не равна потере актива.
func (e *Executor) Move(ctx context.Context, source, target string, kind model.MoveKind) (*model.MoveOutcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, &model.MoveIOError{Source: source, Target: target, Err: err}
	}

	srcInfo, err := os.Stat(source)
	if err != nil {
		return nil, &model.MoveIOError{Source: source, Target: target,
			Err: fmt.Errorf("stat источника: %w", err)}
	}

	outcome := &model.MoveOutcome{
		Source: source,
		Target: target,
		Kind:   kind,
		DryRun: e.cfg.DryRun,
	}

	sidecars, err := e.findSidecars(source)
	if err != nil {
		e.logger.Warn("Сайдкары не перечислены",
			slog.String("source", source),
			slog.String("error", err.Error()),
		)
	}

	if e.cfg.DryRun {
		e.logger.Info("Dry-run: перемещение пропущено",
			slog.String("source", source),
			slog.String("target", target),
			slog.String("kind", string(kind)),
			slog.Int("sidecars", len(sidecars)),
		)
		outcome.BytesMoved = srcInfo.Size()
		outcome.SidecarsMoved = len(sidecars)
		return outcome, nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, &model.MoveIOError{Source: source, Target: target,
			Err: fmt.Errorf("создание директории цели: %w", err)}
	}

	// Перед продвижением проверяем физическое место на целевом томе,
	// чтобы частичная запись не заполнила кэш-ярус
	if kind == model.MovePromote {
		required := srcInfo.Size() + e.cfg.SafetyMarginBytes
		available, err := e.freeSpace(filepath.Dir(target))
		if err != nil {
			return nil, &model.MoveIOError{Source: source, Target: target,
				Err: fmt.Errorf("проверка свободного места: %w", err)}
		}
		if available < required {
			return nil, &model.InsufficientSpaceError{
				Path:           source,
				RequiredBytes:  required,
				AvailableBytes: available,
			}
		}
	}

	if err := e.moveFile(source, target, srcInfo); err != nil {
		return nil, err
	}
	outcome.BytesMoved = srcInfo.Size()

	// Сайдкары следуют за основным файлом; их ошибки фиксируются, не фатальны
	targetDir := filepath.Dir(target)
	for _, sc := range sidecars {
		scTarget := filepath.Join(targetDir, filepath.Base(sc))
		scInfo, err := os.Stat(sc)
		if err != nil {
			outcome.SidecarErrors = append(outcome.SidecarErrors,
				fmt.Sprintf("%s: stat: %v", sc, err))
			continue
		}
		if err := e.moveFile(sc, scTarget, scInfo); err != nil {
			outcome.SidecarErrors = append(outcome.SidecarErrors,
				fmt.Sprintf("%s: %v", sc, err))
			e.logger.Warn("Сайдкар не перемещён",
				slog.String("sidecar", sc),
				slog.String("error", err.Error()),
			)
			continue
		}
		outcome.SidecarsMoved++
		outcome.BytesMoved += scInfo.Size()
	}

	e.logger.Info("Файл перемещён",
		slog.String("source", source),
		slog.String("target", target),
		slog.String("kind", string(kind)),
		slog.Int64("bytes", outcome.BytesMoved),
		slog.Int("sidecars", outcome.SidecarsMoved),
	)
	return outcome, nil
}

// mediaExtensions — расширения медиа-файлов. Сосед с тем же базовым
// именем и медиа-расширением — самостоятельный актив (другая кодировка
// того же фильма), а не сайдкар: он перемещается только собственным
// перемещением.
var mediaExtensions = map[string]struct{}{
	".mkv": {}, ".mp4": {}, ".avi": {}, ".m4v": {}, ".mov": {},
	".wmv": {}, ".flv": {}, ".webm": {}, ".mpg": {}, ".mpeg": {},
	".ts": {}, ".m2ts": {}, ".vob": {},
}

// findSidecars возвращает файлы той же директории с тем же базовым именем
// до медиа-расширения: A.mkv → A.srt, A.en.srt, A.nfo.
func (e *Executor) findSidecars(source string) ([]string, error) {
	dir := filepath.Dir(source)
	name := filepath.Base(source)
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if base == "" || base == name {
		return nil, nil
	}

	matches, err := filepath.Glob(filepath.Join(dir, base+".*"))
	if err != nil {
		return nil, fmt.Errorf("поиск сайдкаров: %w", err)
	}

	var sidecars []string
	for _, m := range matches {
		if m == source {
			continue
		}
		if _, media := mediaExtensions[strings.ToLower(filepath.Ext(m))]; media {
			continue
		}
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		sidecars = append(sidecars, m)
	}
	return sidecars, nil
}

// moveFile перемещает один файл: rename на одном томе,
// copy-verify-delete между томами.
func (e *Executor) moveFile(source, target string, srcInfo os.FileInfo) error {
	err := os.Rename(source, target)
	if err == nil {
		return nil
	}
	if !isCrossDevice(err) {
		return &model.MoveIOError{Source: source, Target: target,
			Err: fmt.Errorf("rename: %w", err)}
	}
	return e.copyVerifyDelete(source, target, srcInfo)
}

// copyVerifyDelete копирует source во временный файл рядом с target,
// сверяет размер (и sha256, если настроено), атомарно переименовывает
// и только после этого удаляет источник. До подтверждения полноты копии
// источник не трогается: при сбое посреди копирования единственная копия
// не уничтожается.
func (e *Executor) copyVerifyDelete(source, target string, srcInfo os.FileInfo) error {
	src, err := os.Open(source)
	if err != nil {
		return &model.MoveIOError{Source: source, Target: target,
			Err: fmt.Errorf("открытие источника: %w", err)}
	}
	defer src.Close()

	tmpPath := target + ".tmp"
	dst, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, srcInfo.Mode().Perm())
	if err != nil {
		return &model.MoveIOError{Source: source, Target: target,
			Err: fmt.Errorf("создание временного файла: %w", err)}
	}

	hasher := sha256.New()
	var reader io.Reader = src
	if e.cfg.VerifyChecksum {
		reader = io.TeeReader(src, hasher)
	}

	written, err := io.Copy(dst, reader)
	if err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return &model.MoveIOError{Source: source, Target: target,
			Err: fmt.Errorf("копирование: %w", err)}
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return &model.MoveIOError{Source: source, Target: target,
			Err: fmt.Errorf("fsync копии: %w", err)}
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return &model.MoveIOError{Source: source, Target: target,
			Err: fmt.Errorf("закрытие копии: %w", err)}
	}

	// Верификация размера обязательна
	if written != srcInfo.Size() {
		os.Remove(tmpPath)
		return &model.MoveIOError{Source: source, Target: target,
			Err: fmt.Errorf("размер копии %d не совпадает с источником %d", written, srcInfo.Size())}
	}

	// Опциональная верификация sha256: перечитываем записанную копию
	if e.cfg.VerifyChecksum {
		wantSum := hex.EncodeToString(hasher.Sum(nil))
		gotSum, err := fileChecksum(tmpPath)
		if err != nil {
			os.Remove(tmpPath)
			return &model.MoveIOError{Source: source, Target: target,
				Err: fmt.Errorf("вычисление контрольной суммы копии: %w", err)}
		}
		if gotSum != wantSum {
			os.Remove(tmpPath)
			return &model.MoveIOError{Source: source, Target: target,
				Err: fmt.Errorf("контрольная сумма копии не совпадает: %s != %s", gotSum, wantSum)}
		}
	}

	// Сохраняем владельца источника (best effort: нужен root)
	if uid, gid, ok := ownerOf(srcInfo); ok {
		if err := os.Chown(tmpPath, uid, gid); err != nil {
			e.logger.Debug("Владелец копии не сохранён",
				slog.String("target", target),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return &model.MoveIOError{Source: source, Target: target,
			Err: fmt.Errorf("атомарное переименование копии: %w", err)}
	}

	// Копия подтверждена: удаляем источник. Неудача оставляет дубликат,
	// что безопаснее потери
	if err := os.Remove(source); err != nil {
		e.logger.Warn("Источник не удалён после копирования, остаётся дубликат",
			slog.String("source", source),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// fileChecksum возвращает hex-представление sha256 содержимого файла.
func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
