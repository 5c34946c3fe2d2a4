// planner.go — планировщик синхронизации.
// По множеству кандидатов и текущей инвентаризации кэш-яруса вычисляет
// множества продвижения и эвикции. Без побочных эффектов на файловой системе.
package service

import (
	"log/slog"
	"time"

	"github.com/bigkaa/mediacache/cache-engine/internal/domain/model"
	"github.com/bigkaa/mediacache/cache-engine/internal/pathmap"
)

// PlanOptions — параметры одного построения плана.
type PlanOptions struct {
	// BudgetBytes — бюджет кэш-яруса в байтах
	BudgetBytes int64
	// RetentionWindow — минимальное время удержания нерелевантного файла в кэше
	RetentionWindow time.Duration
	// Now — момент построения плана
	Now time.Time
}

// PlanResult — результат планирования. Множества Promote и Evict
// дизъюнктны по построению: путь, присутствующий и среди кандидатов,
// и среди записей кэша, попадает только в Refresh.
type PlanResult struct {
	// Promote — кандидаты на продвижение с разрешёнными путями,
	// в порядке поставщика
	Promote []model.CacheCandidate
	// Evict — записи кэша на вытеснение
	Evict []model.CacheEntry
	// Refresh — пути кэш-яруса, остающиеся релевантными (no-op обновление)
	Refresh []string
	// SkippedBudget — кандидатов не влезло в бюджет (пропуск, не ошибка)
	SkippedBudget int
	// Unmapped — кандидаты без разрешающего маппинга
	Unmapped []model.MoveError
}

// Planner — планировщик продвижений и эвикций.
type Planner struct {
	translator *pathmap.Translator
	logger     *slog.Logger
}

// NewPlanner создаёт планировщик поверх транслятора путей.
func NewPlanner(translator *pathmap.Translator, logger *slog.Logger) *Planner {
	return &Planner{
		translator: translator,
		logger:     logger.With(slog.String("component", "planner")),
	}
}

// Plan строит план синхронизации.
// Продвижение: кандидат cacheable, ещё не в кэше и влезает в бюджет;
// допускается строго префикс порядка поставщика — первый не влезший
// кандидат исчерпывает бюджет, и все последующие тоже пропускаются,
// иначе мелкий кандидат обошёл бы более приоритетный крупный.
// Эвикция: запись отсутствует среди кандидатов и окно удержания истекло.
func (p *Planner) Plan(candidates []model.CacheCandidate, entries []model.CacheEntry, opts PlanOptions) *PlanResult {
	result := &PlanResult{}

	known := make(map[string]bool, len(entries))
	var usedBytes int64
	for _, e := range entries {
		known[e.EnginePath] = true
		usedBytes += e.SizeBytes
	}

	// Пути кэш-яруса, оставшиеся релевантными в этом проходе
	eligible := make(map[string]bool, len(candidates))

	projected := usedBytes
	budgetExhausted := false
	for _, c := range candidates {
		m, ok := p.translator.MappingFor(c.LogicalPath)
		if !ok {
			result.Unmapped = append(result.Unmapped, model.MoveError{
				Path: c.LogicalPath,
				Kind: model.MovePromote,
				Message: (&model.UnmappedPathError{Path: c.LogicalPath}).Error(),
			})
			continue
		}
		if !m.Cacheable {
			p.logger.Debug("Кандидат под некэшируемым маппингом пропущен",
				slog.String("path", c.LogicalPath),
				slog.String("mapping", m.Name),
			)
			continue
		}

		sourcePath, err := p.translator.ToEnginePath(c.LogicalPath)
		if err != nil {
			result.Unmapped = append(result.Unmapped, model.MoveError{
				Path: c.LogicalPath, Kind: model.MovePromote, Message: err.Error(),
			})
			continue
		}
		targetPath, err := p.translator.ToCachePath(c.LogicalPath)
		if err != nil {
			result.Unmapped = append(result.Unmapped, model.MoveError{
				Path: c.LogicalPath, Kind: model.MovePromote, Message: err.Error(),
			})
			continue
		}

		// Уже в кэше: только обновление времени релевантности
		if known[targetPath] {
			eligible[targetPath] = true
			result.Refresh = append(result.Refresh, targetPath)
			continue
		}

		if budgetExhausted || projected+c.SizeBytes > opts.BudgetBytes {
			budgetExhausted = true
			result.SkippedBudget++
			continue
		}
		projected += c.SizeBytes

		resolved := c
		resolved.EngineSourcePath = sourcePath
		resolved.EngineTargetPath = targetPath
		result.Promote = append(result.Promote, resolved)
	}

	for _, e := range entries {
		if eligible[e.EnginePath] {
			continue
		}
		if opts.Now.Sub(e.LastSeenEligibleAt) >= opts.RetentionWindow {
			result.Evict = append(result.Evict, e)
		}
	}

	p.logger.Info("План построен",
		slog.Int("candidates", len(candidates)),
		slog.Int("promote", len(result.Promote)),
		slog.Int("evict", len(result.Evict)),
		slog.Int("refresh", len(result.Refresh)),
		slog.Int("skipped_budget", result.SkippedBudget),
		slog.Int("unmapped", len(result.Unmapped)),
	)
	return result
}
