// run.go — координатор прохода синхронизации.
// Конечный автомат Idle → Planning → Executing → Reconciling → Idle.
// Одновременно выполняется не более одного прохода: запрос старта при
// активном проходе отклоняется, не ставится в очередь.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/mediacache/cache-engine/internal/domain/model"
	"github.com/bigkaa/mediacache/cache-engine/internal/manifest"
	"github.com/bigkaa/mediacache/cache-engine/internal/mover"
	"github.com/bigkaa/mediacache/cache-engine/internal/pathmap"
	"github.com/bigkaa/mediacache/cache-engine/internal/storage/state"
)

// Метрики проходов синхронизации
var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ce_runs_total",
			Help: "Общее количество проходов синхронизации по статусам",
		},
		[]string{"status"},
	)

	runDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ce_run_duration_seconds",
			Help:    "Длительность прохода синхронизации в секундах",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
		},
	)

	movesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ce_moves_total",
			Help: "Количество перемещений файлов по направлению и результату",
		},
		[]string{"kind", "result"},
	)

	bytesMovedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ce_bytes_moved_total",
			Help: "Суммарно перемещено байт между ярусами",
		},
	)

	// CacheEntriesGauge и ManifestEntriesGauge обновляются на границе сверки
	CacheEntriesGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ce_cache_entries",
			Help: "Текущее количество записей кэша",
		},
	)

	CacheBytesGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ce_cache_bytes",
			Help: "Суммарный размер отслеживаемых файлов кэш-яруса в байтах",
		},
	)

	ManifestEntriesGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ce_manifest_entries",
			Help: "Текущее количество записей манифеста исключений",
		},
	)
)

// CandidateSupplier — поставщик упорядоченного списка кандидатов.
// Ошибка поставщика трактуется как пустое множество кандидатов:
// проход продолжается и оценивает только эвикции.
type CandidateSupplier interface {
	Candidates(ctx context.Context) ([]model.CacheCandidate, error)
}

// RunConfig — параметры одного прохода. Читаются один раз на проход,
// горячая перезагрузка возможна только между проходами.
type RunConfig struct {
	// Translator — транслятор путей по актуальным маппингам
	Translator *pathmap.Translator
	// BudgetBytes — бюджет кэш-яруса
	BudgetBytes int64
	// RetentionWindow — окно удержания нерелевантных файлов
	RetentionWindow time.Duration
	// Workers — размер пула воркеров перемещений
	Workers int
	// SafetyMarginBytes — запас при проверке свободного места
	SafetyMarginBytes int64
	// VerifyChecksum — сверять sha256 при межтомовом копировании
	VerifyChecksum bool
	// DryRun — планировать и логировать без изменений
	DryRun bool
}

// RunOptions — переопределения на один запуск.
type RunOptions struct {
	// DryRun — форсировать dry-run независимо от конфигурации
	DryRun bool
}

// StatusInfo — снимок состояния координатора для диагностики.
type StatusInfo struct {
	// State — текущая фаза конечного автомата
	State model.RunState `json:"state"`
	// RunID — идентификатор активного прохода (пусто в Idle)
	RunID string `json:"run_id,omitempty"`
	// StartedAt — старт активного прохода
	StartedAt time.Time `json:"started_at,omitzero"`
	// StopRequested — запрошена ли кооперативная остановка
	StopRequested bool `json:"stop_requested"`
	// LastResult — итог последнего завершённого прохода
	LastResult *model.RunResult `json:"last_result,omitempty"`
}

// MoveExecutor — интерфейс исполнителя перемещений.
// Позволяет тестировать координатор без реального I/O.
type MoveExecutor interface {
	Move(ctx context.Context, source, target string, kind model.MoveKind) (*model.MoveOutcome, error)
}

// Coordinator — координатор проходов синхронизации.
// Единственный писатель таблицы кэша и манифеста исключений.
type Coordinator struct {
	configFn func() (*RunConfig, error)
	supplier CandidateSupplier
	table    *state.Table
	manifest *manifest.Store
	logger   *slog.Logger

	// executorFn подменяется в тестах
	executorFn func(cfg mover.Config) MoveExecutor

	// running присоединяет активный проход при остановке процесса
	running sync.WaitGroup

	mu            sync.Mutex
	state         model.RunState
	runID         string
	startedAt     time.Time
	stopRequested bool
	lastResult    *model.RunResult
}

// NewCoordinator создаёт координатор.
// configFn вызывается в начале каждого прохода (hot reload между проходами).
func NewCoordinator(
	configFn func() (*RunConfig, error),
	supplier CandidateSupplier,
	table *state.Table,
	mstore *manifest.Store,
	logger *slog.Logger,
) *Coordinator {
	c := &Coordinator{
		configFn: configFn,
		supplier: supplier,
		table:    table,
		manifest: mstore,
		logger:   logger.With(slog.String("component", "run_coordinator")),
		state:    model.StateIdle,
	}
	c.executorFn = func(cfg mover.Config) MoveExecutor {
		return mover.New(cfg, c.logger)
	}
	return c
}

// Status возвращает снимок состояния координатора.
func (c *Coordinator) Status() StatusInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	info := StatusInfo{
		State:         c.state,
		RunID:         c.runID,
		StartedAt:     c.startedAt,
		StopRequested: c.stopRequested,
	}
	if c.lastResult != nil {
		copied := *c.lastResult
		info.LastResult = &copied
	}
	return info
}

// Stop запрашивает кооперативную остановку активного прохода.
// Идемпотентен, может вызываться из любой горутины. Начатое перемещение
// не прерывается: останавливается только запуск новых.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == model.StateIdle {
		return
	}
	if !c.stopRequested {
		c.stopRequested = true
		c.logger.Info("Запрошена остановка прохода", slog.String("run_id", c.runID))
	}
}

// Start запускает проход в фоновой горутине.
// Возвращает идентификатор прохода или ErrConcurrentRun.
// Проход отвязывается от отмены ctx: он переживает HTTP-запрос,
// который его инициировал, и останавливается только через Stop.
func (c *Coordinator) Start(ctx context.Context, opts RunOptions) (string, error) {
	runID, err := c.begin()
	if err != nil {
		return "", err
	}
	go c.execute(context.WithoutCancel(ctx), runID, opts)
	return runID, nil
}

// RunOnce выполняет один проход синхронно.
// Возвращает ErrConcurrentRun, если координатор не в Idle.
func (c *Coordinator) RunOnce(ctx context.Context, opts RunOptions) (*model.RunResult, error) {
	runID, err := c.begin()
	if err != nil {
		return nil, err
	}
	return c.execute(ctx, runID, opts), nil
}

// begin переводит автомат из Idle в Planning.
func (c *Coordinator) begin() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != model.StateIdle {
		return "", model.ErrConcurrentRun
	}
	c.state = model.StatePlanning
	c.runID = uuid.New().String()
	c.startedAt = time.Now().UTC()
	c.stopRequested = false
	c.running.Add(1)
	return c.runID, nil
}

// Join блокирует до завершения активного прохода; в Idle возвращается сразу.
// Вызывается при остановке процесса после Stop: финальный сброс таблицы
// кэша допустим только после присоединения горутины прохода.
func (c *Coordinator) Join() {
	c.running.Wait()
}

// setState меняет фазу автомата.
func (c *Coordinator) setState(s model.RunState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// isStopRequested проверяется воркерами перед стартом каждого перемещения.
func (c *Coordinator) isStopRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopRequested
}

// finish фиксирует итог прохода и возвращает автомат в Idle.
func (c *Coordinator) finish(result *model.RunResult) {
	result.CompletedAt = time.Now().UTC()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)

	runsTotal.WithLabelValues(string(result.Status)).Inc()
	runDurationSeconds.Observe(result.Duration.Seconds())
	CacheEntriesGauge.Set(float64(c.table.Count()))
	CacheBytesGauge.Set(float64(c.table.TotalSize()))
	ManifestEntriesGauge.Set(float64(c.manifest.Count()))

	c.mu.Lock()
	c.state = model.StateIdle
	c.runID = ""
	c.lastResult = result
	c.mu.Unlock()
	c.running.Done()

	c.logger.Info("Проход завершён",
		slog.String("run_id", result.RunID),
		slog.String("status", string(result.Status)),
		slog.Int("promoted", result.Promoted),
		slog.Int("evicted", result.Evicted),
		slog.Int("refreshed", result.Refreshed),
		slog.Int("skipped_budget", result.SkippedBudget),
		slog.Int("failed", result.Failed),
		slog.Int64("bytes_moved", result.BytesMoved),
		slog.Bool("dry_run", result.DryRun),
		slog.Duration("duration", result.Duration),
	)
}

// moveJob — одна единица работы пула воркеров.
type moveJob struct {
	kind      model.MoveKind
	source    string
	target    string
	sizeBytes int64
	// entry — исходная запись кэша (только для эвикции)
	entry *model.CacheEntry
}

// moveResult — результат обработки одной единицы работы.
type moveResult struct {
	job     moveJob
	outcome *model.MoveOutcome
	err     error
	// skippedStop — перемещение не стартовало из-за запроса остановки
	skippedStop bool
	// goneFromCache — файл эвикции подтверждённо отсутствует на кэш-ярусе
	goneFromCache bool
}

// execute выполняет фазы одного прохода.
func (c *Coordinator) execute(ctx context.Context, runID string, opts RunOptions) *model.RunResult {
	result := &model.RunResult{
		RunID:     runID,
		StartedAt: c.startedAt,
		Errors:    []model.MoveError{},
	}

	cfg, err := c.configFn()
	if err != nil {
		c.logger.Error("Конфигурация прохода не загружена", slog.String("error", err.Error()))
		result.Status = model.RunFailed
		result.FatalError = fmt.Sprintf("конфигурация: %v", err)
		c.finish(result)
		return result
	}
	dryRun := cfg.DryRun || opts.DryRun
	result.DryRun = dryRun

	// --- Planning ---
	now := time.Now().UTC()

	candidates, err := c.supplier.Candidates(ctx)
	if err != nil {
		// Сбой поставщика — пустое множество кандидатов, оцениваем только эвикции
		c.logger.Warn("Поставщик кандидатов недоступен, проход продолжается без продвижений",
			slog.String("error", err.Error()),
		)
		candidates = nil
	}

	planner := NewPlanner(cfg.Translator, c.logger)
	plan := planner.Plan(candidates, c.table.List(), PlanOptions{
		BudgetBytes:     cfg.BudgetBytes,
		RetentionWindow: cfg.RetentionWindow,
		Now:             now,
	})
	result.SkippedBudget = plan.SkippedBudget
	result.SkippedUnmapped = len(plan.Unmapped)
	result.Errors = append(result.Errors, plan.Unmapped...)

	// Релевантные записи обновляются даже в dry-run: файлы не трогаются,
	// а история релевантности должна отражать реальность
	for _, path := range plan.Refresh {
		if c.table.Touch(path, now) {
			result.Refreshed++
		}
	}

	// --- Executing ---
	c.setState(model.StateExecuting)

	jobs := make([]moveJob, 0, len(plan.Promote)+len(plan.Evict))
	for _, cand := range plan.Promote {
		jobs = append(jobs, moveJob{
			kind:      model.MovePromote,
			source:    cand.EngineSourcePath,
			target:    cand.EngineTargetPath,
			sizeBytes: cand.SizeBytes,
		})
	}
	for i := range plan.Evict {
		entry := plan.Evict[i]
		target, err := cfg.Translator.ToArchivePath(entry.EnginePath)
		if err != nil {
			result.Errors = append(result.Errors, model.MoveError{
				Path: entry.EnginePath, Kind: model.MoveEvict, Message: err.Error(),
			})
			result.Failed++
			continue
		}
		// Объединённое FUSE-представление архива отдало бы при сверке
		// копии кэш-ярусную копию файла вместо архивной; эвикция через
		// прямой путь массива гарантирует, что копирование и его
		// верификация видят именно архивный ярус
		if direct, ok := cfg.Translator.ToArrayDirectPath(target); ok {
			target = direct
		}
		jobs = append(jobs, moveJob{
			kind:      model.MoveEvict,
			source:    entry.EnginePath,
			target:    target,
			sizeBytes: entry.SizeBytes,
			entry:     &entry,
		})
	}

	executor := c.executorFn(mover.Config{
		SafetyMarginBytes: cfg.SafetyMarginBytes,
		VerifyChecksum:    cfg.VerifyChecksum,
		DryRun:            dryRun,
	})

	results := c.dispatch(ctx, executor, jobs, cfg.Workers)

	for _, r := range results {
		c.recordResult(result, r, now, dryRun)
	}

	// --- Reconciling ---
	// Безусловная фаза: инвариант манифеста обязан выполняться и после
	// остановленного или частично неудавшегося прохода
	c.setState(model.StateReconciling)

	if !dryRun {
		authoritative := make(map[string]struct{})
		for _, entry := range c.table.List() {
			authoritative[cfg.Translator.ToExternalPath(entry.EnginePath)] = struct{}{}
		}
		if _, _, err := c.manifest.Reconcile(authoritative); err != nil {
			c.logger.Error("Сверка манифеста не удалась", slog.String("error", err.Error()))
			result.Status = model.RunFailed
			result.FatalError = err.Error()
			c.finish(result)
			return result
		}
		if err := c.table.Flush(); err != nil {
			// Несохранённая таблица ломает удержание между рестартами
			c.logger.Error("Таблица кэша не сохранена", slog.String("error", err.Error()))
			result.Status = model.RunFailed
			result.FatalError = err.Error()
			c.finish(result)
			return result
		}
	}

	switch {
	case c.isStopRequested():
		result.Status = model.RunStopped
	case result.Failed > 0:
		result.Status = model.RunCompletedWithErrors
	default:
		result.Status = model.RunCompleted
	}

	c.finish(result)
	return result
}

// dispatch раздаёт перемещения пулу воркеров и дожидается всех.
// Запрос остановки проверяется перед стартом каждого перемещения;
// начатые перемещения всегда довыполняются до сверки.
func (c *Coordinator) dispatch(ctx context.Context, executor MoveExecutor, jobs []moveJob, workers int) []moveResult {
	if len(jobs) == 0 {
		return nil
	}
	if workers < 1 {
		workers = 1
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}

	jobCh := make(chan moveJob)
	resultCh := make(chan moveResult, len(jobs))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				resultCh <- c.runJob(ctx, executor, job)
			}
		}()
	}

	for _, job := range jobs {
		jobCh <- job
	}
	close(jobCh)
	wg.Wait()
	close(resultCh)

	results := make([]moveResult, 0, len(jobs))
	for r := range resultCh {
		results = append(results, r)
	}
	return results
}

// runJob выполняет одно перемещение в воркере.
func (c *Coordinator) runJob(ctx context.Context, executor MoveExecutor, job moveJob) moveResult {
	if c.isStopRequested() {
		return moveResult{job: job, skippedStop: true}
	}

	// Перед эвикцией подтверждаем, что файл действительно лежит на
	// кэш-ярусе: запись без файла удаляется без перемещения
	if job.kind == model.MoveEvict {
		if _, err := os.Stat(job.source); os.IsNotExist(err) {
			return moveResult{job: job, goneFromCache: true}
		}
	}

	outcome, err := executor.Move(ctx, job.source, job.target, job.kind)
	return moveResult{job: job, outcome: outcome, err: err}
}

// recordResult переносит итог одного перемещения в RunResult и таблицу кэша.
// Короткая критическая секция: I/O уже завершён.
func (c *Coordinator) recordResult(result *model.RunResult, r moveResult, now time.Time, dryRun bool) {
	switch {
	case r.skippedStop:
		movesTotal.WithLabelValues(string(r.job.kind), "skipped_stop").Inc()

	case r.goneFromCache:
		// Файл подтверждённо отсутствует на кэш-ярусе: запись снимается
		c.logger.Info("Файл отсутствует на кэш-ярусе, запись удалена",
			slog.String("path", r.job.source),
		)
		if !dryRun {
			c.table.Remove(r.job.source)
		}
		movesTotal.WithLabelValues(string(r.job.kind), "gone").Inc()

	case r.err != nil:
		var spaceErr *model.InsufficientSpaceError
		if errors.As(r.err, &spaceErr) {
			// Физическая нехватка места — пропуск кандидата, не сбой прохода
			c.logger.Warn("Кандидат пропущен: недостаточно места",
				slog.String("path", r.job.source),
				slog.String("error", r.err.Error()),
			)
			result.SkippedBudget++
			movesTotal.WithLabelValues(string(r.job.kind), "skipped_space").Inc()
			return
		}
		result.Failed++
		result.Errors = append(result.Errors, model.MoveError{
			Path:    r.job.source,
			Kind:    r.job.kind,
			Message: r.err.Error(),
		})
		movesTotal.WithLabelValues(string(r.job.kind), "error").Inc()
		c.logger.Error("Перемещение не удалось",
			slog.String("path", r.job.source),
			slog.String("kind", string(r.job.kind)),
			slog.String("error", r.err.Error()),
		)

	default:
		result.BytesMoved += r.outcome.BytesMoved
		bytesMovedTotal.Add(float64(r.outcome.BytesMoved))
		movesTotal.WithLabelValues(string(r.job.kind), "ok").Inc()

		switch r.job.kind {
		case model.MovePromote:
			result.Promoted++
			if !dryRun {
				c.table.Upsert(model.CacheEntry{
					EnginePath:         r.job.target,
					LastSeenEligibleAt: now,
					SizeBytes:          r.job.sizeBytes,
				})
			}
		case model.MoveEvict:
			result.Evicted++
			if !dryRun {
				c.table.Remove(r.job.source)
			}
		}
	}
}
