package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/feedharvest/internal/metrics"
	"github.com/JakeFAU/feedharvest/internal/progress"
)

// ErrEngineStopped is returned when Start is called on an engine that has
// already begun shutting down. Engines are single-use.
var ErrEngineStopped = errors.New("engine stopped")

var tracer = otel.Tracer("github.com/JakeFAU/feedharvest/internal/crawler")

// Deps bundles the collaborators of an Engine. Only Surface is required.
type Deps struct {
	Surface      Surface
	Expander     Expander
	Checkpointer *Checkpointer
	Clock        Clock
	Rand         Rand
	Emitter      progress.Emitter
	Logger       *zap.Logger
	RunID        uuid.UUID
}

// Engine runs one incremental crawl: it repeatedly collects unseen items from
// the surface, scrolls, checkpoints and stops once the feed stops yielding
// new records or a stop is requested.
type Engine struct {
	cfg          Config
	surface      Surface
	extractor    *Extractor
	index        *Index
	checkpointer *Checkpointer
	clock        Clock
	rand         Rand
	emitter      progress.Emitter
	logger       *zap.Logger
	runID        uuid.UUID

	mu          sync.Mutex
	state       CrawlState
	checkpoints int
	finishedAt  time.Time
	err         error

	passing  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewEngine validates cfg and assembles an idle engine.
func NewEngine(cfg Config, deps Deps) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid crawl config: %w", err)
	}
	if deps.Surface == nil {
		return nil, errors.New("surface is required")
	}
	runID := deps.RunID
	if runID == uuid.Nil {
		runID = uuid.New()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("run_id", runID.String()))
	clock := deps.Clock
	if clock == nil {
		clock = wallClock{}
	}
	rnd := deps.Rand
	if rnd == nil {
		rnd = NewRand(0)
	}
	return &Engine{
		cfg:          cfg,
		surface:      deps.Surface,
		extractor:    NewExtractor(deps.Expander, cfg.ExpansionBackend, cfg.ExpansionTimeout, logger.Named("extractor")),
		index:        NewIndex(),
		checkpointer: deps.Checkpointer,
		clock:        clock,
		rand:         rnd,
		emitter:      deps.Emitter,
		logger:       logger,
		runID:        runID,
		state:        CrawlState{State: StateIdle},
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}, nil
}

// RunID identifies this run in logs, events and notifications.
func (e *Engine) RunID() uuid.UUID {
	return e.runID
}

// Start launches the crawl loop and returns immediately. Starting a running
// engine is a no-op; starting one that is stopping or stopped fails with
// ErrEngineStopped. Canceling ctx is treated as a stop request.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state.State {
	case StateRunning:
		e.logger.Warn("start ignored; engine already running")
		return nil
	case StateStopping, StateStopped:
		return ErrEngineStopped
	}
	e.state.State = StateRunning
	e.state.StartedAt = e.clock.Now()
	e.logger.Info("crawl started",
		zap.Int("max_unchanged_scrolls", e.cfg.MaxUnchangedScrolls),
		zap.Int("checkpoint_interval", e.cfg.CheckpointInterval),
		zap.String("expansion_backend", e.cfg.ExpansionBackend),
	)
	e.emit(progress.Event{Stage: progress.StageRunStart})
	go e.loop(ctx)
	return nil
}

// Run starts the engine and blocks until it has stopped, returning the error
// that ended the run, if any.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}
	<-e.doneCh
	return e.Err()
}

// RequestStop asks the loop to stop at the next tick boundary without
// waiting. In-flight expansions are never preempted.
func (e *Engine) RequestStop() {
	e.stopOnce.Do(func() {
		e.logger.Info("stop requested")
		close(e.stopCh)
	})
}

// Stop requests a stop and waits for the final flush and report. Stopping an
// engine that was never started still flushes and reports.
func (e *Engine) Stop(ctx context.Context) error {
	e.RequestStop()
	e.mu.Lock()
	idle := e.state.State == StateIdle
	if idle {
		e.state.State = StateStopping
	}
	e.mu.Unlock()
	if idle {
		e.finish(ctx, nil)
		return nil
	}
	select {
	case <-e.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for engine stop: %w", ctx.Err())
	}
}

// Done is closed once the engine reaches StateStopped.
func (e *Engine) Done() <-chan struct{} {
	return e.doneCh
}

// Err returns the fatal error that ended the run, if any.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.State
}

// Records returns the harvested records in discovery order.
func (e *Engine) Records() []Record {
	return e.index.Records()
}

// Status returns a snapshot of the run for observers on other goroutines.
func (e *Engine) Status() Status {
	e.mu.Lock()
	crawl := e.state
	checkpoints := e.checkpoints
	e.mu.Unlock()
	return Status{
		RunID:             e.runID.String(),
		Crawl:             crawl,
		Records:           e.index.Len(),
		ExpansionAttempts: e.extractor.Attempts(),
		Checkpoints:       checkpoints,
	}
}

// Stats computes the run summary. Elapsed time is frozen once the run stops.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	started := e.state.StartedAt
	finished := e.finishedAt
	passes := e.state.Passes
	checkpoints := e.checkpoints
	e.mu.Unlock()

	var elapsed time.Duration
	if !started.IsZero() {
		end := finished
		if end.IsZero() {
			end = e.clock.Now()
		}
		elapsed = end.Sub(started)
	}
	records := e.index.Len()
	return Stats{
		Records:           records,
		Elapsed:           elapsed,
		RecordsPerSecond:  RecordsPerSecond(records, elapsed),
		ExpandedRecords:   e.index.CountExpanded(),
		ExpansionAttempts: e.extractor.Attempts(),
		ExpansionsAdopted: e.extractor.Adopted(),
		Passes:            passes,
		Checkpoints:       checkpoints,
	}
}

func (e *Engine) loop(ctx context.Context) {
	var runErr error
	defer func() {
		e.finish(ctx, runErr)
	}()
	for {
		if e.stopping(ctx) {
			return
		}
		stop, err := e.safeTick(ctx)
		if err != nil {
			runErr = err
			e.logger.Error("crawl tick failed; stopping", zap.Error(err))
			return
		}
		if stop {
			return
		}
		if !e.wait(ctx, uniformDuration(e.rand, e.cfg.DelayMin, e.cfg.DelayMax)) {
			return
		}
	}
}

func (e *Engine) stopping(ctx context.Context) bool {
	select {
	case <-e.stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// wait sleeps for d and reports false if a stop arrived first.
func (e *Engine) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-e.stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}

func (e *Engine) safeTick(ctx context.Context) (stop bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			stop = true
			err = fmt.Errorf("tick panic: %v", r)
		}
	}()
	return e.tick(ctx)
}

// tick runs one collection pass, updates the termination counters, scrolls
// and checkpoints. It reports true when the run should stop.
func (e *Engine) tick(ctx context.Context) (bool, error) {
	if !e.passing.CompareAndSwap(false, true) {
		metrics.ObservePass("skipped", 0, e.index.Len())
		e.logger.Debug("collection pass in flight; tick skipped")
		return false, nil
	}
	defer e.passing.Store(false)

	ctx, span := tracer.Start(ctx, "crawler.tick")
	defer span.End()

	start := time.Now()
	added, scanned := e.collect(ctx)
	size := e.index.Len()

	e.mu.Lock()
	e.state.Passes++
	if added > 0 {
		e.state.ConsecutiveEmptyPasses = 0
	} else {
		e.state.ConsecutiveEmptyPasses++
		e.state.TotalPassesWithoutNewRecords++
	}
	empty := e.state.ConsecutiveEmptyPasses
	e.mu.Unlock()

	result := "new"
	switch {
	case !scanned:
		result = "error"
	case added == 0:
		result = "empty"
	}
	metrics.ObservePass(result, added, size)
	span.SetAttributes(attribute.Int("new_records", added), attribute.Int("index_size", size))
	e.emit(progress.Event{
		Stage:      progress.StagePassDone,
		NewRecords: int64(added),
		Total:      int64(size),
		Dur:        time.Since(start),
	})
	e.logger.Debug("collection pass complete",
		zap.Int("new_records", added),
		zap.Int("total", size),
		zap.Int("passes_without_new", empty),
	)

	if empty >= e.cfg.MaxUnchangedScrolls {
		e.logger.Info("feed exhausted; stopping", zap.Int("passes_without_new", empty))
		return true, nil
	}

	distance := uniformInt(e.rand, e.cfg.ScrollMin, e.cfg.ScrollMax)
	if err := e.surface.ScrollBy(ctx, distance); err != nil {
		if ctx.Err() != nil {
			return true, nil
		}
		span.SetStatus(codes.Error, err.Error())
		return true, fmt.Errorf("scroll by %d: %w", distance, err)
	}
	e.maybeCheckpoint(ctx)
	return false, nil
}

// collect runs one collection pass and returns the number of new records.
// It never fails; a failed enumeration yields zero and scanned=false.
func (e *Engine) collect(ctx context.Context) (added int, scanned bool) {
	items, ok := e.enumerate(ctx)
	if !ok {
		return 0, false
	}
	for _, item := range items {
		if item.Processed {
			continue
		}
		rec, ok := e.processItem(ctx, item)
		if !ok {
			continue
		}
		if e.index.Insert(rec) {
			added++
		}
	}
	return added, true
}

// enumerate lists the attached feed items. Errors and panics from the
// surface are logged and counted as a failed scan.
func (e *Engine) enumerate(ctx context.Context) (items []Item, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ObserveItemError()
			e.logger.Warn("enumerate feed items panicked", zap.Any("panic", r))
			items, ok = nil, false
		}
	}()
	items, err := e.surface.Items(ctx)
	if err != nil {
		metrics.ObserveItemError()
		e.logger.Warn("enumerate feed items failed", zap.Error(err))
		return nil, false
	}
	return items, true
}

func (e *Engine) processItem(ctx context.Context, item Item) (rec Record, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ObserveItemError()
			e.logger.Warn("feed item panicked", zap.String("item", item.ID), zap.Any("panic", r))
			rec, ok = Record{}, false
		}
	}()
	rec, ok = e.extractor.Extract(ctx, item)
	if !ok {
		return Record{}, false
	}
	if err := e.surface.MarkProcessed(ctx, item.ID); err != nil {
		metrics.ObserveItemError()
		e.logger.Debug("mark item processed failed", zap.String("item", item.ID), zap.Error(err))
	}
	rec.CollectedAt = formatCollectedAt(e.clock.Now())
	return rec, true
}

// maybeCheckpoint persists when the index size crossed a multiple of the
// checkpoint interval since the last checkpoint.
func (e *Engine) maybeCheckpoint(ctx context.Context) {
	size := e.index.Len()
	e.mu.Lock()
	last := e.state.LastCheckpointSize
	e.mu.Unlock()
	if size/e.cfg.CheckpointInterval <= last/e.cfg.CheckpointInterval {
		return
	}
	e.checkpoint(ctx, "interval")
}

func (e *Engine) checkpoint(ctx context.Context, reason string) {
	if e.checkpointer == nil {
		return
	}
	records := e.index.Records()
	if len(records) == 0 {
		return
	}
	res, err := e.checkpointer.Flush(ctx, records)
	e.mu.Lock()
	e.state.LastCheckpointSize = len(records)
	if len(res.URIs) > 0 {
		e.checkpoints++
	}
	e.mu.Unlock()
	if err != nil {
		e.logger.Error("checkpoint incomplete", zap.String("reason", reason), zap.Error(err))
	}
	for _, uri := range res.URIs {
		e.emit(progress.Event{
			Stage: progress.StageCheckpoint,
			Total: int64(len(records)),
			URI:   uri,
			Note:  reason,
		})
	}
}

// finish runs the STOPPING phase: one final flush on a context detached from
// ctx, then the report, then STOPPED.
func (e *Engine) finish(ctx context.Context, runErr error) {
	e.mu.Lock()
	e.state.State = StateStopping
	e.err = runErr
	e.mu.Unlock()

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.FinalFlushTimeout)
	e.checkpoint(flushCtx, "final")
	cancel()

	e.mu.Lock()
	if !e.state.StartedAt.IsZero() {
		e.finishedAt = e.clock.Now()
	}
	e.mu.Unlock()

	stats := e.Stats()
	Report(e.logger, stats)

	evt := progress.Event{
		Stage: progress.StageRunDone,
		Total: int64(stats.Records),
		Dur:   stats.Elapsed,
	}
	if runErr != nil {
		evt.Stage = progress.StageRunError
		evt.Note = runErr.Error()
	}
	if evt.Dur < 0 {
		evt.Dur = 0
	}
	e.emit(evt)

	e.mu.Lock()
	e.state.State = StateStopped
	e.mu.Unlock()
	close(e.doneCh)
}

func (e *Engine) emit(evt progress.Event) {
	if e.emitter == nil {
		return
	}
	evt.RunID = progress.UUIDToBytes(e.runID)
	evt.TS = e.clock.Now()
	e.emitter.Emit(evt)
}
