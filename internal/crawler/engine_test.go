package crawler

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/feedharvest/internal/progress"
)

type engineHarness struct {
	engine  *Engine
	surface *fakeSurface
	expand  *fakeExpander
	sink    *recordingSink
	events  *eventRecorder
}

func newHarness(t *testing.T, cfg Config, surface *fakeSurface) *engineHarness {
	t.Helper()
	h := &engineHarness{
		surface: surface,
		expand:  &fakeExpander{texts: map[string]string{}},
		sink:    &recordingSink{},
		events:  &eventRecorder{},
	}
	clock := newStepClock(10 * time.Millisecond)
	cp := NewCheckpointer(CheckpointerOptions{
		Prefix: cfg.Prefix,
		User:   cfg.User,
		Sinks:  []NamedSink{h.sink},
		Clock:  clock,
	})
	engine, err := NewEngine(cfg, Deps{
		Surface:      surface,
		Expander:     h.expand,
		Checkpointer: cp,
		Clock:        clock,
		Rand:         NewRand(42),
		Emitter:      h.events,
	})
	require.NoError(t, err)
	h.engine = engine
	return h
}

// collect runs one pass and returns the number of new records.
func (h *engineHarness) collect() int {
	added, _ := h.engine.collect(context.Background())
	return added
}

type eventRecorder struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *eventRecorder) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *eventRecorder) stages() []progress.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Stage, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.Stage)
	}
	return out
}

func keys(records []Record) []string {
	out := make([]string, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.IdentityKey)
	}
	return out
}

func TestCollectThreePlainItems(t *testing.T) {
	t.Parallel()

	surface := newFakeSurface([]Item{
		post("1", "A", "t1", "first"),
		post("2", "B", "t2", "second"),
		post("3", "C", "t3", "third"),
	})
	h := newHarness(t, testConfig(), surface)

	added := h.collect()
	require.Equal(t, 3, added)

	records := h.engine.Records()
	require.Equal(t, []string{"A_t1", "B_t2", "C_t3"}, keys(records))
	for _, rec := range records {
		assert.False(t, rec.IsExpanded)
		assert.NotEmpty(t, rec.CollectedAt)
	}
	assert.True(t, surface.isProcessed("1"))
	assert.Empty(t, h.expand.calls)
}

func TestCollectSkipsProcessedAndDeduplicates(t *testing.T) {
	t.Parallel()

	surface := newFakeSurface([]Item{
		post("1", "A", "t1", "first"),
		post("2", "A", "t1", "same post rendered twice"),
	})
	h := newHarness(t, testConfig(), surface)

	require.Equal(t, 1, h.collect())
	require.Equal(t, 0, h.collect())
	require.Equal(t, 1, h.engine.index.Len())

	assert.Equal(t, "first", h.engine.Records()[0].Text)
}

func TestCollectLeavesTextlessItemsForLaterPass(t *testing.T) {
	t.Parallel()

	surface := newFakeSurface([]Item{post("1", "A", "t1", "")})
	h := newHarness(t, testConfig(), surface)

	require.Equal(t, 0, h.collect())
	assert.False(t, surface.isProcessed("1"))

	surface.setText("1", "rendered late")
	require.Equal(t, 1, h.collect())
	assert.True(t, surface.isProcessed("1"))
}

func TestCollectAdoptsLongerExpansion(t *testing.T) {
	t.Parallel()

	full := "a much longer body of text that was hidden behind show more"
	surface := newFakeSurface([]Item{truncatedPost("1", "A", "t1", "a much longer…")})
	h := newHarness(t, testConfig(), surface)
	h.expand.texts["A"] = full

	require.Equal(t, 1, h.collect())
	rec, ok := recordByKey(h.engine, "A_t1")
	require.True(t, ok)
	assert.True(t, rec.IsExpanded)
	assert.Equal(t, full, rec.Text)
	assert.Equal(t, textLength(full), rec.TextLength)
	assert.Equal(t, 1, h.expand.callCount("A"))
	assert.Equal(t, 1, h.engine.extractor.visited.len())
	assert.Equal(t, 1, h.engine.Stats().ExpansionsAdopted)
}

func TestCollectKeepsTruncatedTextOnTimeout(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.ExpansionTimeout = 20 * time.Millisecond
	surface := newFakeSurface([]Item{truncatedPost("1", "A", "t1", "short")})
	h := newHarness(t, cfg, surface)
	h.expand.block = true

	require.Equal(t, 1, h.collect())
	rec, ok := recordByKey(h.engine, "A_t1")
	require.True(t, ok)
	assert.True(t, rec.IsExpanded)
	assert.Equal(t, "short", rec.Text)

	// The same permalink resurfacing under a different timestamp is not retried.
	surface.attached = append(surface.attached, truncatedPost("2", "A", "t2", "short"))
	require.Equal(t, 1, h.collect())
	assert.Equal(t, 1, h.expand.callCount("A"))
	assert.Equal(t, 1, h.engine.Stats().ExpansionAttempts)
}

func TestCollectNeverShrinksText(t *testing.T) {
	t.Parallel()

	surface := newFakeSurface([]Item{truncatedPost("1", "A", "t1", "the truncated text")})
	h := newHarness(t, testConfig(), surface)
	h.expand.texts["A"] = "shorter"

	require.Equal(t, 1, h.collect())
	rec, _ := recordByKey(h.engine, "A_t1")
	assert.Equal(t, "the truncated text", rec.Text)
	assert.True(t, rec.IsExpanded)
}

func TestCollectSurvivesPanickingItem(t *testing.T) {
	t.Parallel()

	surface := newFakeSurface([]Item{
		post("1", "A", "t1", "fine"),
		post("boom", "B", "t2", "explodes"),
		post("3", "C", "t3", "also fine"),
	})
	surface.markPanic = "boom"
	h := newHarness(t, testConfig(), surface)

	require.Equal(t, 2, h.collect())
	assert.Equal(t, []string{"A_t1", "C_t3"}, keys(h.engine.Records()))
}

func TestCollectEnumerationFailureYieldsZero(t *testing.T) {
	t.Parallel()

	surface := newFakeSurface(nil)
	surface.itemsErr = errBoom
	h := newHarness(t, testConfig(), surface)

	added, scanned := h.engine.collect(context.Background())
	assert.Zero(t, added)
	assert.False(t, scanned)
}

func TestRunContinuesAfterEnumerationPanic(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MaxUnchangedScrolls = 2
	surface := newFakeSurface([]Item{post("1", "A", "t1", "first")})
	surface.itemsPanics = 1
	h := newHarness(t, cfg, surface)

	require.NoError(t, h.engine.Run(context.Background()))
	assert.Equal(t, StateStopped, h.engine.State())
	assert.Equal(t, []string{"A_t1"}, keys(h.engine.Records()))
	assert.Greater(t, surface.itemsCalls, 1)
	assert.NotContains(t, h.events.stages(), progress.StageRunError)
}

func TestTickDroppedWhilePassInFlight(t *testing.T) {
	t.Parallel()

	surface := newFakeSurface([]Item{post("1", "A", "t1", "text")})
	h := newHarness(t, testConfig(), surface)
	h.engine.passing.Store(true)
	before := passesWithResult(t, "skipped")

	stop, err := h.engine.tick(context.Background())
	require.NoError(t, err)
	assert.False(t, stop)
	assert.Equal(t, 0, surface.itemsCalls)
	assert.Equal(t, 0, h.engine.Status().Crawl.Passes)
	assert.GreaterOrEqual(t, passesWithResult(t, "skipped"), before+1)
}

func passesWithResult(t *testing.T, result string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "harvest_passes_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "result" && lp.GetValue() == result {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestRunTerminatesAfterUnchangedPasses(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MaxUnchangedScrolls = 3
	surface := newFakeSurface([]Item{
		post("1", "A", "t1", "first"),
		post("2", "B", "t2", "second"),
		post("3", "C", "t3", "third"),
	})
	h := newHarness(t, cfg, surface)

	require.NoError(t, h.engine.Run(context.Background()))
	require.Equal(t, StateStopped, h.engine.State())

	status := h.engine.Status()
	assert.Equal(t, 4, status.Crawl.Passes)
	assert.Equal(t, 3, status.Crawl.ConsecutiveEmptyPasses)
	assert.Equal(t, 3, status.Crawl.TotalPassesWithoutNewRecords)
	assert.Equal(t, 3, surface.scrollCount())

	saved := h.sink.Saved()
	require.Len(t, saved, 1)
	var decoded []Record
	require.NoError(t, json.Unmarshal(saved[0].Payload, &decoded))
	assert.Equal(t, []string{"A_t1", "B_t2", "C_t3"}, keys(decoded))

	stages := h.events.stages()
	require.NotEmpty(t, stages)
	assert.Equal(t, progress.StageRunStart, stages[0])
	assert.Equal(t, progress.StageRunDone, stages[len(stages)-1])
}

func TestRunCheckpointsWhenCrossingInterval(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.CheckpointInterval = 2
	cfg.MaxUnchangedScrolls = 2
	surface := newFakeSurface(
		[]Item{post("1", "A", "t1", "one")},
		[]Item{post("2", "B", "t2", "two")},
		[]Item{post("3", "C", "t3", "three")},
		[]Item{post("4", "D", "t4", "four")},
		[]Item{post("5", "E", "t5", "five")},
	)
	h := newHarness(t, cfg, surface)

	require.NoError(t, h.engine.Run(context.Background()))

	saved := h.sink.Saved()
	require.Len(t, saved, 3)
	assert.Len(t, saved[0].Records, 2)
	assert.Len(t, saved[1].Records, 4)
	assert.Len(t, saved[2].Records, 5)
	assert.Less(t, saved[0].Name, saved[1].Name)
	assert.Less(t, saved[1].Name, saved[2].Name)
	assert.Equal(t, 3, h.engine.Stats().Checkpoints)
}

func TestRunScrollFailureIsFatal(t *testing.T) {
	t.Parallel()

	surface := newFakeSurface([]Item{post("1", "A", "t1", "only")})
	surface.scrollErr = errBoom
	h := newHarness(t, testConfig(), surface)

	err := h.engine.Run(context.Background())
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, StateStopped, h.engine.State())
	require.Len(t, h.sink.Saved(), 1)

	stages := h.events.stages()
	assert.Equal(t, progress.StageRunError, stages[len(stages)-1])
}

func TestStopBeforeStartReportsEmptyRun(t *testing.T) {
	t.Parallel()

	surface := newFakeSurface([]Item{post("1", "A", "t1", "never seen")})
	h := newHarness(t, testConfig(), surface)

	require.NoError(t, h.engine.Stop(context.Background()))
	assert.Equal(t, StateStopped, h.engine.State())
	assert.Empty(t, h.sink.Saved())

	stats := h.engine.Stats()
	assert.Equal(t, 0, stats.Records)
	assert.Zero(t, stats.RecordsPerSecond)
	assert.Equal(t, 0, surface.itemsCalls)

	require.ErrorIs(t, h.engine.Start(context.Background()), ErrEngineStopped)
}

func TestStartTwiceIsHarmless(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.DelayMin = time.Hour
	cfg.DelayMax = time.Hour
	surface := newFakeSurface([]Item{post("1", "A", "t1", "one")})
	h := newHarness(t, cfg, surface)

	require.NoError(t, h.engine.Start(context.Background()))
	require.NoError(t, h.engine.Start(context.Background()))
	require.Eventually(t, func() bool {
		return h.engine.Status().Crawl.Passes == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, h.engine.Stop(context.Background()))
	assert.Equal(t, StateStopped, h.engine.State())
	assert.Equal(t, 1, h.engine.Status().Crawl.Passes)
	require.Len(t, h.sink.Saved(), 1)
}

func TestRunContextCancelStillFlushes(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.DelayMin = time.Hour
	cfg.DelayMax = time.Hour
	surface := newFakeSurface([]Item{post("1", "A", "t1", "one"), post("2", "B", "t2", "two")})
	h := newHarness(t, cfg, surface)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.engine.Run(ctx) }()

	require.Eventually(t, func() bool {
		return h.engine.Status().Crawl.Passes == 1
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop after cancel")
	}
	require.Len(t, h.sink.Saved(), 1)
	assert.Len(t, h.sink.Saved()[0].Records, 2)
}

func TestIndexSizeNeverDecreases(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MaxUnchangedScrolls = 2
	surface := newFakeSurface(
		[]Item{post("1", "A", "t1", "one"), post("2", "A", "t1", "dup")},
		[]Item{post("3", "B", "t2", "two"), post("4", "", "t3", "no permalink")},
		[]Item{post("5", "", "t3", "no permalink")},
	)
	h := newHarness(t, cfg, surface)

	prev := 0
	for i := 0; i < 6; i++ {
		_, err := h.engine.tick(context.Background())
		require.NoError(t, err)
		size := h.engine.index.Len()
		require.GreaterOrEqual(t, size, prev)
		prev = size
	}
	assert.Equal(t, []string{"A_t1", "B_t2", "t3_no permalink"}, keys(h.engine.Records()))
}

func TestNewEngineValidates(t *testing.T) {
	t.Parallel()

	_, err := NewEngine(testConfig(), Deps{})
	require.Error(t, err)

	cfg := testConfig()
	cfg.MaxUnchangedScrolls = 0
	_, err = NewEngine(cfg, Deps{Surface: newFakeSurface(nil)})
	require.Error(t, err)
}

// recordByKey looks up a stored record through the engine's public record set.
func recordByKey(e *Engine, key string) (Record, bool) {
	for _, rec := range e.Records() {
		if rec.IdentityKey == key {
			return rec, true
		}
	}
	return Record{}, false
}
