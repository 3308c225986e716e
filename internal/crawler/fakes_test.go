package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// fakeSurface serves a fixed set of attached items and attaches the next page
// of items on every scroll.
type fakeSurface struct {
	mu          sync.Mutex
	attached    []Item
	pages       [][]Item
	processed   map[string]bool
	scrolls     []int
	itemsCalls  int
	itemsErr    error
	itemsPanics int
	scrollErr   error
	markPanic   string
}

func newFakeSurface(initial []Item, pages ...[]Item) *fakeSurface {
	return &fakeSurface{
		attached:  append([]Item(nil), initial...),
		pages:     pages,
		processed: make(map[string]bool),
	}
}

func (s *fakeSurface) Items(context.Context) ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.itemsCalls++
	if s.itemsPanics > 0 { // panic on the next N calls
		s.itemsPanics--
		panic("querySelectorAll blew up")
	}
	if s.itemsErr != nil {
		return nil, s.itemsErr
	}
	out := make([]Item, 0, len(s.attached))
	for _, item := range s.attached {
		item.Processed = s.processed[item.ID]
		out = append(out, item)
	}
	return out, nil
}

func (s *fakeSurface) MarkProcessed(_ context.Context, id string) error {
	if id == s.markPanic {
		panic("detached node")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed[id] = true
	return nil
}

func (s *fakeSurface) ScrollBy(_ context.Context, distance int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scrollErr != nil {
		return s.scrollErr
	}
	s.scrolls = append(s.scrolls, distance)
	if len(s.pages) > 0 {
		s.attached = append(s.attached, s.pages[0]...)
		s.pages = s.pages[1:]
	}
	return nil
}

func (s *fakeSurface) setText(id, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.attached {
		if s.attached[i].ID == id {
			s.attached[i].HasText = true
			s.attached[i].Text = text
		}
	}
}

func (s *fakeSurface) isProcessed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processed[id]
}

func (s *fakeSurface) scrollCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.scrolls)
}

// fakeExpander returns canned texts per permalink and records every call.
type fakeExpander struct {
	mu    sync.Mutex
	texts map[string]string
	calls []string
	err   error
	block bool
	panic bool
}

func (f *fakeExpander) Expand(ctx context.Context, permalink string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, permalink)
	block, doPanic, err := f.block, f.panic, f.err
	text, ok := f.texts[permalink]
	f.mu.Unlock()
	if doPanic {
		panic("expander exploded")
	}
	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotAvailable
	}
	return text, nil
}

func (f *fakeExpander) callCount(permalink string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == permalink {
			n++
		}
	}
	return n
}

// recordingSink captures checkpoints in memory.
type recordingSink struct {
	mu    sync.Mutex
	name  string
	saved []Checkpoint
	err   error
}

func (s *recordingSink) Name() string {
	if s.name == "" {
		return "recording"
	}
	return s.name
}

func (s *recordingSink) Save(_ context.Context, cp Checkpoint) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.saved = append(s.saved, cp)
	return "memory://" + cp.Name, nil
}

func (s *recordingSink) Saved() []Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Checkpoint(nil), s.saved...)
}

// stepClock advances by step on every read.
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newStepClock(step time.Duration) *stepClock {
	return &stepClock{now: time.Date(2024, 3, 5, 7, 8, 9, 0, time.UTC), step: step}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

type fakeBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	err     error
}

func (f *fakeBlobStore) PutObject(_ context.Context, path, contentType string, data io.Reader) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = make(map[string][]byte)
		f.types = make(map[string]string)
	}
	f.objects[path] = body
	f.types[path] = contentType
	return "blob://" + path, nil
}

var errBoom = errors.New("boom")

func post(id, permalink, timestamp, text string) Item {
	return Item{
		ID:        id,
		HasText:   text != "",
		Text:      text,
		Permalink: permalink,
		Timestamp: timestamp,
	}
}

func truncatedPost(id, permalink, timestamp, text string) Item {
	item := post(id, permalink, timestamp, text)
	item.Truncated = true
	return item
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.User = "alice"
	cfg.DelayMin = 0
	cfg.DelayMax = 0
	cfg.ExpansionTimeout = time.Second
	cfg.FinalFlushTimeout = time.Second
	return cfg
}
