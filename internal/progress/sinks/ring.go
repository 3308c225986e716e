package sinks

import (
	"context"
	"sync"

	"github.com/JakeFAU/feedharvest/internal/progress"
)

// DefaultRingSize bounds the events a RingSink keeps.
const DefaultRingSize = 512

// RingSink keeps the most recent progress events in memory for the admin API.
type RingSink struct {
	mu     sync.RWMutex
	buf    []progress.Event
	next   int
	filled bool
}

// NewRingSink returns a sink retaining up to size events.
func NewRingSink(size int) *RingSink {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &RingSink{buf: make([]progress.Event, size)}
}

// Consume appends the batch, overwriting the oldest events once full.
func (s *RingSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		s.buf[s.next] = evt
		s.next++
		if s.next == len(s.buf) {
			s.next = 0
			s.filled = true
		}
	}
	return nil
}

// Recent returns events newest first, skipping offset and returning at most
// limit of them.
func (s *RingSink) Recent(limit, offset int) []progress.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := s.next
	if s.filled {
		n = len(s.buf)
	}
	if offset >= n || limit <= 0 {
		return []progress.Event{}
	}
	count := min(limit, n-offset)
	out := make([]progress.Event, 0, count)
	for i := 0; i < count; i++ {
		idx := (s.next - 1 - offset - i + 2*len(s.buf)) % len(s.buf)
		out = append(out, s.buf[idx])
	}
	return out
}

// Close implements the Sink interface; it performs no action.
func (s *RingSink) Close(context.Context) error {
	return nil
}
