package crawler

import "sync"

// Index is the ordered dedup index mapping identity keys to records.
// Insertion order is discovery order and the first write for a key wins.
// Only the collection pass writes to it; the lock lets status readers on
// other goroutines observe it safely.
type Index struct {
	mu      sync.RWMutex
	order   []string
	records map[string]Record
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{records: make(map[string]Record)}
}

// Insert stores rec under rec.IdentityKey unless the key is already present.
// It reports whether the record was inserted.
func (i *Index) Insert(rec Record) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.records[rec.IdentityKey]; ok {
		return false
	}
	i.records[rec.IdentityKey] = rec
	i.order = append(i.order, rec.IdentityKey)
	return true
}

// Len returns the number of records.
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.order)
}

// Records returns a copy of all records in discovery order.
func (i *Index) Records() []Record {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]Record, 0, len(i.order))
	for _, key := range i.order {
		out = append(out, i.records[key])
	}
	return out
}

// CountExpanded returns how many stored records were marked truncated.
func (i *Index) CountExpanded() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	n := 0
	for _, rec := range i.records {
		if rec.IsExpanded {
			n++
		}
	}
	return n
}

// visitedSet is the append-only set of permalinks an expansion was attempted
// for, whether or not it succeeded.
type visitedSet struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

func newVisitedSet() *visitedSet {
	return &visitedSet{seen: make(map[string]struct{})}
}

// add records permalink and reports whether it was new.
func (v *visitedSet) add(permalink string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.seen[permalink]; ok {
		return false
	}
	v.seen[permalink] = struct{}{}
	return true
}

func (v *visitedSet) len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.seen)
}
