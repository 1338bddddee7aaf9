package lsmkv

import "container/heap"

// mergeHeapItem is one source stream's current head, tagged with its
// priority (lower index = newer = wins on key conflicts).
type mergeHeapItem struct {
	key      []byte
	priority int
	source   iterator
}

// mergeHeap orders by (key, priority) ascending, so the smallest key wins
// and, among equal keys, the lowest (newest) priority wins — exactly
// spec.md §4.5's tie-break rule.
type mergeHeap []*mergeHeapItem

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	if c := compareKeys(h[i].key, h[j].key); c != 0 {
		return c < 0
	}
	return h[i].priority < h[j].priority
}
func (h mergeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any)        { *h = append(*h, x.(*mergeHeapItem)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// MergeIterator performs a k-way priority-queue merge over sources
// tagged by priority (lower index = newer). For each distinct key, only
// the entry from the highest-priority source is emitted; entries from
// lower-priority sources at the same key are skipped. Per element cost is
// O(log K), per spec.md §4.5/§9.
//
// Tombstones are preserved by this iterator; wrap with
// newTombstoneFilter for a "live" view.
type MergeIterator struct {
	h       mergeHeap
	current Entry
	hasCur  bool
}

// NewMergeIterator builds a merge iterator over sources, where sources[0]
// is the highest-priority (newest) stream. Sources are consumed lazily.
func NewMergeIterator(sources []iterator) *MergeIterator {
	m := &MergeIterator{}
	for priority, src := range sources {
		if e, ok := src.Peek(); ok {
			heap.Push(&m.h, &mergeHeapItem{key: e.Key, priority: priority, source: src})
		}
	}
	heap.Init(&m.h)
	return m
}

func (m *MergeIterator) Peek() (Entry, bool) {
	if m.hasCur {
		return m.current, true
	}
	if m.h.Len() == 0 {
		return Entry{}, false
	}

	top := m.h[0]
	e, ok := top.source.Peek()
	if !ok {
		// Source was exhausted between pushes; drop it and retry.
		heap.Pop(&m.h)
		return m.Peek()
	}

	m.current = e
	m.hasCur = true
	return e, true
}

func (m *MergeIterator) Advance() {
	if !m.hasCur {
		if _, ok := m.Peek(); !ok {
			return
		}
	}

	winningKey := m.current.Key

	// Advance the winning (highest-priority, i.e. heap-top) source, and
	// drop any other source currently sitting at the same key: those
	// entries are shadowed and must never be emitted (spec.md §4.5).
	for m.h.Len() > 0 {
		top := m.h[0]
		e, ok := top.source.Peek()
		if !ok {
			heap.Pop(&m.h)
			continue
		}
		if compareKeys(e.Key, winningKey) != 0 {
			break
		}
		top.source.Advance()
		heap.Pop(&m.h)
		if next, ok := top.source.Peek(); ok {
			heap.Push(&m.h, &mergeHeapItem{key: next.Key, priority: top.priority, source: top.source})
		}
	}

	m.hasCur = false
}
