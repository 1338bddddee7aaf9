package lsmkv

import (
	"sort"
	"sync"
	"sync/atomic"
)

// MemTable is a concurrent sorted mapping from key to entry with atomic
// size accounting and a one-shot overflow latch, per spec.md §4.2.
//
// Point reads and writes go through a sync.Map, which gives Get wait-free
// access relative to concurrent Put calls on different keys (grounded on
// the teacher's atomic-counter-alongside-mutex split in
// pkg/lsm/lsm_types.go's LSMStats, generalized here to the data path
// itself rather than just statistics). A small mutex-guarded key list
// backs Scan/iteration, sorted lazily on demand exactly as
// pkg/lsm/memtable.go's MemTable does with its `sorted` flag — ordering
// is only needed at scan time, not on every Put.
type MemTable struct {
	data sync.Map // string(key) -> Entry

	keysMu sync.Mutex
	keys   []string
	sorted bool

	accountedSize atomic.Int64
	oversized     atomic.Bool
	maxSize       int64

	readOnly bool
}

// emptySentinel is the shared read-only empty memtable. It rejects
// mutation and always reports empty for reads, per spec.md §4.2.
var emptySentinel = &MemTable{readOnly: true, sorted: true}

// NewMemTable creates an empty, mutable memtable that latches oversized
// once accountedSize exceeds maxSize.
func NewMemTable(maxSize int64) *MemTable {
	return &MemTable{maxSize: maxSize, sorted: true}
}

// Put inserts or replaces key's entry. It returns true iff this call
// transitioned the oversized latch from false to true — the signal the
// engine facade uses to schedule exactly one background flush per
// memtable lifetime.
func (mt *MemTable) Put(key []byte, e Entry) (bool, error) {
	if mt.readOnly {
		return false, ErrReadOnlyMemtable
	}

	keyStr := string(key)
	e.Key = key

	prevAny, loaded := mt.data.Swap(keyStr, e)
	if loaded {
		prev := prevAny.(Entry)
		mt.accountedSize.Add(int64(e.encodedSize() - prev.encodedSize()))
	} else {
		mt.accountedSize.Add(int64(e.encodedSize()))
		mt.appendKey(keyStr)
	}

	return mt.maybeLatchOversized(), nil
}

// Overflow forces the oversized latch without inserting anything, per
// spec.md §4.2's "overflow() -> should_flush" used to force a flush on
// demand.
func (mt *MemTable) Overflow() (bool, error) {
	if mt.readOnly {
		return false, ErrReadOnlyMemtable
	}
	return mt.oversized.CompareAndSwap(false, true), nil
}

func (mt *MemTable) maybeLatchOversized() bool {
	if mt.oversized.Load() {
		return false
	}
	if mt.accountedSize.Load() <= mt.maxSize {
		return false
	}
	return mt.oversized.CompareAndSwap(false, true)
}

func (mt *MemTable) appendKey(keyStr string) {
	mt.keysMu.Lock()
	mt.keys = append(mt.keys, keyStr)
	mt.sorted = false
	mt.keysMu.Unlock()
}

// Get returns the entry stored for key, which may be a tombstone — point
// lookups return the raw result so a tombstone correctly masks older
// values in lower-priority stores (spec.md §4.6).
func (mt *MemTable) Get(key []byte) (Entry, bool) {
	v, ok := mt.data.Load(string(key))
	if !ok {
		return Entry{}, false
	}
	return v.(Entry), true
}

// IsOversized reports the current value of the one-shot latch.
func (mt *MemTable) IsOversized() bool {
	return mt.oversized.Load()
}

// IsReadOnly reports whether this is the shared empty sentinel.
func (mt *MemTable) IsReadOnly() bool {
	return mt.readOnly
}

// Empty reports whether the memtable holds no entries.
func (mt *MemTable) Empty() bool {
	mt.keysMu.Lock()
	defer mt.keysMu.Unlock()
	return len(mt.keys) == 0
}

// Size returns the accounted size in bytes.
func (mt *MemTable) Size() int64 {
	return mt.accountedSize.Load()
}

// sortedKeys returns the memtable's keys in ascending order, sorting
// lazily if a Put has occurred since the last sort.
func (mt *MemTable) sortedKeys() []string {
	mt.keysMu.Lock()
	defer mt.keysMu.Unlock()
	if !mt.sorted {
		sort.Strings(mt.keys)
		mt.sorted = true
	}
	// Return a copy so callers can range over it without holding the lock.
	out := make([]string, len(mt.keys))
	copy(out, mt.keys)
	return out
}

// Values returns every entry in ascending key order, tombstones included.
func (mt *MemTable) Values() []Entry {
	keys := mt.sortedKeys()
	entries := make([]Entry, 0, len(keys))
	for _, k := range keys {
		if v, ok := mt.data.Load(k); ok {
			entries = append(entries, v.(Entry))
		}
	}
	return entries
}

// Scan returns an iterator over entries with from <= key < to. A nil to
// means unbounded (scan to the end). Tombstones are included; callers
// wanting a live view wrap the result with the tombstone filter.
func (mt *MemTable) Scan(from, to []byte) iterator {
	keys := mt.sortedKeys()

	start := sort.Search(len(keys), func(i int) bool {
		return compareKeys([]byte(keys[i]), from) >= 0
	})

	entries := make([]Entry, 0)
	for i := start; i < len(keys); i++ {
		k := []byte(keys[i])
		if to != nil && compareKeys(k, to) >= 0 {
			break
		}
		if v, ok := mt.data.Load(keys[i]); ok {
			entries = append(entries, v.(Entry))
		}
	}
	return newSliceIterator(entries)
}
