package lsmkv

import "sync/atomic"

// StorageSet is an ordered, immutable-once-published list of sorted
// runs, newest first, per spec.md §4.4. Runs own file handles shared by
// every reader; a StorageSet reference-counts readers so Release closes
// nothing while any scan iterator still references it (spec.md §9's
// "iterator lifetime vs file closure" design note).
type StorageSet struct {
	runs     []*SortedRun // newest first
	refcount atomic.Int32
}

// NewStorageSet wraps runs (already ordered newest-first) with an initial
// reference owned by the caller (typically the engine state that holds
// it). Every run is individually retained, since a single SortedRun can
// be shared across several successive StorageSet generations (a flush
// only prepends a run; it never invalidates the ones already there).
func NewStorageSet(runs []*SortedRun) *StorageSet {
	for _, r := range runs {
		r.retain()
	}
	s := &StorageSet{runs: runs}
	s.refcount.Store(1)
	return s
}

// LoadStorageSet enumerates dataDir and returns a StorageSet ordered
// newest-first (spec.md §4.4: "load, sorted by generation, opened
// read-only").
func LoadStorageSet(dataDir string) (*StorageSet, error) {
	runs, err := ListSortedRuns(dataDir) // ascending by generation
	if err != nil {
		return nil, err
	}
	newestFirst := make([]*SortedRun, len(runs))
	for i, r := range runs {
		newestFirst[len(runs)-1-i] = r
	}
	return NewStorageSet(newestFirst), nil
}

// Retain adds a reference, e.g. for a scan iterator snapshotting this set
// at construction time.
func (s *StorageSet) Retain() {
	s.refcount.Add(1)
}

// Release drops a reference. Once the count reaches zero every run in
// this set releases its own share; a run still held by a newer
// StorageSet (the common flush case, where old runs carry over
// unchanged) stays open, while a run a compaction has marked superseded
// is actually closed and deleted once this was its last holder.
func (s *StorageSet) Release() {
	if s.refcount.Add(-1) == 0 {
		for _, r := range s.runs {
			_ = r.release()
		}
	}
}

// Runs returns the newest-first run list. Callers must not mutate it.
func (s *StorageSet) Runs() []*SortedRun {
	return s.runs
}

// Get probes runs newest-first and returns the first hit, tombstone
// included — point lookups must see the raw result so a tombstone
// correctly masks an older value in a lower-priority run (spec.md §4.4,
// §4.7).
func (s *StorageSet) Get(key []byte) (Entry, bool) {
	for _, r := range s.runs {
		if e, ok := r.Lookup(key); ok {
			return e, true
		}
	}
	return Entry{}, false
}

// Iterate returns one scan iterator per run, newest first — order
// matters to the merge iterator's tie-break-by-priority rule (spec.md
// §4.4, §4.5).
func (s *StorageSet) Iterate(from, to []byte) []iterator {
	iters := make([]iterator, len(s.runs))
	for i, r := range s.runs {
		iters[i] = r.Scan(from, to)
	}
	return iters
}

// IsCompacted reports whether the set has at most one run (spec.md §4.4).
func (s *StorageSet) IsCompacted() bool {
	return len(s.runs) <= 1
}

// Len returns the number of runs currently in the set.
func (s *StorageSet) Len() int {
	return len(s.runs)
}
