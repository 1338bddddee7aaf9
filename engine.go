package lsmkv

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Engine is the public embedded storage engine facade, grounded on
// pkg/lsm.LSMStorage's method set (Get/Put/Delete/Flush/Compact/Close)
// but restructured around spec.md §5's inverted lock discipline instead
// of the teacher's conventional sync.RWMutex usage:
//
//   - Upsert acquires coordMu in SHARED mode: the memtable it writes into
//     is already safe for unlimited concurrent writers (MemTable wraps a
//     sync.Map), so many upserts run genuinely in parallel. The shared
//     lock exists only to block a concurrent state transition from
//     freezing "active" out from under an upsert that already read the
//     state snapshot.
//   - freeze/installFlushed/installCompacted/markClosed acquire coordMu
//     in EXCLUSIVE mode, for the instant of publishing a new state. This
//     is the reverse of how the teacher uses its RWMutex (shared for
//     reads, exclusive for writes); here the "writes" are the rare
//     structural transitions, not the frequent data mutations.
type Engine struct {
	cfg     Config
	dataDir string

	coordMu sync.RWMutex
	state   atomic.Pointer[engineState]

	nextGen atomic.Uint64
	bg      *backgroundExecutor

	logger  Logger
	metrics *Registry

	closeOnce sync.Once
}

// Open loads (or initializes) the engine rooted at cfg.DataDir, per
// spec.md §6's open(config) -> engine. Existing run_<gen>.data files are
// discovered by directory listing alone; there is no manifest.
func Open(cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validateConfig(); err != nil {
		return nil, err
	}

	if err := ensureDir(cfg.DataDir); err != nil {
		return nil, err
	}

	storage, err := LoadStorageSet(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:     cfg,
		dataDir: cfg.DataDir,
		bg:      newBackgroundExecutor(cfg.BackgroundQueueDepth),
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
	e.nextGen.Store(nextGeneration(storage))
	e.state.Store(&engineState{
		active:   NewMemTable(cfg.FlushThresholdBytes),
		flushing: emptySentinel,
		storage:  storage,
	})

	e.logger.Info("engine opened", String("data_dir", cfg.DataDir), Int("runs", storage.Len()))
	return e, nil
}

func nextGeneration(storage *StorageSet) uint64 {
	var max uint64
	first := true
	for _, r := range storage.Runs() {
		if first || r.Generation() > max {
			max = r.Generation()
			first = false
		}
	}
	if first {
		return 0
	}
	return max + 1
}

func (e *Engine) loadState() *engineState {
	return e.state.Load()
}

func (e *Engine) publish(st *engineState) {
	e.state.Store(st)
}

// Get consults the active memtable, then the flushing memtable (if a
// flush is in progress), then each sorted run newest-first, per spec.md
// §4.7. Tombstones are never surfaced; a tombstone hit at any layer means
// the key is absent.
func (e *Engine) Get(key []byte) ([]byte, bool, error) {
	e.coordMu.RLock()
	defer e.coordMu.RUnlock()

	st := e.loadState()
	if st.closed {
		return nil, false, ErrClosed
	}

	e.metrics.GetsTotal.Inc()

	if entry, ok := st.active.Get(key); ok {
		return liveValue(entry)
	}
	if st.isFlushing() {
		if entry, ok := st.flushing.Get(key); ok {
			return liveValue(entry)
		}
	}
	if entry, ok := st.storage.Get(key); ok {
		return liveValue(entry)
	}
	return nil, false, nil
}

func liveValue(e Entry) ([]byte, bool, error) {
	if e.Tombstone {
		return nil, false, nil
	}
	return e.Value, true, nil
}

// Scanner iterates a snapshot of live entries in ascending key order,
// per spec.md §4.7's "iterator reflects the state snapshot at the
// moment of the call". Callers must call Close when done so the
// underlying sorted-run files can be released.
type Scanner struct {
	it      iterator
	storage *StorageSet
	metrics *Registry
	closed  bool
}

// Next returns the next live entry, or ok == false once exhausted.
func (s *Scanner) Next() (Entry, bool) {
	e, ok := s.it.Peek()
	if ok {
		s.it.Advance()
		s.metrics.ScanEntries.Inc()
	}
	return e, ok
}

// Close releases this scan's hold on the sorted runs it snapshotted.
func (s *Scanner) Close() error {
	if !s.closed {
		s.storage.Release()
		s.closed = true
	}
	return nil
}

// Scan assembles a merge-then-tombstone-filter iterator over the active
// memtable range, the flushing memtable range, and every sorted run, all
// captured from one state snapshot, per spec.md §4.5/§4.6/§4.7. A nil to
// scans to the end; from == to yields an empty scan.
func (e *Engine) Scan(from, to []byte) (*Scanner, error) {
	if to != nil && compareKeys(from, to) > 0 {
		return nil, ErrInvalidRange
	}

	e.coordMu.RLock()
	defer e.coordMu.RUnlock()

	st := e.loadState()
	if st.closed {
		return nil, ErrClosed
	}

	st.storage.Retain()

	sources := []iterator{st.active.Scan(from, to)}
	if st.isFlushing() {
		sources = append(sources, st.flushing.Scan(from, to))
	}
	sources = append(sources, st.storage.Iterate(from, to)...)

	merged := NewMergeIterator(sources)
	filtered := newTombstoneFilter(merged)

	return &Scanner{it: filtered, storage: st.storage, metrics: e.metrics}, nil
}

// Upsert stores value for key, replacing any prior value. The empty key
// is reserved as the open scan lower bound and is rejected here (spec.md
// §9 Open Question, resolved in SPEC_FULL.md §5).
func (e *Engine) Upsert(key, value []byte) error {
	return e.upsertEntry(newValueEntry(key, value))
}

// Delete writes a tombstone for key, masking any prior value across all
// stores until a later Upsert overwrites it.
func (e *Engine) Delete(key []byte) error {
	return e.upsertEntry(newTombstoneEntry(key))
}

func (e *Engine) upsertEntry(entry Entry) error {
	if isEmptyKey(entry.Key) {
		return ErrEmptyKey
	}

	e.coordMu.RLock()
	st := e.loadState()
	if st.closed {
		e.coordMu.RUnlock()
		return ErrClosed
	}

	overflowed, err := st.active.Put(entry.Key, entry)
	e.coordMu.RUnlock()
	if err != nil {
		return err
	}

	e.metrics.UpsertsTotal.Inc()
	e.metrics.MemtableBytes.Set(float64(st.active.Size()))

	if overflowed {
		if err := e.bg.triggerAsyncFlush(e.doFlush, e.onBackgroundError); err != nil {
			e.metrics.TooManyFlushes.Inc()
			return err
		}
	}
	return nil
}

func (e *Engine) onBackgroundError(err error) {
	e.logger.Error("background flush failed", ErrField(err))
}

// Flush forces the active memtable to a durable run regardless of its
// size, per spec.md §4.7. It is synchronous: it returns only after the
// new run is installed. A concurrent in-progress flush (overflow- or
// Flush-triggered) is awaited rather than duplicated.
func (e *Engine) Flush() error {
	return e.bg.runFlush(e.doFlush)
}

// doFlush performs one freeze-write-install cycle. It is the function
// both the overflow back-pressure path and the explicit Flush() path
// hand to the background executor, so singleflight collapses concurrent
// callers onto the same execution.
func (e *Engine) doFlush() error {
	e.coordMu.Lock()
	st := e.loadState()
	if st.closed {
		e.coordMu.Unlock()
		return ErrClosed
	}
	if st.active.Empty() {
		e.coordMu.Unlock()
		return nil
	}
	frozen, err := st.freeze(e.cfg.FlushThresholdBytes)
	if err != nil {
		e.coordMu.Unlock()
		return err
	}
	e.publish(frozen)
	e.coordMu.Unlock()

	start := time.Now()
	gen := e.nextGen.Add(1) - 1
	entries := frozen.flushing.Values()

	run, err := WriteSortedRun(e.dataDir, gen, newSliceIterator(entries), e.cfg)
	if err != nil {
		e.logger.Error("flush write failed", ErrField(err), Uint64Field("generation", gen))
		return err
	}
	e.metrics.BytesWritten.Add(float64(sumEncodedSize(entries)))

	e.coordMu.Lock()
	cur := e.loadState()
	if cur.closed {
		e.coordMu.Unlock()
		// The run is durable on disk; a future Open will discover it via
		// directory listing even though this Engine instance is done.
		return ErrClosed
	}
	newRuns := make([]*SortedRun, 0, len(cur.storage.Runs())+1)
	newRuns = append(newRuns, run)
	newRuns = append(newRuns, cur.storage.Runs()...)
	newStorage := NewStorageSet(newRuns)
	oldStorage := cur.storage
	installed := cur.installFlushed(newStorage)
	e.publish(installed)
	e.coordMu.Unlock()

	oldStorage.Release()

	e.metrics.FlushesTotal.Inc()
	e.metrics.ActiveRunCount.Set(float64(newStorage.Len()))
	observeDuration(e.metrics.FlushDuration, start)
	e.logger.Info("flush complete", Uint64Field("generation", gen), Int("entries", len(entries)), Duration("elapsed", time.Since(start)))
	return nil
}

func sumEncodedSize(entries []Entry) int {
	total := 0
	for _, e := range entries {
		total += e.encodedSize()
	}
	return total
}

// Compact is synchronous. If the storage set already has at most one run
// and the active memtable is empty, it is a no-op. Otherwise it merges
// every current run (newest-wins, tombstones dropped) into a single new
// run and installs it, per spec.md §4.7. The active memtable is never
// touched by compaction.
func (e *Engine) Compact() error {
	return e.bg.runCompact(e.doCompact)
}

func (e *Engine) doCompact() error {
	e.coordMu.RLock()
	st := e.loadState()
	if st.closed {
		e.coordMu.RUnlock()
		return ErrClosed
	}
	if st.storage.IsCompacted() && st.active.Empty() {
		e.coordMu.RUnlock()
		return nil
	}
	oldStorage := st.storage
	oldStorage.Retain() // hold the runs steady for the duration of the merge read
	e.coordMu.RUnlock()
	defer oldStorage.Release()

	start := time.Now()
	gen := e.nextGen.Add(1) - 1

	sources := oldStorage.Iterate(emptyKey, nil)
	merged := NewMergeIterator(sources)
	filtered := newTombstoneFilter(merged) // compaction drops tombstones for good

	run, err := WriteSortedRun(e.dataDir, gen, filtered, e.cfg)
	if err != nil {
		e.logger.Error("compaction write failed", ErrField(err), Uint64Field("generation", gen))
		return err
	}
	e.metrics.BytesWritten.Add(float64(run.entriesEnd))

	e.coordMu.Lock()
	cur := e.loadState()
	if cur.closed {
		e.coordMu.Unlock()
		return ErrClosed
	}

	// A flush may have installed a new run on top of oldStorage while this
	// compaction's merge was being written; that run was never read by
	// filtered above, so it must survive untouched (newer than, and on
	// top of, the compacted run) rather than being folded away.
	mergedGens := make(map[uint64]bool, len(oldStorage.Runs()))
	for _, r := range oldStorage.Runs() {
		r.markSuperseded()
		mergedGens[r.Generation()] = true
	}
	var newRuns []*SortedRun
	for _, r := range cur.storage.Runs() {
		if !mergedGens[r.Generation()] {
			newRuns = append(newRuns, r)
		}
	}
	newRuns = append(newRuns, run)

	newStorage := NewStorageSet(newRuns)
	replaced := cur.storage
	installed := cur.installCompacted(newStorage)
	e.publish(installed)
	e.coordMu.Unlock()

	replaced.Release()

	e.metrics.CompactionsTotal.Inc()
	e.metrics.ActiveRunCount.Set(float64(newStorage.Len()))
	observeDuration(e.metrics.CompactionDuration, start)
	e.logger.Info("compaction complete", Uint64Field("generation", gen), Duration("elapsed", time.Since(start)))
	return nil
}

// Close is idempotent: it flushes any non-empty active memtable, drains
// the background executor, and marks the engine closed, per spec.md
// §4.7. Further operations after Close return ErrClosed.
func (e *Engine) Close() error {
	var closeErr error
	e.closeOnce.Do(func() {
		st := e.loadState()
		if !st.closed && !st.active.Empty() {
			// Join any flush already in flight rather than racing it with a
			// second concurrent freeze attempt.
			if err := e.bg.runFlush(e.doFlush); err != nil {
				closeErr = fmt.Errorf("lsmkv: flush during close: %w", err)
			}
		}

		e.bg.drain()

		e.coordMu.Lock()
		final := e.loadState()
		e.publish(final.markClosed())
		e.coordMu.Unlock()

		final.storage.Release()
		e.logger.Info("engine closed")
	})
	return closeErr
}
