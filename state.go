package lsmkv

// engineState is the immutable snapshot {active, flushing, storage,
// closed} from spec.md §3/§9. Transitions never mutate a state in place;
// they build a new state and the engine swaps it in via
// atomic.Pointer[engineState], so concurrent readers always see a fully
// constructed snapshot.
type engineState struct {
	active   *MemTable
	flushing *MemTable // emptySentinel when no flush is in progress
	storage  *StorageSet
	closed   bool
}

// isFlushing reports whether a flush is currently in progress.
func (s *engineState) isFlushing() bool {
	return s.flushing != emptySentinel
}

// freeze returns the next state after freezing the active memtable into
// the flushing slot and installing a fresh empty active memtable.
// Invariant (spec.md §4.7): must not already be flushing.
func (s *engineState) freeze(maxSize int64) (*engineState, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if s.isFlushing() {
		return nil, ErrAlreadyFlushing
	}
	return &engineState{
		active:   NewMemTable(maxSize),
		flushing: s.active,
		storage:  s.storage,
		closed:   false,
	}, nil
}

// installFlushed returns the next state after a flush has durably
// written newStorage (which already includes the new run) and the
// flushing slot reverts to the empty sentinel.
func (s *engineState) installFlushed(newStorage *StorageSet) *engineState {
	return &engineState{
		active:   s.active,
		flushing: emptySentinel,
		storage:  newStorage,
		closed:   s.closed,
	}
}

// installCompacted returns the next state after compaction replaces the
// storage set. The memtables are untouched — compaction never touches
// the active memtable (spec.md §4.7).
func (s *engineState) installCompacted(newStorage *StorageSet) *engineState {
	return &engineState{
		active:   s.active,
		flushing: s.flushing,
		storage:  newStorage,
		closed:   s.closed,
	}
}

// markClosed returns the next state with closed set. Once true it never
// returns to false (spec.md §3).
func (s *engineState) markClosed() *engineState {
	return &engineState{
		active:   s.active,
		flushing: s.flushing,
		storage:  s.storage,
		closed:   true,
	}
}
