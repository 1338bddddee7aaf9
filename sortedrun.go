package lsmkv

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	"github.com/google/uuid"
)

// runFileName returns the canonical name for generation gen's data file,
// per spec.md §6: "run_<gen>.data" with <gen> a zero-padded monotonic
// integer so a directory listing sorts by generation ascending.
func runFileName(gen uint64) string {
	return fmt.Sprintf("run_%020d.data", gen)
}

func bloomFileName(gen uint64) string {
	return fmt.Sprintf("run_%020d.bloom", gen)
}

// tempFileName builds a temp write target distinct from the final name,
// tagged with a uuid so concurrent flush and compaction writers never
// collide (SPEC_FULL.md §3; grounded on the teacher's uuid-tagging of
// ephemeral records).
func tempFileName(finalPath string) string {
	return finalPath + ".tmp-" + uuid.New().String()
}

// SortedRun is an immutable on-disk artifact produced by one flush or
// compaction: entries sorted by key, no duplicate keys, plus a
// binary-search index. Higher generation numbers are newer and win on
// key conflicts (spec.md §3).
type SortedRun struct {
	generation uint64
	path       string

	reader     *mmapReader
	index      []uint64 // file offsets, one per record (or one per IndexFanout-th record)
	entriesEnd uint64    // byte offset where the entries section ends (== index section start)
	bloom      *bloomFilter
	count      int // number of index entries (== entry count when IndexFanout == 1)

	refs       atomic.Int32 // number of StorageSets currently holding this run
	superseded atomic.Bool  // true once a compaction has folded this run into a newer one
}

func (r *SortedRun) Generation() uint64 { return r.generation }
func (r *SortedRun) Path() string       { return r.path }
func (r *SortedRun) EntryCount() int    { return r.count }

// Close releases this run's memory-mapped file handle unconditionally,
// bypassing refcounting. Used for direct ownership (e.g. cleaning up a
// partially loaded run list on a ListSortedRuns error).
func (r *SortedRun) Close() error {
	if r.reader == nil {
		return nil
	}
	return r.reader.Close()
}

// retain records that one more StorageSet now shares this run.
func (r *SortedRun) retain() {
	r.refs.Add(1)
}

// release drops one StorageSet's share of this run. Only once every
// sharing StorageSet has released it does it actually unmap the file; if
// a compaction has since marked it superseded, its data and bloom
// sidecar files are also removed, per spec.md §5's "released only by
// maybe_close() after a compaction replaces them and no scan iterator
// still references the old set."
func (r *SortedRun) release() error {
	if r.refs.Add(-1) > 0 {
		return nil
	}
	err := r.Close()
	if r.superseded.Load() {
		_ = os.Remove(r.path)
		_ = os.Remove(filepath.Join(filepath.Dir(r.path), bloomFileName(r.generation)))
	}
	return err
}

// markSuperseded flags this run as folded into a newer run by a
// compaction; its files are deleted once the last referencing
// StorageSet releases it.
func (r *SortedRun) markSuperseded() {
	r.superseded.Store(true)
}

// WriteSortedRun streams source to a new run file at generation gen under
// dataDir. It writes to a temp file, fsyncs, then atomically renames into
// place, per spec.md §4.3's durability requirement: a partially written
// file must never be visible under its final name. On any I/O failure
// the temp file is removed and the error is returned; no run is ever
// half-published.
func WriteSortedRun(dataDir string, gen uint64, source iterator, cfg Config) (*SortedRun, error) {
	finalPath := filepath.Join(dataDir, runFileName(gen))
	tempPath := tempFileName(finalPath)

	run, err := writeSortedRunFile(tempPath, source, cfg)
	if err != nil {
		_ = os.Remove(tempPath)
		return nil, err
	}

	if err := os.Rename(tempPath, finalPath); err != nil {
		_ = os.Remove(tempPath)
		return nil, wrapIOError("rename run", finalPath, err)
	}
	run.path = finalPath
	run.generation = gen

	if !cfg.DisableBloomSidecar && run.bloom != nil {
		if err := writeBloomSidecar(dataDir, gen, run.bloom); err != nil {
			// The sidecar is additive only (SPEC_FULL.md §3): a failure here
			// does not invalidate the run itself, only the fast-negative
			// path. The run is still durable and correct without it.
		}
	}

	opened, err := OpenSortedRun(finalPath, gen)
	if err != nil {
		return nil, err
	}
	return opened, nil
}

// writeSortedRunFile performs the actual streaming write + index/trailer
// construction, returning a SortedRun whose path/generation the caller
// fills in after a successful rename.
func writeSortedRunFile(tempPath string, source iterator, cfg Config) (*SortedRun, error) {
	file, err := os.Create(tempPath)
	if err != nil {
		return nil, wrapIOError("create temp run", tempPath, err)
	}

	w := bufio.NewWriter(file)
	var offset uint64
	var index []uint64
	var bloom *bloomFilter
	count := 0

	// We don't know the entry count up front (source is a lazy iterator),
	// so the bloom filter is sized generously and rebuilt to the observed
	// count is unnecessary — MayContain only degrades gracefully (a wider
	// false-positive rate) when the estimate undershoots.
	if !cfg.DisableBloomSidecar {
		bloom = newBloomFilter(1024, 0.01)
	}

	fanout := cfg.IndexFanout
	if fanout <= 0 {
		fanout = 1
	}

	for {
		e, ok := source.Peek()
		if !ok {
			break
		}

		if count%fanout == 0 {
			index = append(index, offset)
		}

		n, err := writeEntry(w, e)
		if err != nil {
			_ = file.Close()
			return nil, wrapIOError("write entry", tempPath, err)
		}
		offset += uint64(n)
		count++

		if bloom != nil {
			bloom.Add(e.Key)
		}

		source.Advance()
	}

	indexOffset := offset
	for _, off := range index {
		if err := writeU64(w, off); err != nil {
			_ = file.Close()
			return nil, wrapIOError("write index", tempPath, err)
		}
	}
	if err := writeU64(w, uint64(len(index))); err != nil {
		_ = file.Close()
		return nil, wrapIOError("write trailer", tempPath, err)
	}

	if err := w.Flush(); err != nil {
		_ = file.Close()
		return nil, wrapIOError("flush run", tempPath, err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return nil, wrapIOError("fsync run", tempPath, err)
	}
	if err := file.Close(); err != nil {
		return nil, wrapIOError("close run", tempPath, err)
	}

	return &SortedRun{index: index, entriesEnd: indexOffset, bloom: bloom, count: len(index)}, nil
}

func writeBloomSidecar(dataDir string, gen uint64, bloom *bloomFilter) error {
	finalPath := filepath.Join(dataDir, bloomFileName(gen))
	tempPath := tempFileName(finalPath)

	data := bloom.marshalBinary()
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		_ = os.Remove(tempPath)
		return wrapIOError("write bloom sidecar", tempPath, err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		_ = os.Remove(tempPath)
		return wrapIOError("rename bloom sidecar", finalPath, err)
	}
	return nil
}

// isRunDataFile reports whether name matches the run_<gen>.data pattern
// so ListSortedRuns can tell run files apart from bloom sidecars and temp
// files when enumerating a directory (spec.md §6: "no manifest file; the
// directory listing is the source of truth").
func isRunDataFile(name string) bool {
	return len(name) > len(".data") && name[len(name)-5:] == ".data" &&
		len(name) >= 4 && name[:4] == "run_"
}

// ListSortedRuns enumerates dataDir, opens every run_<gen>.data file, and
// returns them sorted by generation ascending (caller typically wants
// newest-first, i.e. the reverse of this).
func ListSortedRuns(dataDir string) ([]*SortedRun, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, wrapIOError("list data dir", dataDir, err)
	}

	type candidate struct {
		gen  uint64
		path string
	}
	var candidates []candidate
	for _, ent := range entries {
		if ent.IsDir() || !isRunDataFile(ent.Name()) {
			continue
		}
		var gen uint64
		if _, err := fmt.Sscanf(ent.Name(), "run_%020d.data", &gen); err != nil {
			continue
		}
		candidates = append(candidates, candidate{gen: gen, path: filepath.Join(dataDir, ent.Name())})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].gen < candidates[j].gen })

	runs := make([]*SortedRun, 0, len(candidates))
	for _, c := range candidates {
		run, err := OpenSortedRun(c.path, c.gen)
		if err != nil {
			for _, opened := range runs {
				_ = opened.Close()
			}
			return nil, fmt.Errorf("%w: loading %s: %v", ErrCorruptRun, c.path, err)
		}
		runs = append(runs, run)
	}
	return runs, nil
}
