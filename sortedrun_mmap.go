package lsmkv

import (
	"io"
	"path/filepath"
	"sort"

	"golang.org/x/exp/mmap"
)

// mmapReader is a thin rename of mmap.ReaderAt so the rest of the package
// doesn't spell out the import everywhere; grounded on
// pkg/lsm/sstable_mmap.go's use of golang.org/x/exp/mmap (SPEC_FULL.md
// §3).
type mmapReader = mmap.ReaderAt

// sectionReader adapts an io.ReaderAt + cursor to io.Reader, so the
// shared readEntry codec helper (which wants a plain io.Reader) can read
// sequentially from an arbitrary offset into the memory-mapped file.
type sectionReader struct {
	r   io.ReaderAt
	off int64
}

func (s *sectionReader) Read(p []byte) (int, error) {
	n, err := s.r.ReadAt(p, s.off)
	s.off += int64(n)
	return n, err
}

// OpenSortedRun memory-maps path and loads its index (and, if present,
// its bloom sidecar) so random record access is O(log n) via binary
// search over the index, per spec.md §4.3. Any structural inconsistency
// (too-short file, index section past EOF, an index offset outside the
// entries section) is a fatal open-time error. Records are not decoded
// here.
func OpenSortedRun(path string, gen uint64) (*SortedRun, error) {
	reader, err := mmap.Open(path)
	if err != nil {
		return nil, wrapIOError("open run", path, err)
	}

	size := int64(reader.Len())
	if size < 8 {
		_ = reader.Close()
		return nil, wrapIOError("open run", path, ErrCorruptRun)
	}

	n, err := readU64(&sectionReader{r: reader, off: size - 8})
	if err != nil {
		_ = reader.Close()
		return nil, wrapIOError("read trailer", path, ErrCorruptRun)
	}

	indexBytes := int64(n) * 8
	indexStart := size - 8 - indexBytes
	if indexStart < 0 {
		_ = reader.Close()
		return nil, wrapIOError("read index", path, ErrCorruptRun)
	}

	index := make([]uint64, n)
	idxReader := &sectionReader{r: reader, off: indexStart}
	for i := uint64(0); i < n; i++ {
		off, err := readU64(idxReader)
		if err != nil {
			_ = reader.Close()
			return nil, wrapIOError("read index entry", path, ErrCorruptRun)
		}
		if off >= uint64(indexStart) {
			_ = reader.Close()
			return nil, wrapIOError("read index entry", path, ErrCorruptRun)
		}
		index[i] = off
	}

	run := &SortedRun{
		generation: gen,
		path:       path,
		reader:     reader,
		index:      index,
		entriesEnd: uint64(indexStart),
		count:      len(index),
	}

	if bloom, err := loadBloomSidecar(path, gen); err == nil {
		run.bloom = bloom
	}
	// A missing or unreadable sidecar is not fatal (SPEC_FULL.md §3): the
	// run is fully usable via binary search alone.

	return run, nil
}

func loadBloomSidecar(runPath string, gen uint64) (*bloomFilter, error) {
	dir := filepath.Dir(runPath)
	data, err := readFileIfExists(filepath.Join(dir, bloomFileName(gen)))
	if err != nil || data == nil {
		return nil, err
	}
	return unmarshalBloomFilter(data)
}

// readEntryAt reads one record starting at byte offset off.
func (r *SortedRun) readEntryAt(off uint64) (Entry, int, error) {
	return readEntry(&sectionReader{r: r.reader, off: int64(off)})
}

// Lookup performs a binary-search point lookup, per spec.md §4.3. It
// returns the raw entry (which may be a tombstone) or (Entry{}, false) if
// the key is absent from this run.
func (r *SortedRun) Lookup(key []byte) (Entry, bool) {
	if r.bloom != nil && !r.bloom.MayContain(key) {
		return Entry{}, false
	}

	if len(r.index) == 0 {
		return Entry{}, false
	}

	// Find the first index slot whose key is >= target, by peeking the
	// record at each candidate offset.
	idx := sort.Search(len(r.index), func(i int) bool {
		e, _, err := r.readEntryAt(r.index[i])
		if err != nil {
			return true
		}
		return compareKeys(e.Key, key) >= 0
	})

	// The forward scan starts at the previous indexed offset and stops once
	// it passes the target key. With a sparse index the target can sit
	// between two indexed offsets; with a dense index (IndexFanout == 1)
	// the scan reads at most two records.
	start := 0
	if idx > 0 {
		start = idx - 1
	}
	offset := r.index[start]

	for offset < r.entriesEnd {
		e, n, err := r.readEntryAt(offset)
		if err != nil {
			return Entry{}, false
		}
		cmp := compareKeys(e.Key, key)
		if cmp == 0 {
			return e, true
		}
		if cmp > 0 {
			return Entry{}, false
		}
		offset += uint64(n)
	}
	return Entry{}, false
}

// Scan returns a lazy iterator yielding entries with from <= key < to
// (to == nil means unbounded), per spec.md §4.3.
func (r *SortedRun) Scan(from, to []byte) iterator {
	var startOffset uint64
	if len(r.index) > 0 {
		idx := sort.Search(len(r.index), func(i int) bool {
			e, _, err := r.readEntryAt(r.index[i])
			if err != nil {
				return true
			}
			return compareKeys(e.Key, from) >= 0
		})
		start := 0
		if idx > 0 {
			start = idx - 1
		}
		startOffset = r.index[start]
	}

	return &sortedRunIterator{run: r, offset: startOffset, from: from, to: to}
}

// Iterator returns a lazy iterator over every entry in the run, in key
// order.
func (r *SortedRun) Iterator() iterator {
	return &sortedRunIterator{run: r, offset: 0, to: nil}
}

// sortedRunIterator streams entries directly from the memory-mapped file
// rather than materializing the whole run, so a compaction over many
// large runs does not need to hold them all in memory at once.
type sortedRunIterator struct {
	run     *SortedRun
	offset  uint64
	from    []byte
	to      []byte
	current Entry
	hasCur  bool
	done    bool
}

func (it *sortedRunIterator) Peek() (Entry, bool) {
	if it.done {
		return Entry{}, false
	}
	if it.hasCur {
		return it.current, true
	}
	for it.offset < it.run.entriesEnd {
		e, n, err := it.run.readEntryAt(it.offset)
		if err != nil {
			it.done = true
			return Entry{}, false
		}
		if it.to != nil && compareKeys(e.Key, it.to) >= 0 {
			it.done = true
			return Entry{}, false
		}
		it.offset += uint64(n)
		if it.from != nil && compareKeys(e.Key, it.from) < 0 {
			continue
		}
		it.current = e
		it.hasCur = true
		return e, true
	}
	it.done = true
	return Entry{}, false
}

func (it *sortedRunIterator) Advance() {
	if !it.hasCur {
		it.Peek()
	}
	it.hasCur = false
}
