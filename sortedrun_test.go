package lsmkv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(dir string) Config {
	return Config{
		DataDir:             dir,
		FlushThresholdBytes:  1 << 20,
		Logger:               NewNopLogger(),
		Metrics:              NewRegistry(),
	}.withDefaults()
}

func writeTestRun(t *testing.T, dir string, gen uint64, entries []Entry) *SortedRun {
	t.Helper()
	run, err := WriteSortedRun(dir, gen, newSliceIterator(entries), testConfig(dir))
	require.NoError(t, err)
	return run
}

func TestWriteAndOpenSortedRunRoundTrip(t *testing.T) {
	dir := t.TempDir()
	entries := []Entry{
		newValueEntry([]byte("a"), []byte("1")),
		newValueEntry([]byte("b"), []byte("2")),
		newTombstoneEntry([]byte("c")),
		newValueEntry([]byte("d"), []byte("4")),
	}

	run := writeTestRun(t, dir, 0, entries)
	defer run.Close()

	assert.Equal(t, 4, run.EntryCount())
	assert.Equal(t, uint64(0), run.Generation())

	e, ok := run.Lookup([]byte("a"))
	require.True(t, ok)
	assert.Equal(t, []byte("1"), e.Value)

	e, ok = run.Lookup([]byte("c"))
	require.True(t, ok)
	assert.True(t, e.Tombstone)

	_, ok = run.Lookup([]byte("zzz"))
	assert.False(t, ok)
}

func TestSortedRunScanRange(t *testing.T) {
	dir := t.TempDir()
	entries := []Entry{
		newValueEntry([]byte("a"), []byte("1")),
		newValueEntry([]byte("b"), []byte("2")),
		newValueEntry([]byte("c"), []byte("3")),
		newValueEntry([]byte("d"), []byte("4")),
	}
	run := writeTestRun(t, dir, 0, entries)
	defer run.Close()

	it := run.Scan([]byte("b"), []byte("d"))
	var got []string
	for {
		e, ok := it.Peek()
		if !ok {
			break
		}
		got = append(got, string(e.Key))
		it.Advance()
	}
	assert.Equal(t, []string{"b", "c"}, got)
}

func TestSortedRunBloomSidecarSkipsMiss(t *testing.T) {
	dir := t.TempDir()
	entries := []Entry{
		newValueEntry([]byte("apple"), []byte("1")),
		newValueEntry([]byte("banana"), []byte("2")),
	}
	cfg := testConfig(dir)
	run, err := WriteSortedRun(dir, 0, newSliceIterator(entries), cfg)
	require.NoError(t, err)
	defer run.Close()

	_, ok := run.Lookup([]byte("cherry"))
	assert.False(t, ok)

	reopened, err := OpenSortedRun(run.Path(), run.Generation())
	require.NoError(t, err)
	defer reopened.Close()

	e, ok := reopened.Lookup([]byte("apple"))
	require.True(t, ok)
	assert.Equal(t, []byte("1"), e.Value)
}

func TestListSortedRunsSortsByGeneration(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	for _, gen := range []uint64{2, 0, 1} {
		_, err := WriteSortedRun(dir, gen, newSliceIterator([]Entry{
			newValueEntry([]byte("k"), []byte("v")),
		}), cfg)
		require.NoError(t, err)
	}

	runs, err := ListSortedRuns(dir)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, uint64(0), runs[0].Generation())
	assert.Equal(t, uint64(1), runs[1].Generation())
	assert.Equal(t, uint64(2), runs[2].Generation())

	for _, r := range runs {
		_ = r.Close()
	}
}

func TestListSortedRunsEmptyDirReturnsNil(t *testing.T) {
	dir := t.TempDir()
	runs, err := ListSortedRuns(dir)
	require.NoError(t, err)
	assert.Empty(t, runs)
}
