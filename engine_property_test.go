package lsmkv

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestEngineInvariants property-tests the universal invariants from
// spec.md §8 against randomly generated upsert/delete sequences.
func TestEngineInvariants(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping property-based test in short mode")
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20

	properties := gopter.NewProperties(parameters)

	properties.Property("last write to a key always wins on get", prop.ForAll(
		func(keys []string, values []string, deletes []bool) bool {
			n := min3(len(keys), len(values), len(deletes))
			if n == 0 {
				return true
			}

			e := newPropertyTestEngine(t)
			defer e.Close()

			model := map[string]*string{} // nil means deleted
			for i := 0; i < n; i++ {
				k := "k" + keys[i]
				if deletes[i] {
					if err := e.Delete([]byte(k)); err != nil {
						return false
					}
					model[k] = nil
				} else {
					v := values[i]
					if err := e.Upsert([]byte(k), []byte(v)); err != nil {
						return false
					}
					model[k] = &v
				}
			}

			for k, want := range model {
				got, ok, err := e.Get([]byte(k))
				if err != nil {
					return false
				}
				if want == nil {
					if ok {
						return false
					}
					continue
				}
				if !ok || string(got) != *want {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.Bool()),
	))

	properties.Property("scan yields strictly ascending live keys with no tombstones", prop.ForAll(
		func(keys []string, deletes []bool) bool {
			n := min3(len(keys), len(deletes), len(deletes))
			if n == 0 {
				return true
			}

			e := newPropertyTestEngine(t)
			defer e.Close()

			model := map[string]bool{} // true => live
			for i := 0; i < n; i++ {
				k := "k" + keys[i]
				if deletes[i] {
					_ = e.Delete([]byte(k))
					model[k] = false
				} else {
					_ = e.Upsert([]byte(k), []byte("v"))
					model[k] = true
				}
			}

			sc, err := e.Scan(emptyKey, nil)
			if err != nil {
				return false
			}
			defer sc.Close()

			var prevKey string
			first := true
			liveCount := 0
			for {
				entry, ok := sc.Next()
				if !ok {
					break
				}
				if entry.Tombstone {
					return false
				}
				if !first && string(entry.Key) <= prevKey {
					return false
				}
				prevKey = string(entry.Key)
				first = false
				if !model[string(entry.Key)] {
					return false
				}
				liveCount++
			}

			wantLive := 0
			for _, live := range model {
				if live {
					wantLive++
				}
			}
			return liveCount == wantLive
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.Bool()),
	))

	properties.Property("flush always empties the active memtable", prop.ForAll(
		func(keys []string) bool {
			if len(keys) == 0 {
				return true
			}
			e := newPropertyTestEngine(t)
			defer e.Close()

			for i, k := range keys {
				if err := e.Upsert([]byte(fmt.Sprintf("k%d-%s", i, k)), []byte("v")); err != nil {
					return false
				}
			}
			if err := e.Flush(); err != nil {
				return false
			}
			return e.loadState().active.Empty()
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

func newPropertyTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Open(Config{
		DataDir:             t.TempDir(),
		FlushThresholdBytes: 1 << 20,
		Logger:              NewNopLogger(),
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return e
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
