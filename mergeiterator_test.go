package lsmkv

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func drain(it iterator) []Entry {
	var out []Entry
	for {
		e, ok := it.Peek()
		if !ok {
			return out
		}
		out = append(out, e)
		it.Advance()
	}
}

func TestMergeIteratorNewestWins(t *testing.T) {
	newest := newSliceIterator([]Entry{newValueEntry([]byte("a"), []byte("new"))})
	older := newSliceIterator([]Entry{
		newValueEntry([]byte("a"), []byte("old")),
		newValueEntry([]byte("b"), []byte("b-val")),
	})

	m := NewMergeIterator([]iterator{newest, older})
	got := drain(m)

	assert.Equal(t, []Entry{
		newValueEntry([]byte("a"), []byte("new")),
		newValueEntry([]byte("b"), []byte("b-val")),
	}, got)
}

func TestMergeIteratorAscendingAcrossSources(t *testing.T) {
	a := newSliceIterator([]Entry{newValueEntry([]byte("b"), []byte("1")), newValueEntry([]byte("d"), []byte("2"))})
	b := newSliceIterator([]Entry{newValueEntry([]byte("a"), []byte("3")), newValueEntry([]byte("c"), []byte("4"))})

	m := NewMergeIterator([]iterator{a, b})
	got := drain(m)

	var keys []string
	for _, e := range got {
		keys = append(keys, string(e.Key))
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, keys)
}

func TestMergeIteratorThreeWayShadowing(t *testing.T) {
	p0 := newSliceIterator([]Entry{newValueEntry([]byte("x"), []byte("newest"))})
	p1 := newSliceIterator([]Entry{newValueEntry([]byte("x"), []byte("middle"))})
	p2 := newSliceIterator([]Entry{newValueEntry([]byte("x"), []byte("oldest"))})

	m := NewMergeIterator([]iterator{p0, p1, p2})
	got := drain(m)

	assert.Len(t, got, 1)
	assert.Equal(t, []byte("newest"), got[0].Value)
}

func TestMergeIteratorEmptySources(t *testing.T) {
	m := NewMergeIterator(nil)
	_, ok := m.Peek()
	assert.False(t, ok)
}
