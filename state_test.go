package lsmkv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestState() *engineState {
	return &engineState{
		active:   NewMemTable(1 << 20),
		flushing: emptySentinel,
		storage:  NewStorageSet(nil),
	}
}

func TestEngineStateFreezeInvariant(t *testing.T) {
	st := newTestState()

	next, err := st.freeze(1 << 20)
	require.NoError(t, err)
	assert.True(t, next.isFlushing())
	assert.Same(t, st.active, next.flushing)

	_, err = next.freeze(1 << 20)
	assert.ErrorIs(t, err, ErrAlreadyFlushing)
}

func TestEngineStateFreezeRejectedWhenClosed(t *testing.T) {
	st := newTestState()
	closed := st.markClosed()

	_, err := closed.freeze(1 << 20)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestEngineStateInstallFlushedClearsFlushingSlot(t *testing.T) {
	st := newTestState()
	frozen, err := st.freeze(1 << 20)
	require.NoError(t, err)

	installed := frozen.installFlushed(NewStorageSet(nil))
	assert.False(t, installed.isFlushing())
	assert.Same(t, frozen.active, installed.active)
}

func TestEngineStateMarkClosedIsSticky(t *testing.T) {
	st := newTestState()
	closed := st.markClosed()
	assert.True(t, closed.closed)

	reclosed := closed.markClosed()
	assert.True(t, reclosed.closed)
}
