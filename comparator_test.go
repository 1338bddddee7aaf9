package lsmkv

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompareKeys(t *testing.T) {
	assert.Equal(t, 0, compareKeys([]byte("a"), []byte("a")))
	assert.Less(t, compareKeys([]byte("a"), []byte("b")), 0)
	assert.Greater(t, compareKeys([]byte("b"), []byte("a")), 0)
	assert.Less(t, compareKeys([]byte("a"), []byte("aa")), 0, "equal-length prefix, shorter key sorts first")
}

func TestIsEmptyKey(t *testing.T) {
	assert.True(t, isEmptyKey(emptyKey))
	assert.True(t, isEmptyKey([]byte{}))
	assert.False(t, isEmptyKey([]byte("a")))
}
