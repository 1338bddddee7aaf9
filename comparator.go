package lsmkv

import "bytes"

// compareKeys defines the total order over byte-string keys used by every
// ordered structure in the engine: unsigned lexicographic comparison, with
// an equal-length-prefix shorter key sorting first. bytes.Compare already
// implements exactly this.
func compareKeys(a, b []byte) int {
	return bytes.Compare(a, b)
}

// emptyKey is the "very first" sentinel: it compares less than every
// non-empty key and is usable only as an open lower bound for scans. It is
// never a valid stored key (see ErrEmptyKey).
var emptyKey = []byte{}

func isEmptyKey(k []byte) bool {
	return len(k) == 0
}
