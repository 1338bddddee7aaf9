package lsmkv

// Entry is a stored record: a key paired with either a value or a
// tombstone marking a deletion. Entries with Tombstone set carry no
// meaningful Value and must not be returned to callers of Get or Scan.
type Entry struct {
	Key       []byte
	Value     []byte
	Tombstone bool
}

// newValueEntry builds a live entry.
func newValueEntry(key, value []byte) Entry {
	return Entry{Key: key, Value: value}
}

// newTombstoneEntry builds a deletion marker for key.
func newTombstoneEntry(key []byte) Entry {
	return Entry{Key: key, Tombstone: true}
}

// encodedSize is the number of bytes this entry occupies in a sorted run's
// entries section, per the record layout in codec.go. Used by the memtable
// for its accounted_size bookkeeping so that in-memory accounting matches
// what flushing the entry to disk will actually cost.
func (e Entry) encodedSize() int {
	n := 4 + len(e.Key) + 1 // key_len | key | tag
	if !e.Tombstone {
		n += 4 + len(e.Value) // val_len | val
	}
	return n
}
