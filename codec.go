package lsmkv

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Record tags for the value_tag byte in the entries section of a sorted
// run, per spec: tag 0 is a tombstone (no value fields follow), tag 1
// means a value is present.
const (
	tagTombstone byte = 0
	tagPresent   byte = 1
)

// writeEntry appends one record to w in the wire format:
//
//	key_len (u32 LE) | key_bytes | value_tag (u8) | [value_len (u32 LE) | value_bytes]
//
// and returns the number of bytes written.
func writeEntry(w io.Writer, e Entry) (int, error) {
	n := 0

	if err := writeU32(w, uint32(len(e.Key))); err != nil {
		return n, err
	}
	n += 4

	if len(e.Key) > 0 {
		if _, err := w.Write(e.Key); err != nil {
			return n, err
		}
		n += len(e.Key)
	}

	if e.Tombstone {
		if _, err := w.Write([]byte{tagTombstone}); err != nil {
			return n, err
		}
		n++
		return n, nil
	}

	if _, err := w.Write([]byte{tagPresent}); err != nil {
		return n, err
	}
	n++

	if err := writeU32(w, uint32(len(e.Value))); err != nil {
		return n, err
	}
	n += 4

	if len(e.Value) > 0 {
		if _, err := w.Write(e.Value); err != nil {
			return n, err
		}
		n += len(e.Value)
	}

	return n, nil
}

// readEntry reads one record from r, returning the decoded entry and the
// number of bytes consumed. A short read or an invalid tag is reported as
// ErrCorruptRun-wrapped. OpenSortedRun does not call it; SortedRun.Lookup
// and Scan do, and treat such an error as a miss or the end of the run.
func readEntry(r io.Reader) (Entry, int, error) {
	keyLen, err := readU32(r)
	if err != nil {
		return Entry{}, 0, fmt.Errorf("%w: truncated key length: %v", ErrCorruptRun, err)
	}
	n := 4

	key := make([]byte, keyLen)
	if keyLen > 0 {
		if _, err := io.ReadFull(r, key); err != nil {
			return Entry{}, n, fmt.Errorf("%w: truncated key: %v", ErrCorruptRun, err)
		}
	}
	n += int(keyLen)

	var tagBuf [1]byte
	if _, err := io.ReadFull(r, tagBuf[:]); err != nil {
		return Entry{}, n, fmt.Errorf("%w: truncated tag: %v", ErrCorruptRun, err)
	}
	n++

	switch tagBuf[0] {
	case tagTombstone:
		return Entry{Key: key, Tombstone: true}, n, nil
	case tagPresent:
		valLen, err := readU32(r)
		if err != nil {
			return Entry{}, n, fmt.Errorf("%w: truncated value length: %v", ErrCorruptRun, err)
		}
		n += 4

		value := make([]byte, valLen)
		if valLen > 0 {
			if _, err := io.ReadFull(r, value); err != nil {
				return Entry{}, n, fmt.Errorf("%w: truncated value: %v", ErrCorruptRun, err)
			}
		}
		n += int(valLen)

		return Entry{Key: key, Value: value}, n, nil
	default:
		return Entry{}, n, fmt.Errorf("%w: invalid value tag %#x", ErrCorruptRun, tagBuf[0])
	}
}

func writeU32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readU32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func writeU64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readU64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}
