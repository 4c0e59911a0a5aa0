// Write-ahead log: a single serialized transaction used for crash recovery
// between FlushChanges calls. Format: u64 numChanges, then for each change
// u64 offset, u64 len, len bytes, terminated by u64 walMagic. A WAL that
// does not parse completely or does not end in the magic is discarded
// silently — the engine opens on the last durable data-file state.
package store

import (
	"encoding/binary"
	"io"
	"os"
)

// writeToLog serializes the pending transaction to wal, overwriting whatever
// was there before.
func (t *txn) writeToLog(wal *os.File) error {
	if err := wal.Truncate(0); err != nil {
		return err
	}
	if _, err := wal.Seek(0, io.SeekStart); err != nil {
		return err
	}

	offsets := make([]int64, 0, len(t.changes))
	for off := range t.changes {
		offsets = append(offsets, off)
	}

	var buf []byte
	buf = appendUint64(buf, uint64(len(offsets)))
	for _, off := range offsets {
		data := t.changes[off]
		buf = appendUint64(buf, uint64(off))
		buf = appendUint64(buf, uint64(len(data)))
		buf = append(buf, data...)
	}
	buf = appendUint64(buf, walMagic)

	_, err := wal.Write(buf)
	return err
}

// maybeReplayLog attempts to parse wal as a complete, well-formed
// transaction log and, on success, loads its changes into t. It never
// returns an error: a malformed WAL simply yields false and t is left
// untouched, matching the original implementation's swallow-everything
// replay contract.
func (t *txn) maybeReplayLog(wal *os.File) bool {
	if _, err := wal.Seek(0, io.SeekStart); err != nil {
		return false
	}
	r := &walReader{f: wal}

	num, ok := r.readUint64()
	if !ok {
		return false
	}

	pending := make(map[int64][]byte, num)
	for i := uint64(0); i < num; i++ {
		offset, ok := r.readUint64()
		if !ok {
			return false
		}
		length, ok := r.readUint64()
		if !ok {
			return false
		}
		data := make([]byte, length)
		if !r.readFull(data) {
			return false
		}
		pending[int64(offset)] = data
	}

	magic, ok := r.readUint64()
	if !ok || magic != walMagic {
		return false
	}

	for off, data := range pending {
		t.set(off, data)
	}
	return true
}

type walReader struct {
	f *os.File
}

func (r *walReader) readUint64() (uint64, bool) {
	var buf [8]byte
	if !r.readFull(buf[:]) {
		return 0, false
	}
	return binary.LittleEndian.Uint64(buf[:]), true
}

func (r *walReader) readFull(buf []byte) bool {
	_, err := io.ReadFull(r.f, buf)
	return err == nil
}

func appendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}
