// Transactional buffer over the data file.
//
// A transaction accumulates every write of the current epoch in an ordered
// map from file offset to byte buffer. Reads consult the buffer first, then
// fall through to a one-slot read-through page cache backed by the data
// file. Nothing is durable until flushChanges drains the buffer to disk.
package store

import (
	"fmt"
	"os"
	"sort"

	lru "github.com/opencoff/golang-lru"
)

// txn buffers uncommitted writes and mediates all reads against them.
type txn struct {
	changes map[int64][]byte
	cache   *lru.Cache // one-slot page cache: key is page-aligned offset, value is []byte
}

func newTxn() *txn {
	cache, err := lru.New(1)
	if err != nil {
		// lru.New only fails for size <= 0, which never happens here.
		panic(err)
	}
	return &txn{changes: make(map[int64][]byte), cache: cache}
}

// set records the intent to write data at offset. If a prior set exists at
// the same offset, its length must equal len(data): slot and page layouts
// never change shape in place.
func (t *txn) set(offset int64, data []byte) {
	if old, ok := t.changes[offset]; ok {
		if len(old) != len(data) {
			panic(fmt.Errorf("%w: offset %d had %d bytes, now %d", ErrShapeMismatch, offset, len(old), len(data)))
		}
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	t.changes[offset] = cp
}

// get returns length bytes starting at offset: the buffered value if present,
// otherwise the window read through the page cache. [offset, offset+length)
// must lie within a single page.
func (t *txn) get(f *os.File, offset int64, length int64) []byte {
	if data, ok := t.changes[offset]; ok {
		if int64(len(data)) != length {
			panic(fmt.Errorf("%w: offset %d read as %d bytes, buffered as %d", ErrShapeMismatch, offset, length, len(data)))
		}
		out := make([]byte, length)
		copy(out, data)
		return out
	}

	pageOffset := offset &^ (pageSize - 1)
	within := offset - pageOffset

	var page []byte
	if v, ok := t.cache.Get(pageOffset); ok {
		page = v.([]byte)
	} else {
		page = make([]byte, pageSize)
		if _, err := f.ReadAt(page, pageOffset); err != nil {
			panic(fmt.Errorf("store: read page at %d: %w", pageOffset, err))
		}
		t.cache.Add(pageOffset, page)
	}

	out := make([]byte, length)
	copy(out, page[within:within+length])
	return out
}

// getNum is a convenience over get for an 8-byte little-endian u64.
func (t *txn) getNum(f *os.File, offset int64) uint64 {
	return leUint64(t.get(f, offset, 8))
}

// resetSector drops every buffered write whose offset lies in
// [offset, offset+sectorSize). Used right after a sector is (re)allocated so
// its prior contents, if any, can never leak through stale buffered writes.
func (t *txn) resetSector(offset int64) {
	for off := range t.changes {
		if off >= offset && off < offset+sectorSize {
			delete(t.changes, off)
		}
	}
}

// flushChanges drains the buffer to path, writing each touched page exactly
// once. Work is partitioned into FlushWorkers disjoint, contiguous,
// near-evenly-sized prefixes of the offset-sorted change list, cut only at
// page boundaries (see partitionEven); each worker owns a
// private file handle and a private one-page buffer, so no two workers ever
// touch the same page.
func (t *txn) flushChanges(path string, workers int) error {
	if len(t.changes) == 0 {
		t.cache.Purge()
		return nil
	}

	offsets := make([]int64, 0, len(t.changes))
	for off := range t.changes {
		offsets = append(offsets, off)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })

	if workers < 1 {
		workers = 1
	}
	if workers > len(offsets) {
		workers = len(offsets)
	}

	batches := partitionEven(offsets, workers)

	errCh := make(chan error, len(batches))
	for _, batch := range batches {
		batch := batch
		go func() {
			errCh <- flushBatch(path, batch, t.changes)
		}()
	}

	var firstErr error
	for range batches {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}

	t.changes = make(map[int64][]byte)
	t.cache.Purge()
	return firstErr
}

// partitionEven splits sorted into at most n disjoint, contiguous, near-evenly
// sized prefixes (the first len(sorted)%n get one extra offset). A cut that
// would fall inside a page is moved forward to that page's end, so no page is
// shared by two prefixes.
func partitionEven(sorted []int64, n int) [][]int64 {
	if n <= 0 {
		n = 1
	}
	out := make([][]int64, 0, n)
	total := len(sorted)
	base := total / n
	extra := total % n
	idx := 0
	for i := 0; i < n && idx < total; i++ {
		size := base
		if i < extra {
			size++
		}
		if size == 0 {
			continue
		}
		end := idx + size
		if end > total {
			end = total
		}
		for end < total && sorted[end]&^(pageSize-1) == sorted[end-1]&^(pageSize-1) {
			end++
		}
		out = append(out, sorted[idx:end])
		idx = end
	}
	return out
}

// flushBatch writes a disjoint set of changes through a private file handle
// and a private one-page buffer, coalescing same-page writes.
func flushBatch(path string, offsets []int64, changes map[int64][]byte) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	var (
		curPageOffset int64 = -1
		page          []byte
		dirty         bool
	)

	flushPage := func() error {
		if dirty {
			if _, err := f.WriteAt(page, curPageOffset); err != nil {
				return err
			}
			dirty = false
		}
		return nil
	}

	for _, offset := range offsets {
		data := changes[offset]
		pageOffset := offset &^ (pageSize - 1)
		within := offset - pageOffset

		if pageOffset != curPageOffset {
			if err := flushPage(); err != nil {
				return err
			}
			page = make([]byte, pageSize)
			if _, err := f.ReadAt(page, pageOffset); err != nil {
				return err
			}
			curPageOffset = pageOffset
		}

		copy(page[within:within+int64(len(data))], data)
		dirty = true
	}
	return flushPage()
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func putLEUint64(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}
