// Sector allocator: grows the file, maintains a free-sector singly-linked
// list threaded through sector headers, and lays out new sectors' headers.
package store

import (
	"fmt"
	"os"
)

// allocateSector returns the physical offset of a fresh sector. If the free
// list is non-empty its head is popped and reused; otherwise the file grows
// by exactly one sector. Any stale buffered writes for the returned sector
// are dropped (resetSector) so its contents are unambiguous, then prelude is
// written at the sector base and the remainder up to the next sector
// boundary is zeroed in elemSize chunks.
func (e *Engine) allocateSector(prelude []byte, elemSize int) (int64, error) {
	t := e.tx
	fileSize := int64(t.getNum(e.file, hdrFileSizeOffset))

	freeHead := int64(t.getNum(e.file, hdrFreeListOffset))

	var offset int64
	if freeHead != 0 {
		newHead := int64(t.getNum(e.file, freeHead+secNextFreeOffset))
		t.set(hdrFreeListOffset, putLEUint64(uint64(newHead)))
		offset = freeHead
	} else {
		if err := e.growFile(fileSize); err != nil {
			return 0, err
		}
		fileSize += sectorSize
		t.set(hdrFileSizeOffset, putLEUint64(uint64(fileSize)))
		offset = fileSize - sectorSize
	}

	t.resetSector(offset)

	if len(prelude) > sectorSize {
		return 0, fmt.Errorf("store: prelude of %d bytes exceeds sector size", len(prelude))
	}
	t.set(offset, prelude)

	cur := offset + int64(len(prelude))
	end := offset + sectorSize
	zero := make([]byte, elemSize)
	for cur < end {
		t.set(cur, zero)
		cur += int64(elemSize)
	}

	e.log.Debugw("allocated sector", "offset", offset, "prelude_len", len(prelude))
	return offset, nil
}

// growFile extends the underlying file by exactly one sector of zero bytes,
// writing directly (not through the transaction buffer) since the new
// region's shape is not yet owned by any in-flight buffered write.
func (e *Engine) growFile(curSize int64) error {
	zero := make([]byte, sectorSize)
	if _, err := e.file.WriteAt(zero, curSize); err != nil {
		return fmt.Errorf("store: grow file: %w", err)
	}
	return nil
}

// freeSector marks the sector at offset as free and pushes it onto the head
// of the free-sector list.
func (e *Engine) freeSector(offset int64) {
	t := e.tx
	t.set(offset+secPageTypeOffset, putLEUint64(pageTypeFree))

	curFreeHead := int64(t.getNum(e.file, hdrFreeListOffset))
	t.set(offset+secNextFreeOffset, putLEUint64(uint64(curFreeHead)))
	t.set(hdrFreeListOffset, putLEUint64(uint64(offset)))

	e.log.Debugw("freed sector", "offset", offset)
}
