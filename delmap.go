// Deletion bitmap: one liveness bit per 128-byte value-log slot, held in a
// parallel run of delmap sectors. Bit (L/128) mod delsPerDelmap of entry
// (L/128) / delsPerDelmap for logical offset L lives in byte
// bitIndex/8 of a delmapEntrySize-byte entry (only the first hashLen bytes
// of each entry carry bits; the rest is unused padding — see const.go).
package store

import "strconv"

// delmapEntryOffset returns the physical file offset of the delmap entry
// that holds the liveness bit for logicalOffset.
func (e *Engine) delmapEntryOffset(logicalOffset int64) int64 {
	sectorLogical, sectorPhysical, ok := e.delmapMapping.floor(logicalOffset)
	if !ok {
		panic("store: no delmap sector covers logical offset " + strconv.FormatInt(logicalOffset, 10))
	}
	slotIndex := logicalOffset / valueSlotSize
	entryIndex := slotIndex / delsPerDelmap
	sectorEntryIndex := (sectorLogical / valueSlotSize) / delsPerDelmap
	return sectorPhysical + (entryIndex-sectorEntryIndex)*delmapEntrySize
}

func delmapBitPosition(logicalOffset int64) (byteIdx, bitIdx int) {
	slotIndex := (logicalOffset / valueSlotSize) % delsPerDelmap
	return int(slotIndex / 8), int(slotIndex % 8)
}

// isLive reports whether the value slot at logicalOffset is marked live.
func (e *Engine) isLive(logicalOffset int64) bool {
	entryOffset := e.delmapEntryOffset(logicalOffset)
	entry := e.tx.get(e.file, entryOffset, delmapEntrySize)
	byteIdx, bitIdx := delmapBitPosition(logicalOffset)
	return entry[byteIdx]&(1<<uint(bitIdx)) != 0
}

// setLive sets or clears the liveness bit for logicalOffset.
func (e *Engine) setLive(logicalOffset int64, live bool) {
	entryOffset := e.delmapEntryOffset(logicalOffset)
	entry := e.tx.get(e.file, entryOffset, delmapEntrySize)
	byteIdx, bitIdx := delmapBitPosition(logicalOffset)
	if live {
		entry[byteIdx] |= 1 << uint(bitIdx)
	} else {
		entry[byteIdx] &^= 1 << uint(bitIdx)
	}
	e.tx.set(entryOffset, entry)
}

// ensureDelmapSector advances the delmap write cursor by one entry whenever
// curLogical begins a fresh group of delsPerDelmap slots, allocating a new
// delmap sector first if that advance would cross a sector boundary. For a
// curLogical in the middle of an existing group this is a no-op: the entry
// currently being filled is still addressed by delmapEntryOffset.
func (e *Engine) ensureDelmapSector(curLogical int64) error {
	if (curLogical/valueSlotSize)%delsPerDelmap != 0 {
		return nil
	}

	next := int64(e.tx.getNum(e.file, hdrNextDelmapPhysicalOff))
	if next%sectorSize == firstSectorOffset {
		prelude := make([]byte, firstSlotOffset)
		copy(prelude[0:8], putLEUint64(uint64(curLogical)))
		copy(prelude[secPageTypeOffset:secPageTypeOffset+8], putLEUint64(pageTypeDelmap))

		sectorOffset, err := e.allocateSector(prelude, delmapEntrySize)
		if err != nil {
			return err
		}
		next = sectorOffset + firstSlotOffset
		e.delmapMapping.set(curLogical, next)
	}

	next += delmapEntrySize
	e.tx.set(hdrNextDelmapPhysicalOff, putLEUint64(uint64(next)))
	return nil
}

