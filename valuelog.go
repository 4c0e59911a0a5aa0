// Append-only value log: a logical, 128-byte-granular cursor mapped onto a
// chain of value-typed sectors, with in-place compaction that relocates
// live slots forward and reclaims vacated sectors.
package store

import "fmt"

// appendSlot writes one 128-byte value-log slot at the current tail,
// allocating a fresh value sector when the write cursor crosses a sector
// boundary, advancing the delmap cursor through ensureDelmapSector (one new
// entry every delsPerDelmap slots), and marking the slot live. It returns
// the logical offset the slot was written at.
func (e *Engine) appendSlot(slot [valueSlotSize]byte) (int64, error) {
	t := e.tx

	curLogical := int64(t.getNum(e.file, hdrNextValueLogicalOff))
	t.set(hdrNextValueLogicalOff, putLEUint64(uint64(curLogical+valueSlotSize)))

	physical := int64(t.getNum(e.file, hdrNextValuePhysicalOff))
	if physical%sectorSize == firstSectorOffset {
		prelude := make([]byte, valueSlotSize)
		copy(prelude[0:8], putLEUint64(uint64(curLogical)))
		copy(prelude[secPageTypeOffset:secPageTypeOffset+8], putLEUint64(pageTypeValues))

		sectorOffset, err := e.allocateSector(prelude, valueSlotSize)
		if err != nil {
			return 0, err
		}
		physical = sectorOffset + valueSlotSize
		e.valuesMapping.set(curLogical, physical)
	}

	t.set(physical, slot[:])
	physical += valueSlotSize
	t.set(hdrNextValuePhysicalOff, putLEUint64(uint64(physical)))

	if err := e.ensureDelmapSector(curLogical); err != nil {
		return 0, err
	}
	e.setLive(curLogical, true)

	return curLogical, nil
}

// readSlot returns the 128-byte value-log slot at logicalOffset.
func (e *Engine) readSlot(logicalOffset int64) [valueSlotSize]byte {
	sectorLogical, sectorPhysical, ok := e.valuesMapping.floor(logicalOffset)
	if !ok {
		panic(fmt.Sprintf("store: no value sector covers logical offset %d", logicalOffset))
	}
	physical := sectorPhysical + (logicalOffset - sectorLogical)
	var out [valueSlotSize]byte
	copy(out[:], e.tx.get(e.file, physical, valueSlotSize))
	return out
}

// moveResult reports the outcome of advancing the compaction cursor by one
// slot: either the slot was live and was relocated from old to new, or it
// was already dead and only firstLogical advanced.
type moveResult struct {
	Moved    bool
	Old, New int64
}

// moveOneValue advances firstLogical by one slot, freeing its tail. If the
// vacated slot was live, its bytes are re-appended at the head and the
// (old, new) logical-offset pair is returned so the hash index can be
// repointed. Sectors fully vacated by the advance are returned to the free
// list.
func (e *Engine) moveOneValue() (moveResult, error) {
	t := e.tx

	logicalOffset := int64(t.getNum(e.file, hdrFirstValueLogicalOff))
	newLogicalOffset := logicalOffset + valueSlotSize
	t.set(hdrFirstValueLogicalOff, putLEUint64(uint64(newLogicalOffset)))

	var result moveResult
	if e.isLive(logicalOffset) {
		value := e.readSlot(logicalOffset)
		newOffset, err := e.appendSlot(value)
		if err != nil {
			return moveResult{}, err
		}
		result = moveResult{Moved: true, Old: logicalOffset, New: newOffset}
	}

	// Reclaim the value sector that held logicalOffset if the advance just
	// crossed its upper boundary.
	const valuesPerSector = (sectorSize - valueSlotSize) / valueSlotSize
	if newLogicalOffset%(valuesPerSector*valueSlotSize) == 0 {
		sectorLogical, sectorPhysical, ok := e.valuesMapping.floor(logicalOffset)
		if !ok {
			return moveResult{}, fmt.Errorf("store: no value sector covers logical offset %d", logicalOffset)
		}
		if newLogicalOffset != sectorLogical+valuesPerSector*valueSlotSize {
			return moveResult{}, fmt.Errorf("store: value sector boundary mismatch at %d", newLogicalOffset)
		}
		e.log.Debugw("compaction reclaimed value sector", "sector_logical", sectorLogical)
		e.freeSector(sectorPhysical - valueSlotSize)
		e.valuesMapping.delete(sectorLogical)
	}

	const delsPerSector = (sectorSize - firstSlotOffset) / delmapEntrySize
	const logicalPerDelmapSector = delsPerSector * delsPerDelmap * valueSlotSize
	if newLogicalOffset%logicalPerDelmapSector == 0 {
		sectorLogical, sectorPhysical, ok := e.delmapMapping.floor(logicalOffset)
		if !ok {
			return moveResult{}, fmt.Errorf("store: no delmap sector covers logical offset %d", logicalOffset)
		}
		if newLogicalOffset != sectorLogical+logicalPerDelmapSector {
			return moveResult{}, fmt.Errorf("store: delmap sector boundary mismatch at %d", newLogicalOffset)
		}
		e.log.Debugw("compaction reclaimed delmap sector", "sector_logical", sectorLogical)
		e.freeSector(sectorPhysical - firstSlotOffset)
		e.delmapMapping.delete(sectorLogical)
	}

	return result, nil
}
