// Public key-value operations: set, get, and delete, built on top of the
// hash index, value log, and deletion bitmap.
package store

import "fmt"

// Set stores value under key, replacing any previous value. The previous
// value's slots, if any, are marked dead and folded into the compaction
// credit balance.
func (e *Engine) Set(key, value []byte) error {
	hash := e.hashOf(key)

	fullLen := int64(hashLen + 8 + len(value))
	roundedLen := ((fullLen + valueSlotSize - 1) / valueSlotSize) * valueSlotSize

	full := make([]byte, roundedLen)
	copy(full[0:hashLen], hash[:])
	copy(full[hashLen:hashLen+8], putLEUint64(uint64(fullLen)))
	copy(full[hashLen+8:], value)

	var firstOffset [valueSlotSize]byte
	copy(firstOffset[:], full[0:valueSlotSize])
	offset, err := e.appendSlot(firstOffset)
	if err != nil {
		return err
	}
	e.delBalance -= 2

	for i := int64(1); i < roundedLen/valueSlotSize; i++ {
		var chunk [valueSlotSize]byte
		copy(chunk[:], full[i*valueSlotSize:(i+1)*valueSlotSize])
		if _, err := e.appendSlot(chunk); err != nil {
			return err
		}
		e.delBalance -= 2
	}

	oldValue, had := e.htSetWithHash(hash, offset+1)
	if had {
		if err := e.deleteAtOffset(oldValue - 1); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the value stored for key, or (nil, false) if key is absent.
func (e *Engine) Get(key []byte) ([]byte, bool) {
	hash := e.hashOf(key)
	_, value := e.seek(hash)
	if value == noValue {
		return nil, false
	}
	offset := value - 1
	if logicalFirst := int64(e.tx.getNum(e.file, hdrFirstValueLogicalOff)); offset < logicalFirst {
		panic(fmt.Sprintf("store: hash index points at reclaimed offset %d (first live is %d)", offset, logicalFirst))
	}

	first := e.readSlot(offset)
	full := append([]byte(nil), first[:]...)

	length := int64(leUint64(first[hashLen : hashLen+8]))
	remaining := length - valueSlotSize
	for remaining > 0 {
		offset += valueSlotSize
		slot := e.readSlot(offset)
		full = append(full, slot[:]...)
		remaining -= valueSlotSize
	}

	return full[hashLen+8 : length], true
}

// Delete removes key, if present, marking its slots dead and folding them
// into the compaction credit balance.
func (e *Engine) Delete(key []byte) error {
	hash := e.hashOf(key)
	_, value := e.seek(hash)
	if value == noValue {
		return nil
	}
	offset := value - 1

	if err := e.deleteAtOffset(offset); err != nil {
		return err
	}
	e.htDeleteWithHash(hash)
	return nil
}

// deleteAtOffset marks every slot of the record starting at offset dead,
// then drains the resulting compaction credit by relocating live records
// from the head of the value log, repointing the hash index at each
// relocated record's new logical offset.
func (e *Engine) deleteAtOffset(offset int64) error {
	first := e.readSlot(offset)
	remaining := int64(leUint64(first[hashLen : hashLen+8]))

	for remaining > 0 {
		e.setLive(offset, false)
		offset += valueSlotSize
		remaining = saturatingSub(remaining, valueSlotSize)
		e.delBalance += 4
	}

	for e.delBalance > 0 {
		logicalFirst := int64(e.tx.getNum(e.file, hdrFirstValueLogicalOff))
		logicalNext := int64(e.tx.getNum(e.file, hdrNextValueLogicalOff))
		headRecord := e.readSlot(logicalFirst)
		headRemaining := int64(leUint64(headRecord[hashLen : hashLen+8]))

		if logicalNext-logicalFirst-headRemaining < valueSlotSize {
			e.delBalance = 0
			break
		}

		result, err := e.moveOneValue()
		if err != nil {
			return err
		}
		if result.Moved {
			var h [hashLen]byte
			copy(h[:], headRecord[:hashLen])
			htOffset, storedValue := e.seek(h)
			if storedValue == noValue {
				return fmt.Errorf("store: hash index missing entry for relocated record at %d", result.Old)
			}
			if storedValue-1 != result.Old {
				return fmt.Errorf("store: hash index entry for relocated record points at %d, expected %d", storedValue-1, result.Old)
			}
			e.tx.set(htOffset, encodeSlot(h, result.New+1))
		}

		headRemaining = saturatingSub(headRemaining, valueSlotSize)
		e.delBalance--

		for headRemaining > 0 {
			if _, err := e.moveOneValue(); err != nil {
				return err
			}
			headRemaining = saturatingSub(headRemaining, valueSlotSize)
			e.delBalance--
		}
	}

	return nil
}

func saturatingSub(a, b int64) int64 {
	if a < b {
		return 0
	}
	return a - b
}
