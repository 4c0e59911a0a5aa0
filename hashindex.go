// Sectored open-addressing hash index: each sector owns a contiguous,
// non-overlapping range of the 26-byte hash space (the range boundary is the
// sector's own key, stored in its header and as htMapping's key), and holds
// slotsInSector 32-byte slots probed linearly with wraparound.
package store

import "fmt"

// getSlotIndex returns the home slot for hash within its owning sector: the
// u64 LE value of hash[18:26], modulo slotsInSector.
func getSlotIndex(hash [hashLen]byte) int64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(hash[18+i])
	}
	return int64(v % slotsInSector)
}

// extractValue decodes a slot's 6-byte LE value field (bytes hashLen..slotSize).
func extractValue(slotBytes []byte) int64 {
	var v uint64
	for i := 0; i < 6; i++ {
		v |= uint64(slotBytes[hashLen+i]) << (8 * uint(i))
	}
	return int64(v)
}

func encodeSlot(hash [hashLen]byte, value int64) []byte {
	out := make([]byte, slotSize)
	copy(out, hash[:])
	for i := 0; i < 6; i++ {
		out[hashLen+i] = byte(value >> (8 * uint(i)))
	}
	return out
}

// seek finds the slot that either already holds hash or is the first empty
// slot reachable from hash's home slot by linear probing. It returns the
// slot's file offset and its decoded value (noValue if empty).
func (e *Engine) seek(hash [hashLen]byte) (int64, int64) {
	slot := getSlotIndex(hash)

	_, sectorOffset, ok := e.htMapping.floor(hash)
	if !ok {
		panic("store: hash-index directory has no covering sector")
	}

	for {
		offset := sectorOffset + slot*slotSize + firstSlotOffset
		data := e.tx.get(e.file, offset, slotSize)

		value := extractValue(data)
		if value == noValue || bytesEqual(data[:hashLen], hash[:]) {
			return offset, value
		}

		slot++
		if slot >= slotsInSector {
			slot = 0
		}
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// HtGet returns the raw value stored for hash, or (0, false) if absent.
func (e *Engine) HtGet(key []byte) (int64, bool) {
	hash := hashKey(e.salt, key, e.config.HashAlgorithm)
	_, value := e.seek(hash)
	if value == noValue {
		return 0, false
	}
	return value, true
}

// HtSet stores newValue for key's hash directly in the hash index, bypassing
// the value log. It returns the previous value, if any.
func (e *Engine) HtSet(key []byte, newValue int64) (int64, bool) {
	hash := hashKey(e.salt, key, e.config.HashAlgorithm)
	return e.htSetWithHash(hash, newValue)
}

// HtDelete removes key's slot from the hash index directly, bypassing the
// value log.
func (e *Engine) HtDelete(key []byte) {
	hash := hashKey(e.salt, key, e.config.HashAlgorithm)
	e.htDeleteWithHash(hash)
}

// htSetWithHash installs newValue at hash's slot (inserting or overwriting),
// tracking occupancy and triggering a resize-by-median-split once a sector
// crosses its occupancy threshold. It returns the previous value, if any.
func (e *Engine) htSetWithHash(hash [hashLen]byte, newValue int64) (int64, bool) {
	offset, oldValue := e.seek(hash)

	e.tx.set(offset, encodeSlot(hash, newValue))

	if oldValue != noValue {
		return oldValue, true
	}

	sectorOffset := sectorBaseOf(offset)
	occ := int64(e.tx.getNum(e.file, sectorOffset+secOccupancyOffset)) + 1

	resize := occ >= slotsInSector*maxSectorPercent/100 ||
		(occ >= slotsInSector*earlySectorPercent/100 && e.writesSinceResize >= slotsInSector/2)

	if !resize {
		e.writesSinceResize++
		e.tx.set(sectorOffset+secOccupancyOffset, putLEUint64(uint64(occ)))
		return 0, false
	}

	e.writesSinceResize = 0
	e.splitSector(sectorOffset)
	return 0, false
}

// splitSector collects every live (hash, value) pair out of the sector at
// sectorOffset, wipes its slots, allocates a sibling sector keyed at the
// median hash of the collected pairs, and reinserts every pair — each
// reinsertion lands in whichever of the two sectors now owns its hash.
func (e *Engine) splitSector(sectorOffset int64) {
	type pair struct {
		hash  [hashLen]byte
		value int64
	}
	pairs := make([]pair, 0, slotsInSector)

	for i := int64(0); i < slotsInSector; i++ {
		slotOffset := sectorOffset + i*slotSize + firstSlotOffset
		data := e.tx.get(e.file, slotOffset, slotSize)
		if value := extractValue(data); value != noValue {
			var h [hashLen]byte
			copy(h[:], data[:hashLen])
			pairs = append(pairs, pair{h, value})
		}
		e.tx.set(slotOffset, make([]byte, slotSize))
	}
	e.tx.set(sectorOffset+secOccupancyOffset, make([]byte, 8))

	sortPairsByHash(pairs)
	median := pairs[len(pairs)/2].hash

	prelude := make([]byte, firstSlotOffset)
	copy(prelude[secKeyOffset:secKeyOffset+hashLen], median[:])
	copy(prelude[secPageTypeOffset:secPageTypeOffset+8], putLEUint64(pageTypeHash))

	newSectorOffset, err := e.allocateSector(prelude, slotSize)
	if err != nil {
		panic(fmt.Errorf("store: allocate sector for hash-index split: %w", err))
	}
	e.htMapping.set(median, newSectorOffset)

	e.log.Debugw("resized hash-index sector by split",
		"old_sector", sectorOffset, "new_sector", newSectorOffset, "pairs", len(pairs))

	for _, p := range pairs {
		e.htSetWithHash(p.hash, p.value)
	}
}

func sortPairsByHash(pairs []struct {
	hash  [hashLen]byte
	value int64
}) {
	for i := 1; i < len(pairs); i++ {
		for j := i; j > 0 && hashLess(pairs[j].hash, pairs[j-1].hash); j-- {
			pairs[j], pairs[j-1] = pairs[j-1], pairs[j]
		}
	}
}

func hashLess(a, b [hashLen]byte) bool {
	for i := 0; i < hashLen; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func sectorBaseOf(slotOffset int64) int64 {
	return ((slotOffset - firstSectorOffset) &^ (sectorSize - 1)) + firstSectorOffset
}

// htDeleteWithHash clears hash's slot and repairs the probe chain behind it,
// shifting every slot that can no longer reach its home position forward
// into the gap (standard open-addressing backward-shift deletion, bounded to
// one sector: the chain never crosses a sector boundary).
func (e *Engine) htDeleteWithHash(hash [hashLen]byte) {
	targetOffset, oldValue := e.seek(hash)
	if oldValue == noValue {
		return
	}

	sectorOffset := sectorBaseOf(targetOffset)
	occ := int64(e.tx.getNum(e.file, sectorOffset+secOccupancyOffset)) - 1
	e.tx.set(sectorOffset+secOccupancyOffset, putLEUint64(uint64(occ)))

	curOffset := targetOffset
	for {
		curOffset += slotSize
		if (curOffset-firstSectorOffset)&(sectorSize-1) == 0 {
			curOffset -= sectorSize - firstSlotOffset
		}

		data := e.tx.get(e.file, curOffset, slotSize)
		if extractValue(data) == noValue {
			e.tx.set(targetOffset, make([]byte, slotSize))
			return
		}

		var curHash [hashLen]byte
		copy(curHash[:], data[:hashLen])
		desiredOffset := sectorOffset + firstSlotOffset + slotSize*getSlotIndex(curHash)

		adjust := func(x int64) int64 {
			if x < desiredOffset {
				return x + sectorSize - firstSlotOffset
			}
			return x
		}

		if adjust(curOffset) > adjust(targetOffset) {
			e.tx.set(targetOffset, data)
			targetOffset = curOffset
		}
	}
}
