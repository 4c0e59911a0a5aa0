// Hash index tests.
//
// HtSet/HtGet/HtDelete exercise the sectored open-addressing index directly,
// bypassing the value log, so these tests can hammer the index with raw
// values and catch resize or probe-chain bugs that key/value round trips
// through Set/Get would otherwise mask.
package store

import (
	"math/rand"
	"testing"
)

// TestHtSetGetDelete verifies the basic insert/lookup/remove cycle.
func TestHtSetGetDelete(t *testing.T) {
	e := newTestEngineRaw(t)

	if _, had := e.HtSet([]byte("k1"), 42); had {
		t.Fatalf("HtSet on fresh key reported a previous value")
	}
	v, ok := e.HtGet([]byte("k1"))
	if !ok || v != 42 {
		t.Fatalf("HtGet(k1) = %d, %v; want 42, true", v, ok)
	}

	old, had := e.HtSet([]byte("k1"), 99)
	if !had || old != 42 {
		t.Fatalf("HtSet overwrite returned %d, %v; want 42, true", old, had)
	}

	e.HtDelete([]byte("k1"))
	if _, ok := e.HtGet([]byte("k1")); ok {
		t.Fatalf("HtGet(k1) after delete: want not found")
	}
}

// TestHtConsistencyUnderChurn drives tens of thousands of random set/
// overwrite/delete operations against both the engine and a plain Go map,
// then verifies they agree. This exercises resize-by-median-split (forced
// once enough distinct keys land in one sector) and backward-shift deletion
// under realistic churn.
func TestHtConsistencyUnderChurn(t *testing.T) {
	e := newTestEngineRaw(t)

	const numIters = 80000
	const deletesStart = 60000

	model := make(map[string]int64)
	rng := rand.New(rand.NewSource(1))

	keyFor := func(i int) []byte {
		return []byte{byte(i), byte(i >> 8), byte(i >> 16)}
	}

	for i := 0; i < numIters; i++ {
		k := rng.Intn(40000)
		key := keyFor(k)

		if i >= deletesStart && rng.Intn(3) == 0 {
			e.HtDelete(key)
			delete(model, string(key))
			continue
		}

		value := int64(i + 1)
		e.HtSet(key, value)
		model[string(key)] = value
	}

	for k, want := range model {
		got, ok := e.HtGet([]byte(k))
		if !ok {
			t.Fatalf("HtGet(%v): missing, want %d", []byte(k), want)
		}
		if got != want {
			t.Fatalf("HtGet(%v) = %d, want %d", []byte(k), got, want)
		}
	}

	if e.htMapping.len() < 2 {
		t.Fatalf("htMapping has %d sectors after %d keys, want a resize to have occurred", e.htMapping.len(), len(model))
	}
}

// TestHtDeleteRepairsProbeChain verifies that deleting a slot in the middle
// of a probe chain does not strand a later key whose home slot collides
// with the deleted one.
func TestHtDeleteRepairsProbeChain(t *testing.T) {
	e := newTestEngineRaw(t)

	// Insert keys into the single initial sector; any whose home slots
	// collide form probe chains.
	keys := make([][]byte, 64)
	for i := range keys {
		keys[i] = []byte{byte(i), byte(i * 7)}
		e.HtSet(keys[i], int64(i+1))
	}

	// Delete every third key, then verify every surviving key is still
	// reachable.
	for i := 0; i < len(keys); i += 3 {
		e.HtDelete(keys[i])
	}

	for i, k := range keys {
		want := i%3 != 0
		_, ok := e.HtGet(k)
		if ok != want {
			t.Fatalf("HtGet(key %d) found=%v, want %v", i, ok, want)
		}
	}
}

// TestResizePreservesMapping drives 95% of a sector's worth of distinct keys
// into the initial sector, enough to force a resize-by-split, then verifies
// every key inserted so far is still reachable, that the index has more
// than one sector, and that a sector key other than the initial all-zero
// key exists.
func TestResizePreservesMapping(t *testing.T) {
	e := newTestEngineRaw(t)

	const n = int(slotsInSector * 95 / 100)
	keys := make([][]byte, n)
	for i := 0; i < n; i++ {
		keys[i] = []byte{byte(i), byte(i >> 8), byte(i >> 16), byte(i >> 24)}
		e.HtSet(keys[i], int64(i+1))
	}

	if e.htMapping.len() < 2 {
		t.Fatalf("htMapping has %d sectors after %d inserts, want a resize to have occurred", e.htMapping.len(), n)
	}

	for i, k := range keys {
		v, ok := e.HtGet(k)
		if !ok || v != int64(i+1) {
			t.Fatalf("HtGet(key %d) = %d, %v; want %d, true", i, v, ok, i+1)
		}
	}

	// Every sector key other than the all-zero initial key must be the
	// median of some split; spot-check that at least one non-zero sector
	// key exists (the split always installs exactly one such key).
	foundNonZero := false
	for i := 0; i < e.htMapping.len(); i++ {
		// orderedMap doesn't expose iteration by index publicly outside
		// package, but this test lives in-package so direct field access
		// is fine.
		key := e.htMapping.keys[i]
		if key != ([hashLen]byte{}) {
			foundNonZero = true
		}
	}
	if !foundNonZero {
		t.Fatalf("htMapping has no non-zero sector key after a resize")
	}
}
