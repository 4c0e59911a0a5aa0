// Key hashing. Every user key is reduced to a fixed-width, salted,
// truncated hash before it ever touches the hash index or the value log.
// The salt is per-database (set at Open) so that two engines never agree
// on probe order for the same key, which would otherwise make the on-disk
// layout predictable from the key set alone.
package store

import (
	"golang.org/x/crypto/blake2b"

	"github.com/zeebo/blake3"
)

// hashKey returns the hashLen-byte truncated, salted hash of key, using the
// algorithm selected by alg (see AlgBlake3, AlgBlake2b).
func hashKey(salt [32]byte, key []byte, alg int) [hashLen]byte {
	switch alg {
	case AlgBlake2b:
		return hashBlake2b(salt, key)
	default:
		return hashBlake3(salt, key)
	}
}

func hashBlake3(salt [32]byte, key []byte) [hashLen]byte {
	h := blake3.New()
	h.Write(salt[:])
	h.Write(key)
	var out [hashLen]byte
	sum := h.Sum(nil)
	copy(out[:], sum[:hashLen])
	return out
}

func hashBlake2b(salt [32]byte, key []byte) [hashLen]byte {
	h, _ := blake2b.New256(nil)
	h.Write(salt[:])
	h.Write(key)
	var out [hashLen]byte
	sum := h.Sum(nil)
	copy(out[:], sum[:hashLen])
	return out
}
