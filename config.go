package store

import (
	"runtime"

	"go.uber.org/zap"
)

// Hash algorithm selectors for Config.HashAlgorithm.
const (
	AlgBlake3  = 1 // default: BLAKE3(salt || key), truncated to hashLen bytes
	AlgBlake2b = 2 // alternate: BLAKE2b-256(salt || key), truncated to hashLen bytes
)

// Config holds engine configuration options.
type Config struct {
	// Salt is mixed into every key hash. A zero salt is valid but means all
	// databases opened with the zero salt share the same hash space.
	Salt [32]byte

	// HashAlgorithm selects the key-hash function. Zero defaults to AlgBlake3.
	HashAlgorithm int

	// SyncWrites calls fsync on the data file after every flush_changes.
	SyncWrites bool

	// FlushWorkers bounds the parallel fan-out of flush_changes. Zero
	// defaults to runtime.GOMAXPROCS(0).
	FlushWorkers int

	// Logger receives structured diagnostic events (sector allocation,
	// resize, compaction reclamation, WAL replay outcome). Nil defaults to
	// a no-op logger; Logger is never used to report caller-facing errors.
	Logger *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.HashAlgorithm == 0 {
		c.HashAlgorithm = AlgBlake3
	}
	if c.FlushWorkers == 0 {
		c.FlushWorkers = runtime.GOMAXPROCS(0)
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}
