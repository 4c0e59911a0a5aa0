package store

import "errors"

// Sentinel errors returned by engine operations. Callers use errors.Is to
// decide how to handle failures; absent-key Get/Delete is not one of these,
// it is a normal ok=false/noop result, not an error.
var (
	// ErrClosed is returned by Close when the Engine is already closed.
	// Other methods do not check whether the Engine has been closed.
	ErrClosed = errors.New("store: engine is closed")

	// ErrCorruptHeader is returned when the file header cannot be parsed
	// (wrong size, or fields imply an inconsistent file layout).
	ErrCorruptHeader = errors.New("store: corrupt file header")

	// ErrCorruptSector is returned when a sector's page-type byte does not
	// match any known type during the boot-time directory scan.
	ErrCorruptSector = errors.New("store: corrupt sector header")

	// ErrCorruptWAL names a malformed write-ahead log. No operation returns
	// it: maybeReplayLog reports a malformed log by returning false, the log
	// is silently discarded, and Open proceeds on the last durable
	// data-file state.
	ErrCorruptWAL = errors.New("store: corrupt write-ahead log")

	// ErrShapeMismatch is the panic value used when a transaction records
	// two different-length writes at the same file offset: a prior set at
	// that offset and the new one must agree on length, since slot and
	// page layouts never change shape in place. This is a programmer
	// error, not a runtime condition.
	ErrShapeMismatch = errors.New("store: transaction write shape mismatch")
)
