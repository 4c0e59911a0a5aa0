// Engine ties the sector allocator, hash index, value log, deletion bitmap,
// and write-ahead log into a single embedded key-value store.
package store

import (
	"fmt"
	"os"

	"go.uber.org/zap"
)

// Engine is a single-writer, single-file embedded key-value store. It is not
// safe for concurrent use from multiple goroutines without external
// synchronization: every exported method assumes it is the only caller in
// flight at a time.
type Engine struct {
	path   string
	file   *os.File
	config Config
	salt   [32]byte
	log    *zap.SugaredLogger

	tx *txn

	htMapping     *orderedMap[[hashLen]byte, int64]
	valuesMapping *orderedMap[int64, int64]
	delmapMapping *orderedMap[int64, int64]

	writesSinceResize int64
	delBalance        int64

	closed bool
}

func hashLessKey(a, b [hashLen]byte) bool { return hashLess(a, b) }

func int64Less(a, b int64) bool { return a < b }

// Open opens the data file at path, creating it (and its first hash-index
// sector) if it does not already exist. If wal is non-nil, Open attempts to
// replay it: a well-formed log is flushed into the data file before the
// boot-time directory scan runs; a malformed one is discarded silently and
// Open proceeds on the last durable data-file state.
func Open(path string, config Config, wal *os.File) (*Engine, error) {
	config = config.withDefaults()

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	if err := initIfEmpty(f); err != nil {
		f.Close()
		return nil, err
	}

	t := newTxn()

	replayed := false
	if wal != nil {
		replayed = t.maybeReplayLog(wal)
	}

	e := &Engine{
		path:          path,
		file:          f,
		config:        config,
		salt:          config.Salt,
		log:           config.Logger.Sugar(),
		tx:            t,
		htMapping:     newOrderedMap[[hashLen]byte, int64](hashLessKey),
		valuesMapping: newOrderedMap[int64, int64](int64Less),
		delmapMapping: newOrderedMap[int64, int64](int64Less),
	}

	if replayed {
		e.log.Infow("replayed write-ahead log", "path", path)
		if err := e.tx.flushChanges(path, config.FlushWorkers); err != nil {
			f.Close()
			return nil, fmt.Errorf("store: flush replayed log: %w", err)
		}
		e.tx = newTxn()
	} else if wal != nil {
		e.log.Infow("no write-ahead log replayed", "path", path)
	}

	if err := e.scanDirectories(); err != nil {
		f.Close()
		return nil, err
	}

	return e, nil
}

// initIfEmpty writes the initial two-sector file layout (file header plus a
// single pre-made hash-index sector keyed at the zero hash) the first time
// path is opened. The value-log and delmap physical write cursors are seeded
// to firstSectorOffset so the very first value write allocates its own
// sectors rather than colliding with the pre-made hash-index sector.
func initIfEmpty(f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("store: stat: %w", err)
	}
	if info.Size() >= firstSectorOffset+sectorSize {
		return nil
	}

	data := make([]byte, firstSectorOffset+sectorSize)
	copy(data[hdrFileSizeOffset:hdrFileSizeOffset+8], putLEUint64(firstSectorOffset+sectorSize))
	copy(data[hdrNextValuePhysicalOff:hdrNextValuePhysicalOff+8], putLEUint64(firstSectorOffset))
	copy(data[hdrNextDelmapPhysicalOff:hdrNextDelmapPhysicalOff+8], putLEUint64(firstSectorOffset))
	copy(data[firstSectorOffset+secPageTypeOffset:firstSectorOffset+secPageTypeOffset+8], putLEUint64(pageTypeHash))

	if _, err := f.WriteAt(data, 0); err != nil {
		return fmt.Errorf("store: write initial layout: %w", err)
	}
	return nil
}

// scanDirectories walks every sector in the file and rebuilds htMapping,
// valuesMapping, and delmapMapping from their on-disk headers. This is the
// only source of truth for the three directories: nothing about them is
// separately persisted.
func (e *Engine) scanDirectories() error {
	fileSize := int64(e.tx.getNum(e.file, hdrFileSizeOffset))

	offset := int64(firstSectorOffset)
	for offset < fileSize {
		pageType := e.tx.getNum(e.file, offset+secPageTypeOffset)
		switch pageType {
		case pageTypeHash:
			var key [hashLen]byte
			copy(key[:], e.tx.get(e.file, offset, hashLen))
			e.htMapping.set(key, offset)
		case pageTypeValues:
			logical := int64(e.tx.getNum(e.file, offset))
			e.valuesMapping.set(logical, offset+valueSlotSize)
		case pageTypeDelmap:
			logical := int64(e.tx.getNum(e.file, offset))
			e.delmapMapping.set(logical, offset+firstSlotOffset)
		case pageTypeFree:
			// no directory entry
		default:
			return fmt.Errorf("%w: unrecognized page type %d at offset %d", ErrCorruptSector, pageType, offset)
		}
		offset += sectorSize
	}
	if offset != fileSize {
		return fmt.Errorf("%w: file size %d is not sector-aligned", ErrCorruptHeader, fileSize)
	}
	return nil
}

// Close flushes any buffered changes and closes the underlying file.
func (e *Engine) Close() error {
	if e.closed {
		return ErrClosed
	}
	e.closed = true
	if err := e.FlushChanges(); err != nil {
		e.file.Close()
		return err
	}
	return e.file.Close()
}

// FlushChanges durably writes every buffered change to the data file, fanned
// out across Config.FlushWorkers workers, each touching a disjoint set of
// pages. If Config.SyncWrites is set, it fsyncs the file afterward.
func (e *Engine) FlushChanges() error {
	if err := e.tx.flushChanges(e.path, e.config.FlushWorkers); err != nil {
		return err
	}
	if e.config.SyncWrites {
		if err := e.file.Sync(); err != nil {
			return fmt.Errorf("store: sync: %w", err)
		}
	}
	return nil
}

// WriteToLog serializes the pending (unflushed) transaction into wal, so it
// can be replayed by a future Open after a crash.
func (e *Engine) WriteToLog(wal *os.File) error {
	return e.tx.writeToLog(wal)
}

// ResetDelBalance zeroes the deletion-credit balance that drives background
// compaction. Intended as a test and operator escape hatch.
func (e *Engine) ResetDelBalance() {
	e.delBalance = 0
}

func (e *Engine) hashOf(key []byte) [hashLen]byte {
	return hashKey(e.salt, key, e.config.HashAlgorithm)
}
