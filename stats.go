// Structured diagnostics over engine state, generalizing the original
// first/next logical offset print into a richer, machine-readable snapshot.
package store

import (
	json "github.com/goccy/go-json"
)

// Stats is a point-in-time snapshot of engine bookkeeping, useful for
// operators and tests; it is never consulted by the engine itself.
type Stats struct {
	FileSize              int64 `json:"file_size"`
	FreeListHead          int64 `json:"free_list_head"`
	FirstValueLogical     int64 `json:"first_value_logical"`
	NextValueLogical      int64 `json:"next_value_logical"`
	HashIndexSectorCount  int   `json:"hash_index_sector_count"`
	ValueSectorCount      int   `json:"value_sector_count"`
	DelmapSectorCount     int   `json:"delmap_sector_count"`
	DeletionCreditBalance int64 `json:"deletion_credit_balance"`
}

// Stats returns a snapshot of the engine's current bookkeeping state.
func (e *Engine) Stats() Stats {
	return Stats{
		FileSize:              int64(e.tx.getNum(e.file, hdrFileSizeOffset)),
		FreeListHead:          int64(e.tx.getNum(e.file, hdrFreeListOffset)),
		FirstValueLogical:     int64(e.tx.getNum(e.file, hdrFirstValueLogicalOff)),
		NextValueLogical:      int64(e.tx.getNum(e.file, hdrNextValueLogicalOff)),
		HashIndexSectorCount:  e.htMapping.len(),
		ValueSectorCount:      e.valuesMapping.len(),
		DelmapSectorCount:     e.delmapMapping.len(),
		DeletionCreditBalance: e.delBalance,
	}
}

// PrintStats logs a structured diagnostic snapshot of the engine.
func (e *Engine) PrintStats() {
	data, err := json.Marshal(e.Stats())
	if err != nil {
		e.log.Errorw("marshal stats", "error", err)
		return
	}
	e.log.Infow("stats", "snapshot", string(data))
}
