// Package recovery implements the ARIES-style recovery manager of spec
// §4.7: Analysis, Redo, and Undo over the sequence walog.Replay
// returns, plus the simplified Checkpoint of spec §4.7. It is grounded
// on original_source/src/recovery/recovery_manager.cpp, with its two
// known gaps closed: INSERT/UPDATE/DELETE payloads are fully parsed
// (internal/walog/record.go), and Undo walks each loser's prev-LSN
// chain one record at a time instead of dropping straight to an ABORT.
package recovery

import (
	"log/slog"

	"github.com/tuannm99/novasql/internal/buffer"
	"github.com/tuannm99/novasql/internal/storage/slotpage"
	"github.com/tuannm99/novasql/internal/walog"
)

var logPrefix = "recovery: "

// Manager drives Recover and Checkpoint against a buffer pool and the
// log manager that owns the WAL.
type Manager struct {
	pool *buffer.Pool
	log  *walog.Manager

	dpt map[int32]int32 // page id -> recLSN, from the most recent Analysis
}

// NewManager builds a recovery manager over pool and log.
func NewManager(pool *buffer.Pool, log *walog.Manager) *Manager {
	return &Manager{pool: pool, log: log}
}

// DirtyPageTable returns the page id -> recLSN map computed by the
// most recent Recover, or nil if Recover has not run.
func (m *Manager) DirtyPageTable() map[int32]int32 { return m.dpt }

// Recover runs Analysis, Redo, and Undo over the replayed log, in that
// order (spec §4.7). It is meant to be invoked once at startup, before
// any new transaction begins.
func (m *Manager) Recover() error {
	records, err := m.log.Replay()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		slog.Debug(logPrefix + "Recover: empty log, nothing to do")
		return nil
	}

	att, dpt := analyze(records)
	m.dpt = dpt
	slog.Debug(logPrefix+"Analysis complete", "losers", len(att), "dirtyPages", len(dpt))

	if err := redo(records, m.pool, dpt); err != nil {
		return err
	}
	slog.Debug(logPrefix + "Redo complete")

	lsnIndex := make(map[int32]*walog.Record, len(records))
	for _, rec := range records {
		lsnIndex[rec.LSN] = rec
	}
	losers := make(map[uint32]int32, len(att))
	origLastLSN := make(map[uint32]int32, len(att))
	for txnID, lsn := range att {
		losers[txnID] = lsn
		origLastLSN[txnID] = lsn
	}

	if err := undo(losers, origLastLSN, lsnIndex, m.pool, m.log); err != nil {
		return err
	}
	slog.Debug(logPrefix + "Undo complete")
	return nil
}

// Checkpoint flushes every dirty buffer frame and then the log (spec
// §4.7): a full ARIES fuzzy checkpoint would additionally persist
// BEGIN_CHECKPOINT/END_CHECKPOINT records carrying ATT/DPT snapshots;
// this system stops at the flush step and treats the log's current
// persistent-LSN as the checkpoint marker.
func (m *Manager) Checkpoint() error {
	if err := m.pool.FlushAllPages(); err != nil {
		return err
	}
	return m.log.Flush(-1)
}

// analyze implements spec §4.7's Analysis phase: walk records in
// order, tracking each transaction's most recent LSN in att and the
// oldest not-yet-known-flushed LSN per page in dpt.
func analyze(records []*walog.Record) (att map[uint32]int32, dpt map[int32]int32) {
	att = make(map[uint32]int32)
	dpt = make(map[int32]int32)

	for _, rec := range records {
		switch rec.Kind {
		case walog.KindBegin:
			att[rec.TxnID] = rec.LSN
		case walog.KindCommit, walog.KindAbort:
			delete(att, rec.TxnID)
		case walog.KindInsert, walog.KindUpdate, walog.KindDelete:
			att[rec.TxnID] = rec.LSN
			if _, ok := dpt[rec.RID.PageID]; !ok {
				dpt[rec.RID.PageID] = rec.LSN
			}
		}
	}
	return att, dpt
}

// redo implements spec §4.7's Redo phase: for each data record at LSN
// L touching page P, re-apply the operation and stamp page-LSN := L
// unless P is known durable past L already. dpt (built by analyze)
// gives the first pass of that filter: P's recLSN is the oldest LSN
// that might not yet be on disk, so a record older than it can only
// be redoing work the page already has. The frame's own page-LSN,
// checked once P is fetched, is the second and authoritative pass —
// it catches pages that were brought back into the pool (by an
// earlier redo step or a prior Recover) with page-LSN already >= L.
func redo(records []*walog.Record, pool *buffer.Pool, dpt map[int32]int32) error {
	for _, rec := range records {
		switch rec.Kind {
		case walog.KindInsert, walog.KindUpdate, walog.KindDelete:
		default:
			continue
		}

		recLSN, dirty := dpt[rec.RID.PageID]
		if !dirty || rec.LSN < recLSN {
			continue
		}

		frame, err := pool.FetchPage(rec.RID.PageID)
		if err != nil {
			return err
		}

		frame.Latch()
		if frame.PageLSN() >= rec.LSN {
			frame.Unlatch()
			if err := pool.UnpinPage(rec.RID.PageID, false); err != nil {
				return err
			}
			continue
		}

		switch rec.Kind {
		case walog.KindInsert:
			slotpage.InsertAt(frame.Data(), int(rec.RID.Slot), rec.NewTuple)
		case walog.KindUpdate:
			if !slotpage.UpdateTuple(frame.Data(), int(rec.RID.Slot), rec.NewTuple) {
				slotpage.InsertAt(frame.Data(), int(rec.RID.Slot), rec.NewTuple)
			}
		case walog.KindDelete:
			slotpage.DeleteTuple(frame.Data(), int(rec.RID.Slot))
		}
		frame.SetPageLSN(rec.LSN)
		frame.Unlatch()

		slog.Debug(logPrefix+"redo", "kind", rec.Kind, "rid", rec.RID, "lsn", rec.LSN)
		if err := pool.UnpinPage(rec.RID.PageID, true); err != nil {
			return err
		}
	}
	return nil
}

// undo implements spec §4.7's Undo phase. losers maps each loser
// transaction to its current position in its own prev-LSN chain;
// origLastLSN records the chain's starting LSN, used as the prev-LSN
// of the synthetic ABORT record appended once a chain is exhausted.
// Each outer iteration advances exactly one loser by exactly one
// record, picking the loser with the greatest current chain position
// (ties broken by the smaller transaction id), so concurrent losers'
// undos interleave deterministically.
func undo(losers, origLastLSN map[uint32]int32, lsnIndex map[int32]*walog.Record, pool *buffer.Pool, log *walog.Manager) error {
	for len(losers) > 0 {
		txnID := pickLoser(losers)
		lsn := losers[txnID]

		rec, ok := lsnIndex[lsn]
		if !ok {
			// Corrupt or missing chain link: give up on this loser rather
			// than undo against bad data.
			delete(losers, txnID)
			continue
		}

		switch rec.Kind {
		case walog.KindInsert, walog.KindUpdate, walog.KindDelete:
			if err := applyInverse(pool, rec); err != nil {
				return err
			}
			slog.Debug(logPrefix+"undo", "kind", rec.Kind, "rid", rec.RID, "lsn", rec.LSN)
		}

		if rec.PrevLSN == walog.InvalidLSN {
			if _, err := log.Append(walog.NewAbort(txnID, origLastLSN[txnID])); err != nil {
				return err
			}
			delete(losers, txnID)
			continue
		}
		losers[txnID] = rec.PrevLSN
	}
	return nil
}

// pickLoser returns the transaction id with the greatest current chain
// LSN, ties broken by the smaller transaction id (spec §4.7 Undo).
func pickLoser(losers map[uint32]int32) uint32 {
	var best uint32
	var bestLSN int32
	first := true

	for txnID, lsn := range losers {
		if first || lsn > bestLSN || (lsn == bestLSN && txnID < best) {
			best, bestLSN, first = txnID, lsn, false
		}
	}
	return best
}

// applyInverse undoes a single data record: INSERT deletes its tuple,
// UPDATE restores the old tuple, DELETE re-inserts the deleted tuple
// at its original RID (spec §4.7 Undo).
func applyInverse(pool *buffer.Pool, rec *walog.Record) error {
	frame, err := pool.FetchPage(rec.RID.PageID)
	if err != nil {
		return err
	}

	frame.Latch()
	switch rec.Kind {
	case walog.KindInsert:
		slotpage.DeleteTuple(frame.Data(), int(rec.RID.Slot))
	case walog.KindUpdate:
		if !slotpage.UpdateTuple(frame.Data(), int(rec.RID.Slot), rec.OldTuple) {
			slotpage.InsertAt(frame.Data(), int(rec.RID.Slot), rec.OldTuple)
		}
	case walog.KindDelete:
		slotpage.InsertAt(frame.Data(), int(rec.RID.Slot), rec.OldTuple)
	}
	frame.Unlatch()

	return pool.UnpinPage(rec.RID.PageID, true)
}
