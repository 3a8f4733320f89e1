// Package txn implements the transaction of spec §3 and the
// transaction manager of spec §4.9: Begin/Commit/Abort, coordinating
// the log manager and the lock manager. Per spec §9's layered-ownership
// note, txn depends on lock and walog; neither depends back on txn.
package txn

import (
	"time"

	"github.com/tuannm99/novasql/internal/lock"
)

// IsolationLevel mirrors the original system's isolation levels; this
// core does not implement MVCC (spec Non-goals), so every level maps
// onto the same strict-2PL S/X locking discipline — the field exists
// so callers can record and later honor stricter read-locking policies
// without changing the transaction's shape.
type IsolationLevel int

const (
	ReadUncommitted IsolationLevel = iota
	ReadCommitted
	RepeatableRead
	Serializable
)

// Transaction is spec §3's Transaction type: identifier, isolation
// level, 2PL state, the LSN of its most recent log record, the S/X
// lock sets it holds, and a start timestamp.
type Transaction struct {
	id        uint32
	isolation IsolationLevel
	state     lock.State
	lastLSN   int32
	startTime time.Time

	sharedLocks    map[lock.RID]struct{}
	exclusiveLocks map[lock.RID]struct{}
}

func newTransaction(id uint32, isolation IsolationLevel) *Transaction {
	return &Transaction{
		id:             id,
		isolation:      isolation,
		state:          lock.Growing,
		lastLSN:        -1,
		startTime:      time.Now(),
		sharedLocks:    make(map[lock.RID]struct{}),
		exclusiveLocks: make(map[lock.RID]struct{}),
	}
}

// ID returns the transaction's identifier.
func (t *Transaction) ID() uint32 { return t.id }

// Isolation returns the transaction's isolation level.
func (t *Transaction) Isolation() IsolationLevel { return t.isolation }

// State returns the transaction's current 2PL phase.
func (t *Transaction) State() lock.State { return t.state }

// SetState transitions the transaction's 2PL phase. Invariant (spec
// §3): no lock acquisition may succeed while state != GROWING; that
// rule is enforced by the lock manager, not here.
func (t *Transaction) SetState(s lock.State) { t.state = s }

// LastLSN is the LSN of this transaction's most recent log record.
func (t *Transaction) LastLSN() int32 { return t.lastLSN }

// SetLastLSN updates the transaction's log chain pointer.
func (t *Transaction) SetLastLSN(lsn int32) { t.lastLSN = lsn }

// StartTime is when Begin constructed this transaction.
func (t *Transaction) StartTime() time.Time { return t.startTime }

// HasShared/HasExclusive/AddShared/AddExclusive/RemoveShared/
// RemoveExclusive implement lock.Txn so the lock manager can read and
// mutate this transaction's held-lock sets directly.
func (t *Transaction) HasShared(rid lock.RID) bool {
	_, ok := t.sharedLocks[rid]
	return ok
}
func (t *Transaction) HasExclusive(rid lock.RID) bool {
	_, ok := t.exclusiveLocks[rid]
	return ok
}
func (t *Transaction) AddShared(rid lock.RID)    { t.sharedLocks[rid] = struct{}{} }
func (t *Transaction) AddExclusive(rid lock.RID) { t.exclusiveLocks[rid] = struct{}{} }
func (t *Transaction) RemoveShared(rid lock.RID) { delete(t.sharedLocks, rid) }
func (t *Transaction) RemoveExclusive(rid lock.RID) {
	delete(t.exclusiveLocks, rid)
}

// HeldLocks returns the union of this transaction's S and X resource
// sets, used by UnlockAll at Commit/Abort.
func (t *Transaction) HeldLocks() []lock.RID {
	out := make([]lock.RID, 0, len(t.sharedLocks)+len(t.exclusiveLocks))
	for rid := range t.sharedLocks {
		out = append(out, rid)
	}
	for rid := range t.exclusiveLocks {
		if _, dup := t.sharedLocks[rid]; !dup {
			out = append(out, rid)
		}
	}
	return out
}

var _ lock.Txn = (*Transaction)(nil)
