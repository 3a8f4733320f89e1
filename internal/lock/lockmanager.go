// Package lock implements the strict two-phase lock manager of spec
// §4.8: per-resource request queues with S/X compatibility, upgrade,
// and a bounded per-request wait instead of deadlock detection (spec
// §4.8 "Deadlock handling"). Per spec §9's cyclic-reference note, this
// package never imports internal/txn; txn.Transaction instead
// satisfies the small Txn interface declared here, so the dependency
// runs one way: txn -> lock.
package lock

import (
	"log/slog"
	"sync"
	"time"

	"github.com/tuannm99/novasql/internal/stats"
)

var logPrefix = "lock: "

// Mode is a lock's requested mode (spec §3 lock table entry).
type Mode int

const (
	Shared Mode = iota
	Exclusive
)

func (m Mode) String() string {
	if m == Shared {
		return "S"
	}
	return "X"
}

// compatible implements spec §4.8's compatibility matrix: S/S
// compatible, everything else incompatible.
func compatible(a, b Mode) bool {
	return a == Shared && b == Shared
}

// State is a transaction's 2PL phase (spec §3 Transaction).
type State int

const (
	Growing State = iota
	Shrinking
	Committed
	Aborted
)

// RID identifies a lockable resource: a record on a page (spec §3).
type RID struct {
	PageID int32
	Slot   int32
}

// Txn is the view of a transaction the lock manager needs: its id,
// its 2PL state, and its held-lock sets. internal/txn.Transaction
// implements this.
type Txn interface {
	ID() uint32
	State() State
	SetState(State)
	HasShared(RID) bool
	HasExclusive(RID) bool
	AddShared(RID)
	AddExclusive(RID)
	RemoveShared(RID)
	RemoveExclusive(RID)
}

// request is one transaction's outstanding ask for a resource.
type request struct {
	txnID   uint32
	mode    Mode
	granted bool
}

// queue is the per-resource structure of spec §4.8: an ordered list of
// requests plus an "upgrading in progress" guard. wake is closed and
// replaced every time the queue's grantability might have changed, so
// waiters parked on it are woken (a channel-based substitute for a
// condition variable that composes cleanly with time.After timeouts).
type queue struct {
	requests  []*request
	upgrading bool
	wake      chan struct{}
}

func newQueue() *queue {
	return &queue{wake: make(chan struct{})}
}

func (q *queue) broadcast() {
	close(q.wake)
	q.wake = make(chan struct{})
}

// Manager is the lock manager of spec §4.8: a global map of RID ->
// queue guarded by a single latch, with a bounded per-request timeout
// standing in for deadlock detection.
type Manager struct {
	mu      sync.Mutex
	table   map[RID]*queue
	timeout time.Duration
	stat    *stats.Stats
}

// DefaultTimeout is spec §6.3's lock_timeout default.
const DefaultTimeout = 100 * time.Millisecond

// NewManager builds a lock manager with the given per-request timeout
// (spec §6.3 lock_timeout; pass <= 0 for DefaultTimeout).
func NewManager(timeout time.Duration, stat *stats.Stats) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Manager{table: make(map[RID]*queue), timeout: timeout, stat: stat}
}

func (m *Manager) queueFor(rid RID) *queue {
	q, ok := m.table[rid]
	if !ok {
		q = newQueue()
		m.table[rid] = q
	}
	return q
}

// grantable implements spec §4.8's grant rule: req is grantable iff it
// is compatible with every other request that precedes it in the
// queue, granted or not. A request still waiting its turn holds its
// place in line (spec §5 FIFO: a request not yet granted cannot be
// overtaken by a later-arriving conflicting request), so an
// ungranted, mode-incompatible request ahead of req must block req
// exactly as a granted one would. If an upgrade is in progress, req
// must be the upgrading request itself. Caller holds m.mu.
func grantable(req *request, q *queue) bool {
	for _, other := range q.requests {
		if other == req {
			break
		}
		if other.txnID == req.txnID {
			continue
		}
		if !compatible(req.mode, other.mode) {
			return false
		}
	}
	if q.upgrading && req.mode != Exclusive {
		return false
	}
	return true
}

// grantNewLocksLocked re-scans the queue from the front, granting every
// request now grantable (spec §4.8 Unlock). Caller holds m.mu.
func grantNewLocksLocked(q *queue) {
	for _, req := range q.requests {
		if !req.granted && grantable(req, q) {
			req.granted = true
		}
	}
}

func checkAbort(txn Txn) bool { return txn.State() == Aborted }

// LockShared acquires a shared lock on rid for txn (spec §4.8
// LockShared).
func (m *Manager) LockShared(txn Txn, rid RID) bool {
	return m.acquire(txn, rid, Shared)
}

// LockExclusive acquires an exclusive lock on rid for txn (spec §4.8
// LockExclusive).
func (m *Manager) LockExclusive(txn Txn, rid RID) bool {
	return m.acquire(txn, rid, Exclusive)
}

func (m *Manager) acquire(txn Txn, rid RID, mode Mode) bool {
	m.mu.Lock()

	if txn.State() == Shrinking {
		txn.SetState(Aborted)
		m.mu.Unlock()
		return false
	}
	if mode == Shared && (txn.HasShared(rid) || txn.HasExclusive(rid)) {
		m.mu.Unlock()
		return true
	}
	if mode == Exclusive && txn.HasExclusive(rid) {
		m.mu.Unlock()
		return true
	}

	q := m.queueFor(rid)
	req := &request{txnID: txn.ID(), mode: mode}
	q.requests = append(q.requests, req)

	if grantable(req, q) {
		req.granted = true
		addToSet(txn, mode, rid)
		m.stat.RecordLockGrantImmediate()
		m.mu.Unlock()
		slog.Debug(logPrefix+"granted immediately", "txn", txn.ID(), "rid", rid, "mode", mode)
		return true
	}

	ok := m.waitLocked(txn, q, req)
	if ok {
		addToSet(txn, mode, rid)
		m.stat.RecordLockGrantAfterWait()
	} else {
		removeRequest(q, req)
		grantNewLocksLocked(q)
		q.broadcast()
		m.stat.RecordLockTimeout()
	}
	m.mu.Unlock()
	return ok
}

// waitLocked blocks the caller (releasing m.mu while parked) until req
// is granted, the transaction is observed aborted, or the timeout
// elapses; a timeout marks txn ABORTED. Caller holds m.mu on entry and
// on every return.
func (m *Manager) waitLocked(txn Txn, q *queue, req *request) bool {
	deadline := time.Now().Add(m.timeout)
	for {
		if checkAbort(txn) {
			return false
		}
		if req.granted {
			return true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			txn.SetState(Aborted)
			return false
		}
		wake := q.wake
		m.mu.Unlock()
		select {
		case <-wake:
		case <-time.After(remaining):
		}
		m.mu.Lock()
	}
}

func addToSet(txn Txn, mode Mode, rid RID) {
	if mode == Shared {
		txn.AddShared(rid)
	} else {
		txn.AddExclusive(rid)
	}
}

func removeRequest(q *queue, target *request) {
	for i, r := range q.requests {
		if r == target {
			q.requests = append(q.requests[:i], q.requests[i+1:]...)
			return
		}
	}
}

// LockUpgrade upgrades txn's existing S lock on rid to X (spec §4.8
// LockUpgrade). Only one upgrade per resource may be in flight; a
// second concurrent upgrader is refused (false) and marked ABORTED.
func (m *Manager) LockUpgrade(txn Txn, rid RID) bool {
	m.mu.Lock()

	if txn.State() == Shrinking {
		txn.SetState(Aborted)
		m.mu.Unlock()
		return false
	}
	if txn.HasExclusive(rid) {
		m.mu.Unlock()
		return true
	}
	if !txn.HasShared(rid) {
		m.mu.Unlock()
		return false
	}

	q := m.queueFor(rid)
	if q.upgrading {
		txn.SetState(Aborted)
		m.stat.RecordLockUpgradeConflict()
		m.mu.Unlock()
		return false
	}
	q.upgrading = true

	var req *request
	for _, r := range q.requests {
		if r.txnID == txn.ID() {
			req = r
			break
		}
	}
	if req == nil {
		q.upgrading = false
		m.mu.Unlock()
		return false
	}

	txn.RemoveShared(rid)
	req.mode = Exclusive
	req.granted = false

	if grantable(req, q) {
		req.granted = true
		txn.AddExclusive(rid)
		q.upgrading = false
		q.broadcast()
		m.stat.RecordLockGrantImmediate()
		m.mu.Unlock()
		return true
	}

	ok := m.waitLocked(txn, q, req)
	if ok {
		txn.AddExclusive(rid)
		q.upgrading = false
		q.broadcast()
		m.stat.RecordLockGrantAfterWait()
		m.mu.Unlock()
		return true
	}

	// Failed upgrade: restore the S grant exactly as it was (spec §4.8).
	txn.AddShared(rid)
	req.mode = Shared
	req.granted = true
	q.upgrading = false
	q.broadcast()
	m.stat.RecordLockTimeout()
	m.mu.Unlock()
	return false
}

// Unlock releases txn's lock on rid, transitioning txn to SHRINKING on
// its first unlock (spec §4.8 Unlock).
func (m *Manager) Unlock(txn Txn, rid RID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if txn.State() == Growing {
		txn.SetState(Shrinking)
	}

	found := false
	if txn.HasShared(rid) {
		txn.RemoveShared(rid)
		found = true
	}
	if txn.HasExclusive(rid) {
		txn.RemoveExclusive(rid)
		found = true
	}
	if !found {
		return false
	}

	q, ok := m.table[rid]
	if !ok {
		return true
	}
	removeTxnRequests(q, txn.ID())
	grantNewLocksLocked(q)
	q.broadcast()
	return true
}

// UnlockAll releases every lock txn holds (spec §4.8 UnlockAll), used
// by the transaction manager at Commit/Abort.
func (m *Manager) UnlockAll(txn Txn, held []RID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rid := range held {
		txn.RemoveShared(rid)
		txn.RemoveExclusive(rid)

		q, ok := m.table[rid]
		if !ok {
			continue
		}
		removeTxnRequests(q, txn.ID())
		grantNewLocksLocked(q)
		q.broadcast()
	}
}

// removeTxnRequests drops every request txnID has on q (an S and a
// later X request of the same transaction can both be present).
func removeTxnRequests(q *queue, txnID uint32) {
	kept := q.requests[:0]
	for _, r := range q.requests {
		if r.txnID != txnID {
			kept = append(kept, r)
		}
	}
	q.requests = kept
}
