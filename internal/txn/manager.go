package txn

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tuannm99/novasql/internal/lock"
	"github.com/tuannm99/novasql/internal/stats"
	"github.com/tuannm99/novasql/internal/walog"
)

var logPrefix = "txn: "

// Manager is the transaction manager of spec §4.9: a monotonic txn-id
// counter and a map of live transactions, coordinating with the log
// and lock managers at Begin/Commit/Abort.
type Manager struct {
	mu  sync.Mutex
	txs map[uint32]*Transaction

	nextID atomic.Uint32

	log  *walog.Manager
	lock *lock.Manager
	stat *stats.Stats
}

// NewManager builds a transaction manager bound to log and lock.
func NewManager(log *walog.Manager, lockMgr *lock.Manager, stat *stats.Stats) *Manager {
	return &Manager{
		txs:  make(map[uint32]*Transaction),
		log:  log,
		lock: lockMgr,
		stat: stat,
	}
}

// Begin allocates a new transaction, appends its BEGIN record, and
// registers it in the transaction table (spec §4.9 Begin).
func (m *Manager) Begin(isolation IsolationLevel) (*Transaction, error) {
	id := m.nextID.Add(1)
	t := newTransaction(id, isolation)

	lsn, err := m.log.Append(walog.NewBegin(id, -1))
	if err != nil {
		return nil, err
	}
	t.SetLastLSN(lsn)

	m.mu.Lock()
	m.txs[id] = t
	m.mu.Unlock()

	m.stat.RecordTxnBegin()
	slog.Debug(logPrefix+"Begin", "txn", id, "lsn", lsn)
	return t, nil
}

// Lookup returns the live transaction with the given id, if any.
func (m *Manager) Lookup(id uint32) (*Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txs[id]
	return t, ok
}

// Commit appends a COMMIT record, forces the log up to it (the WAL
// commit rule: durability is only guaranteed once this returns),
// releases every lock the transaction holds, and removes it from the
// table (spec §4.9 Commit).
func (m *Manager) Commit(t *Transaction) error {
	t.SetState(lock.Committed)

	lsn, err := m.log.Append(walog.NewCommit(t.ID(), t.LastLSN()))
	if err != nil {
		return err
	}
	t.SetLastLSN(lsn)

	if err := m.log.Flush(lsn); err != nil {
		return err
	}

	m.lock.UnlockAll(t, t.HeldLocks())
	m.forget(t.ID())

	m.stat.RecordTxnCommit(time.Since(t.StartTime()).Microseconds())
	slog.Debug(logPrefix+"Commit", "txn", t.ID(), "lsn", lsn)
	return nil
}

// Abort appends an ABORT record, forces it, releases locks, and
// removes the transaction from the table (spec §4.9 Abort). Per spec
// §4.9 and §9, this does not itself undo the transaction's data
// changes — undo of an in-flight abort is the caller's responsibility
// (typically the execution engine reverting pages through the buffer
// pool before the locks are released); this recovery core's own Undo
// runs only against transactions that were still active at a crash.
func (m *Manager) Abort(t *Transaction) error {
	t.SetState(lock.Aborted)

	lsn, err := m.log.Append(walog.NewAbort(t.ID(), t.LastLSN()))
	if err != nil {
		return err
	}
	t.SetLastLSN(lsn)

	if err := m.log.Flush(lsn); err != nil {
		return err
	}

	m.lock.UnlockAll(t, t.HeldLocks())
	m.forget(t.ID())

	m.stat.RecordTxnAbort(time.Since(t.StartTime()).Microseconds())
	slog.Debug(logPrefix+"Abort", "txn", t.ID(), "lsn", lsn)
	return nil
}

func (m *Manager) forget(id uint32) {
	m.mu.Lock()
	delete(m.txs, id)
	m.mu.Unlock()
}

// Shutdown aborts every transaction still GROWING or SHRINKING and
// releases its locks, mirroring the teacher's transaction manager
// destructor behavior of never leaving dangling lock state behind.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	live := make([]*Transaction, 0, len(m.txs))
	for _, t := range m.txs {
		if t.State() == lock.Growing || t.State() == lock.Shrinking {
			live = append(live, t)
		}
	}
	m.mu.Unlock()

	for _, t := range live {
		t.SetState(lock.Aborted)
		m.lock.UnlockAll(t, t.HeldLocks())
		m.forget(t.ID())
	}
}
