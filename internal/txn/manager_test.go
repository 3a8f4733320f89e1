package txn

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novasql/internal/lock"
	"github.com/tuannm99/novasql/internal/stats"
	"github.com/tuannm99/novasql/internal/walog"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	stat := stats.New()
	logMgr, err := walog.Open(filepath.Join(t.TempDir(), "test.wal"), true, stat)
	require.NoError(t, err)
	t.Cleanup(func() { _ = logMgr.Close() })

	lockMgr := lock.NewManager(50*time.Millisecond, stat)
	return NewManager(logMgr, lockMgr, stat)
}

func TestManager_BeginAssignsIncreasingIDs(t *testing.T) {
	m := newTestManager(t)
	t1, err := m.Begin(ReadCommitted)
	require.NoError(t, err)
	t2, err := m.Begin(ReadCommitted)
	require.NoError(t, err)
	require.Less(t, t1.ID(), t2.ID())
	require.Equal(t, lock.Growing, t1.State())
}

func TestManager_CommitReleasesLocksAndForgetsTxn(t *testing.T) {
	m := newTestManager(t)
	t1, err := m.Begin(ReadCommitted)
	require.NoError(t, err)

	rid := lock.RID{PageID: 1, Slot: 0}
	require.True(t, m.lock.LockExclusive(t1, rid))

	require.NoError(t, m.Commit(t1))
	require.Equal(t, lock.Committed, t1.State())

	_, ok := m.Lookup(t1.ID())
	require.False(t, ok)

	// The lock must now be free for another transaction.
	t2, err := m.Begin(ReadCommitted)
	require.NoError(t, err)
	require.True(t, m.lock.LockExclusive(t2, rid))
}

func TestManager_AbortReleasesLocks(t *testing.T) {
	m := newTestManager(t)
	t1, err := m.Begin(ReadCommitted)
	require.NoError(t, err)

	rid := lock.RID{PageID: 2, Slot: 0}
	require.True(t, m.lock.LockExclusive(t1, rid))

	require.NoError(t, m.Abort(t1))
	require.Equal(t, lock.Aborted, t1.State())

	t2, err := m.Begin(ReadCommitted)
	require.NoError(t, err)
	require.True(t, m.lock.LockExclusive(t2, rid))
}

func TestManager_ShutdownAbortsLiveTransactions(t *testing.T) {
	m := newTestManager(t)
	t1, err := m.Begin(ReadCommitted)
	require.NoError(t, err)

	rid := lock.RID{PageID: 3, Slot: 0}
	require.True(t, m.lock.LockExclusive(t1, rid))

	m.Shutdown()
	require.Equal(t, lock.Aborted, t1.State())
	_, ok := m.Lookup(t1.ID())
	require.False(t, ok)
}
