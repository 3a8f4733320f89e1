package walog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novasql/internal/stats"
)

func newTestManager(t *testing.T, enableLogging bool) *Manager {
	t.Helper()
	m, err := Open(filepath.Join(t.TempDir(), "test.wal"), enableLogging, stats.New())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestManager_AppendAssignsMonotonicLSNs(t *testing.T) {
	m := newTestManager(t, true)

	lsn1, err := m.Append(NewBegin(1, -1))
	require.NoError(t, err)
	lsn2, err := m.Append(NewCommit(1, lsn1))
	require.NoError(t, err)
	require.Less(t, lsn1, lsn2)
}

func TestManager_AppendNoopWhenLoggingDisabled(t *testing.T) {
	m := newTestManager(t, false)
	lsn, err := m.Append(NewBegin(1, -1))
	require.NoError(t, err)
	require.Equal(t, InvalidLSN, lsn)
}

func TestManager_FlushAdvancesPersistentLSN(t *testing.T) {
	m := newTestManager(t, true)
	lsn, err := m.Append(NewBegin(1, -1))
	require.NoError(t, err)
	require.NoError(t, m.Flush(lsn))
	require.Equal(t, lsn, m.PersistentLSN())
}

func TestManager_ReplayReturnsRecordsInAppendOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.wal")
	m, err := Open(path, true, stats.New())
	require.NoError(t, err)

	lsnBegin, err := m.Append(NewBegin(1, -1))
	require.NoError(t, err)
	_, err = m.Append(NewInsert(1, lsnBegin, RID{PageID: 2, Slot: 0}, []byte("row")))
	require.NoError(t, err)
	require.NoError(t, m.Flush(-1))
	require.NoError(t, m.Close())

	m2, err := Open(path, true, stats.New())
	require.NoError(t, err)
	defer func() { _ = m2.Close() }()

	records, err := m2.Replay()
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, KindBegin, records[0].Kind)
	require.Equal(t, KindInsert, records[1].Kind)
	require.True(t, records[0].LSN < records[1].LSN)
}

func TestManager_ReopenResumesLSNAboveExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.wal")
	m1, err := Open(path, true, stats.New())
	require.NoError(t, err)
	lastLSN, err := m1.Append(NewBegin(1, -1))
	require.NoError(t, err)
	require.NoError(t, m1.Flush(-1))
	require.NoError(t, m1.Close())

	m2, err := Open(path, true, stats.New())
	require.NoError(t, err)
	defer func() { _ = m2.Close() }()

	nextLSN, err := m2.Append(NewCommit(1, lastLSN))
	require.NoError(t, err)
	require.Greater(t, nextLSN, lastLSN)
}
