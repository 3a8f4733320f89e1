package buffer

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novasql/internal/errs"
	"github.com/tuannm99/novasql/internal/stats"
	"github.com/tuannm99/novasql/internal/storage/diskmgr"
)

// noopLog is a LogFlusher that never errors and just counts calls, so
// buffer pool tests can assert the WAL rule fired without pulling in
// the full log manager.
type noopLog struct{ flushes int }

func (n *noopLog) Flush(lsn int32) error {
	n.flushes++
	return nil
}

func newTestPool(t *testing.T, poolSize int) (*Pool, *noopLog) {
	t.Helper()
	disk, err := diskmgr.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = disk.Close() })

	log := &noopLog{}
	return NewPool(poolSize, disk, log, stats.New()), log
}

func TestPool_NewPageThenFetchHits(t *testing.T) {
	pool, _ := newTestPool(t, 4)

	frame, id, err := pool.NewPage()
	require.NoError(t, err)
	require.NotNil(t, frame)
	require.Equal(t, int32(1), frame.PinCount())

	require.NoError(t, pool.UnpinPage(id, true))

	frame2, err := pool.FetchPage(id)
	require.NoError(t, err)
	require.Same(t, frame, frame2)
	require.Equal(t, int32(1), frame2.PinCount())
}

func TestPool_EvictsDirtyFrameAndFlushesLogFirst(t *testing.T) {
	pool, log := newTestPool(t, 1)

	frame0, id0, err := pool.NewPage()
	require.NoError(t, err)
	frame0.Data()[0] = 42
	frame0.SetPageLSN(5)
	require.NoError(t, pool.UnpinPage(id0, true))

	// Forcing a second page with only one frame evicts page 0.
	_, id1, err := pool.NewPage()
	require.NoError(t, err)
	require.NotEqual(t, id0, id1)
	require.Equal(t, 1, log.flushes)

	// Page 0's bytes must have reached disk during eviction.
	out := make([]byte, diskmgr.PageSize)
	disk := pool.disk
	require.NoError(t, disk.ReadPage(id0, out))
	require.Equal(t, byte(42), out[0])
}

func TestPool_UnpinUnknownPageErrors(t *testing.T) {
	pool, _ := newTestPool(t, 4)
	err := pool.UnpinPage(99, false)
	require.ErrorIs(t, err, errs.ErrNotResident)
}

func TestPool_DoubleUnpinErrors(t *testing.T) {
	pool, _ := newTestPool(t, 4)
	_, id, err := pool.NewPage()
	require.NoError(t, err)
	require.NoError(t, pool.UnpinPage(id, false))
	err = pool.UnpinPage(id, false)
	require.ErrorIs(t, err, errs.ErrAlreadyUnpinned)
}

func TestPool_DeletePinnedPageErrors(t *testing.T) {
	pool, _ := newTestPool(t, 4)
	_, id, err := pool.NewPage()
	require.NoError(t, err)
	err = pool.DeletePage(id)
	require.ErrorIs(t, err, errs.ErrPagePinned)
}

func TestPool_FlushAllPagesClearsDirty(t *testing.T) {
	pool, _ := newTestPool(t, 4)

	f0, id0, err := pool.NewPage()
	require.NoError(t, err)
	f0.Data()[0] = 1
	require.NoError(t, pool.UnpinPage(id0, true))

	require.NoError(t, pool.FlushAllPages())
	require.False(t, f0.Dirty())
}
