package diskmgr

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novasql/internal/errs"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	m, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestManager_WriteReadRoundtrip(t *testing.T) {
	m := newTestManager(t)

	id := m.AllocatePage()
	require.Equal(t, int32(0), id)

	data := make([]byte, PageSize)
	data[0] = 7
	data[PageSize-1] = 9
	require.NoError(t, m.WritePage(id, data))

	out := make([]byte, PageSize)
	require.NoError(t, m.ReadPage(id, out))
	require.Equal(t, data, out)
	require.Equal(t, int64(1), m.PageCount())
}

func TestManager_ReadPageNeverWrittenIsZeroFilled(t *testing.T) {
	m := newTestManager(t)

	// Writing page 1 extends the file sparsely over page 0 too; page 0
	// was never explicitly written.
	require.NoError(t, m.WritePage(1, make([]byte, PageSize)))

	out := make([]byte, PageSize)
	for i := range out {
		out[i] = 0xFF
	}
	require.NoError(t, m.ReadPage(0, out))
	require.Equal(t, make([]byte, PageSize), out)
}

func TestManager_InvalidPageID(t *testing.T) {
	m := newTestManager(t)

	err := m.ReadPage(-1, make([]byte, PageSize))
	require.ErrorIs(t, err, errs.ErrInvalidPageID)
}

func TestManager_AllocateReusesFreedPage(t *testing.T) {
	m := newTestManager(t)

	id1 := m.AllocatePage()
	m.DeallocatePage(id1)
	id2 := m.AllocatePage()
	require.Equal(t, id1, id2)
}

func TestManager_ReopenResumesPageCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	m1, err := Open(path)
	require.NoError(t, err)

	id := m1.AllocatePage()
	require.NoError(t, m1.WritePage(id, make([]byte, PageSize)))
	require.NoError(t, m1.Close())

	m2, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = m2.Close() }()
	require.Equal(t, int64(1), m2.PageCount())
}
