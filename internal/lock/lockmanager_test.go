package lock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novasql/internal/stats"
)

// fakeTxn is a minimal Txn for exercising the lock manager without
// pulling in internal/txn (which would create an import cycle back
// into this package's tests).
type fakeTxn struct {
	id    uint32
	state State

	shared    map[RID]struct{}
	exclusive map[RID]struct{}
}

func newFakeTxn(id uint32) *fakeTxn {
	return &fakeTxn{id: id, state: Growing, shared: map[RID]struct{}{}, exclusive: map[RID]struct{}{}}
}

func (f *fakeTxn) ID() uint32              { return f.id }
func (f *fakeTxn) State() State            { return f.state }
func (f *fakeTxn) SetState(s State)        { f.state = s }
func (f *fakeTxn) HasShared(r RID) bool    { _, ok := f.shared[r]; return ok }
func (f *fakeTxn) HasExclusive(r RID) bool { _, ok := f.exclusive[r]; return ok }
func (f *fakeTxn) AddShared(r RID)         { f.shared[r] = struct{}{} }
func (f *fakeTxn) AddExclusive(r RID)      { f.exclusive[r] = struct{}{} }
func (f *fakeTxn) RemoveShared(r RID)      { delete(f.shared, r) }
func (f *fakeTxn) RemoveExclusive(r RID)   { delete(f.exclusive, r) }

var _ Txn = (*fakeTxn)(nil)

func TestLockManager_SharedLocksAreCompatible(t *testing.T) {
	m := NewManager(50*time.Millisecond, stats.New())
	r := RID{PageID: 1, Slot: 0}
	t1, t2 := newFakeTxn(1), newFakeTxn(2)

	require.True(t, m.LockShared(t1, r))
	require.True(t, m.LockShared(t2, r))
}

func TestLockManager_ExclusiveBlocksShared(t *testing.T) {
	m := NewManager(30*time.Millisecond, stats.New())
	r := RID{PageID: 1, Slot: 0}
	t1, t2 := newFakeTxn(1), newFakeTxn(2)

	require.True(t, m.LockExclusive(t1, r))
	require.False(t, m.LockShared(t2, r)) // times out
}

// TestLockManager_SXQueueing is spec scenario S3: T1 holds S, T2's X
// request queues, T3's S request queues behind T2 (FIFO, not
// barging ahead of the queued X).
func TestLockManager_SXQueueing(t *testing.T) {
	m := NewManager(2*time.Second, stats.New())
	r := RID{PageID: 1, Slot: 0}
	t1, t2, t3 := newFakeTxn(1), newFakeTxn(2), newFakeTxn(3)

	require.True(t, m.LockShared(t1, r))

	t2Granted := make(chan bool, 1)
	go func() { t2Granted <- m.LockExclusive(t2, r) }()
	time.Sleep(20 * time.Millisecond)

	t3Granted := make(chan bool, 1)
	go func() { t3Granted <- m.LockShared(t3, r) }()
	time.Sleep(20 * time.Millisecond)

	// Neither should be granted yet.
	select {
	case <-t2Granted:
		t.Fatal("T2 granted before T1 unlocked")
	case <-t3Granted:
		t.Fatal("T3 granted before T2")
	default:
	}

	require.True(t, m.Unlock(t1, r))
	require.True(t, <-t2Granted)

	// T3 still must not be granted while T2 holds X.
	select {
	case <-t3Granted:
		t.Fatal("T3 granted while T2 still holds X")
	case <-time.After(20 * time.Millisecond):
	}

	require.True(t, m.Unlock(t2, r))
	require.True(t, <-t3Granted)
}

// TestLockManager_UpgradeConflict is spec scenario S4: two concurrent
// upgraders on the same resource, exactly one succeeds.
func TestLockManager_UpgradeConflict(t *testing.T) {
	m := NewManager(80*time.Millisecond, stats.New())
	r := RID{PageID: 1, Slot: 0}
	t1, t2 := newFakeTxn(1), newFakeTxn(2)

	require.True(t, m.LockShared(t1, r))
	require.True(t, m.LockShared(t2, r))

	results := make(chan struct {
		id uint32
		ok bool
	}, 2)
	go func() { results <- struct {
		id uint32
		ok bool
	}{1, m.LockUpgrade(t1, r)} }()
	go func() { results <- struct {
		id uint32
		ok bool
	}{2, m.LockUpgrade(t2, r)} }()

	r1 := <-results
	r2 := <-results
	require.NotEqual(t, r1.ok, r2.ok, "exactly one upgrade must succeed")

	var loser uint32
	if r1.ok {
		loser = r2.id
	} else {
		loser = r1.id
	}
	if loser == 1 {
		require.Equal(t, Aborted, t1.State())
	} else {
		require.Equal(t, Aborted, t2.State())
	}
}

func TestLockManager_UnlockTransitionsToShrinking(t *testing.T) {
	m := NewManager(50*time.Millisecond, stats.New())
	r := RID{PageID: 1, Slot: 0}
	t1 := newFakeTxn(1)

	require.True(t, m.LockShared(t1, r))
	require.True(t, m.Unlock(t1, r))
	require.Equal(t, Shrinking, t1.State())
}

func TestLockManager_ShrinkingTransactionCannotAcquire(t *testing.T) {
	m := NewManager(50*time.Millisecond, stats.New())
	r1 := RID{PageID: 1, Slot: 0}
	r2 := RID{PageID: 2, Slot: 0}
	t1 := newFakeTxn(1)

	require.True(t, m.LockShared(t1, r1))
	require.True(t, m.Unlock(t1, r1))
	require.False(t, m.LockShared(t1, r2))
	require.Equal(t, Aborted, t1.State())
}

func TestLockManager_UnlockAllReleasesEveryResource(t *testing.T) {
	m := NewManager(50*time.Millisecond, stats.New())
	r1 := RID{PageID: 1, Slot: 0}
	r2 := RID{PageID: 2, Slot: 0}
	t1, t2 := newFakeTxn(1), newFakeTxn(2)

	require.True(t, m.LockExclusive(t1, r1))
	require.True(t, m.LockExclusive(t1, r2))

	held := []RID{r1, r2}
	m.UnlockAll(t1, held)

	require.True(t, m.LockExclusive(t2, r1))
	require.True(t, m.LockExclusive(t2, r2))
}
