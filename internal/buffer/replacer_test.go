package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLRUReplacer_VictimIsLeastRecentlyUnpinned(t *testing.T) {
	r := NewLRUReplacer(4)
	r.Unpin(1)
	r.Unpin(2)
	r.Unpin(3)
	require.Equal(t, 3, r.Size())

	id, ok := r.Victim()
	require.True(t, ok)
	require.Equal(t, 1, id)
	require.Equal(t, 2, r.Size())
}

func TestLRUReplacer_PinRemovesFromEvictable(t *testing.T) {
	r := NewLRUReplacer(4)
	r.Unpin(1)
	r.Unpin(2)
	r.Pin(1)
	require.Equal(t, 1, r.Size())

	id, ok := r.Victim()
	require.True(t, ok)
	require.Equal(t, 2, id)
}

func TestLRUReplacer_VictimOnEmptyFails(t *testing.T) {
	r := NewLRUReplacer(4)
	_, ok := r.Victim()
	require.False(t, ok)
}

func TestLRUReplacer_UnpinIsIdempotent(t *testing.T) {
	r := NewLRUReplacer(4)
	r.Unpin(1)
	r.Unpin(1)
	require.Equal(t, 1, r.Size())
}
