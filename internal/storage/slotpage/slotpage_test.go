package slotpage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newPage() []byte { return make([]byte, 4096) }

func TestInsertAppendThenRead(t *testing.T) {
	buf := newPage()
	slot, ok := InsertAppend(buf, []byte("hello"))
	require.True(t, ok)
	require.Equal(t, 0, slot)

	tup, ok := ReadTuple(buf, slot)
	require.True(t, ok)
	require.Equal(t, []byte("hello"), tup)
}

func TestInsertAppendMultiple(t *testing.T) {
	buf := newPage()
	s0, ok := InsertAppend(buf, []byte("a"))
	require.True(t, ok)
	s1, ok := InsertAppend(buf, []byte("bb"))
	require.True(t, ok)
	require.NotEqual(t, s0, s1)

	v0, _ := ReadTuple(buf, s0)
	v1, _ := ReadTuple(buf, s1)
	require.Equal(t, []byte("a"), v0)
	require.Equal(t, []byte("bb"), v1)
}

func TestUpdateTupleInPlace(t *testing.T) {
	buf := newPage()
	slot, _ := InsertAppend(buf, []byte("original"))
	require.True(t, UpdateTuple(buf, slot, []byte("short")))

	tup, ok := ReadTuple(buf, slot)
	require.True(t, ok)
	require.Equal(t, []byte("short"), tup)
}

func TestUpdateTupleRelocatesWhenLarger(t *testing.T) {
	buf := newPage()
	slot, _ := InsertAppend(buf, []byte("x"))
	require.True(t, UpdateTuple(buf, slot, []byte("a much longer replacement value")))

	tup, ok := ReadTuple(buf, slot)
	require.True(t, ok)
	require.Equal(t, []byte("a much longer replacement value"), tup)
}

func TestDeleteTupleThenReadFails(t *testing.T) {
	buf := newPage()
	slot, _ := InsertAppend(buf, []byte("gone"))
	DeleteTuple(buf, slot)

	_, ok := ReadTuple(buf, slot)
	require.False(t, ok)
}

func TestInsertAtExplicitSlotForRedo(t *testing.T) {
	buf := newPage()
	require.True(t, InsertAt(buf, 3, []byte("recovered")))

	tup, ok := ReadTuple(buf, 3)
	require.True(t, ok)
	require.Equal(t, []byte("recovered"), tup)
	require.Equal(t, 4, NumSlots(buf))
}

func TestReadTupleOutOfRange(t *testing.T) {
	buf := newPage()
	_, ok := ReadTuple(buf, 0)
	require.False(t, ok)
}
