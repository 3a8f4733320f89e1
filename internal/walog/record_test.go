package walog

import (
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novasql/internal/alias/bx"
)

func TestRecord_EncodeDecodeInsert(t *testing.T) {
	rec := NewInsert(1, -1, RID{PageID: 3, Slot: 2}, []byte("hello"))
	rec.LSN = 10

	encoded := rec.encode()
	length := uint32(len(encoded) - 4)
	decoded, err := decodeRecord(length, encoded[4:])
	require.NoError(t, err)

	require.Equal(t, rec.Kind, decoded.Kind)
	require.Equal(t, rec.TxnID, decoded.TxnID)
	require.Equal(t, rec.PrevLSN, decoded.PrevLSN)
	require.Equal(t, rec.LSN, decoded.LSN)
	require.Equal(t, rec.RID, decoded.RID)
	require.Equal(t, rec.NewTuple, decoded.NewTuple)
}

func TestRecord_EncodeDecodeUpdate(t *testing.T) {
	rec := NewUpdate(2, 5, RID{PageID: 1, Slot: 0}, []byte("old"), []byte("new-value"))
	rec.LSN = 11

	encoded := rec.encode()
	decoded, err := decodeRecord(uint32(len(encoded)-4), encoded[4:])
	require.NoError(t, err)
	require.Equal(t, []byte("old"), decoded.OldTuple)
	require.Equal(t, []byte("new-value"), decoded.NewTuple)
}

func TestRecord_EncodeDecodeCheckpoint(t *testing.T) {
	rec := NewCheckpoint(
		[]ActiveTxnEntry{{TxnID: 1, LastLSN: 4}, {TxnID: 2, LastLSN: 7}},
		[]DirtyPageEntry{{PageID: 3, RecLSN: 2}},
	)
	rec.LSN = 20

	encoded := rec.encode()
	decoded, err := decodeRecord(uint32(len(encoded)-4), encoded[4:])
	require.NoError(t, err)
	require.Equal(t, rec.ATT, decoded.ATT)
	require.Equal(t, rec.DPT, decoded.DPT)
}

func TestRecord_DecodeTruncatedReturnsCorruption(t *testing.T) {
	rec := NewInsert(1, -1, RID{PageID: 1, Slot: 1}, []byte("x"))
	rec.LSN = 1
	encoded := rec.encode()

	truncated := encoded[4 : len(encoded)-2]
	_, err := decodeRecord(uint32(len(truncated)), truncated)
	require.Error(t, err)
}

func TestRecord_DecodeUnknownKind(t *testing.T) {
	rec := NewBegin(1, -1)
	rec.LSN = 1
	encoded := rec.encode()
	encoded[4] = 99 // corrupt the kind field
	// Re-seal the CRC so decoding reaches the kind check, not the CRC check.
	bx.PutU32At(encoded, len(encoded)-crcSize, crc32.ChecksumIEEE(encoded[4:len(encoded)-crcSize]))

	_, err := decodeRecord(uint32(len(encoded)-4), encoded[4:])
	require.Error(t, err)
}
