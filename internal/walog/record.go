// Package walog implements the typed log record (spec §4.5) and the
// log manager (spec §4.6): a single in-memory page buffer, an atomic
// LSN counter, and a replay routine that reconstructs the append order
// from a dedicated log file.
package walog

import (
	"fmt"
	"hash/crc32"

	"github.com/tuannm99/novasql/internal/alias/bx"
	"github.com/tuannm99/novasql/internal/errs"
)

// Kind enumerates the seven log record variants of spec §4.5.
type Kind uint32

const (
	KindInvalid Kind = iota
	KindBegin
	KindCommit
	KindAbort
	KindInsert
	KindUpdate
	KindDelete
	KindCheckpoint
)

func (k Kind) String() string {
	switch k {
	case KindBegin:
		return "BEGIN"
	case KindCommit:
		return "COMMIT"
	case KindAbort:
		return "ABORT"
	case KindInsert:
		return "INSERT"
	case KindUpdate:
		return "UPDATE"
	case KindDelete:
		return "DELETE"
	case KindCheckpoint:
		return "CHECKPOINT"
	default:
		return "INVALID"
	}
}

// InvalidLSN is the sentinel for "no LSN" (spec §3).
const InvalidLSN int32 = -1

// RID identifies a tuple slot: the page it lives on and its slot index
// within that page (spec §3 lock table entry, §4.5 payloads).
type RID struct {
	PageID int32
	Slot   int32
}

// DirtyPageEntry and ActiveTxnEntry are the CHECKPOINT payload's
// snapshot rows (spec §4.5, §3 DPT/ATT).
type DirtyPageEntry struct {
	PageID int32
	RecLSN int32
}

type ActiveTxnEntry struct {
	TxnID   uint32
	LastLSN int32
}

// Record is the tagged sum over the seven kinds. The common header
// (spec §3, §6.2) is embedded as Header; every variant carries exactly
// the fields it needs, per spec §9's polymorphic-log-record redesign
// note. LSN is assigned by the log manager at append time and is
// stored in the header on disk so recovery and undo-chain walking can
// identify a record's own LSN without recomputing it from append
// order — the teacher's internal/wal/manager.go does the same for its
// page-image records.
type Record struct {
	Header
	RID      RID
	OldTuple []byte
	NewTuple []byte
	DPT      []DirtyPageEntry
	ATT      []ActiveTxnEntry
}

// Header is the part of every record common to all kinds (spec §3,
// §6.2): kind, owning transaction id, and the transaction's previous
// LSN (forms the backward chain Undo follows).
type Header struct {
	Kind    Kind
	TxnID   uint32
	PrevLSN int32
	LSN     int32
}

// NewBegin/NewCommit/NewAbort build the empty-payload control records.
func NewBegin(txnID uint32, prevLSN int32) *Record {
	return &Record{Header: Header{Kind: KindBegin, TxnID: txnID, PrevLSN: prevLSN}}
}
func NewCommit(txnID uint32, prevLSN int32) *Record {
	return &Record{Header: Header{Kind: KindCommit, TxnID: txnID, PrevLSN: prevLSN}}
}
func NewAbort(txnID uint32, prevLSN int32) *Record {
	return &Record{Header: Header{Kind: KindAbort, TxnID: txnID, PrevLSN: prevLSN}}
}

// NewInsert/NewUpdate/NewDelete build the data records of spec §4.5.
func NewInsert(txnID uint32, prevLSN int32, rid RID, tuple []byte) *Record {
	return &Record{Header: Header{Kind: KindInsert, TxnID: txnID, PrevLSN: prevLSN}, RID: rid, NewTuple: tuple}
}
func NewUpdate(txnID uint32, prevLSN int32, rid RID, oldTuple, newTuple []byte) *Record {
	return &Record{Header: Header{Kind: KindUpdate, TxnID: txnID, PrevLSN: prevLSN}, RID: rid, OldTuple: oldTuple, NewTuple: newTuple}
}
func NewDelete(txnID uint32, prevLSN int32, rid RID, deletedTuple []byte) *Record {
	return &Record{Header: Header{Kind: KindDelete, TxnID: txnID, PrevLSN: prevLSN}, RID: rid, OldTuple: deletedTuple}
}
func NewCheckpoint(att []ActiveTxnEntry, dpt []DirtyPageEntry) *Record {
	return &Record{Header: Header{Kind: KindCheckpoint}, ATT: att, DPT: dpt}
}

const headerWireSize = 4 /*kind*/ + 4 /*txn*/ + 4 /*prevLSN*/ + 4 /*lsn*/

// payloadSize returns the number of bytes r.encodePayload will write.
func (r *Record) payloadSize() int {
	switch r.Kind {
	case KindBegin, KindCommit, KindAbort:
		return 0
	case KindInsert:
		return ridSize + 4 + len(r.NewTuple)
	case KindUpdate:
		return ridSize + 4 + len(r.OldTuple) + 4 + len(r.NewTuple)
	case KindDelete:
		return ridSize + 4 + len(r.OldTuple)
	case KindCheckpoint:
		return 4 + len(r.ATT)*(4+4) + 4 + len(r.DPT)*(4+4)
	default:
		return 0
	}
}

const ridSize = 8
const crcSize = 4

// encode serializes r as: u32 totalLength (header + payload + crc, not
// counting the length field itself), then the header, then the
// per-kind payload, then a trailing CRC32 (IEEE) over everything after
// the length field (spec §6.2, framing grounded in the teacher's
// internal/wal/manager.go). totalLength == 0 is reserved to mean
// end-of-page during replay, so a record is never zero-length.
func (r *Record) encode() []byte {
	payload := r.payloadSize()
	total := headerWireSize + payload + crcSize
	buf := make([]byte, 4+total)

	bx.PutU32At(buf, 0, uint32(total))
	off := 4
	bx.PutU32At(buf, off, uint32(r.Kind))
	off += 4
	bx.PutU32At(buf, off, r.TxnID)
	off += 4
	bx.PutU32At(buf, off, uint32(r.PrevLSN))
	off += 4
	bx.PutU32At(buf, off, uint32(r.LSN))
	off += 4

	switch r.Kind {
	case KindInsert:
		off = putRID(buf, off, r.RID)
		off = putBytes(buf, off, r.NewTuple)
	case KindUpdate:
		off = putRID(buf, off, r.RID)
		off = putBytes(buf, off, r.OldTuple)
		off = putBytes(buf, off, r.NewTuple)
	case KindDelete:
		off = putRID(buf, off, r.RID)
		off = putBytes(buf, off, r.OldTuple)
	case KindCheckpoint:
		bx.PutU32At(buf, off, uint32(len(r.ATT)))
		off += 4
		for _, e := range r.ATT {
			bx.PutU32At(buf, off, e.TxnID)
			off += 4
			bx.PutU32At(buf, off, uint32(e.LastLSN))
			off += 4
		}
		bx.PutU32At(buf, off, uint32(len(r.DPT)))
		off += 4
		for _, e := range r.DPT {
			bx.PutU32At(buf, off, uint32(e.PageID))
			off += 4
			bx.PutU32At(buf, off, uint32(e.RecLSN))
			off += 4
		}
	}

	crc := crc32.ChecksumIEEE(buf[4:off])
	bx.PutU32At(buf, off, crc)
	return buf
}

func putRID(buf []byte, off int, rid RID) int {
	bx.PutU32At(buf, off, uint32(rid.PageID))
	off += 4
	bx.PutU32At(buf, off, uint32(rid.Slot))
	off += 4
	return off
}

func putBytes(buf []byte, off int, b []byte) int {
	bx.PutU32At(buf, off, uint32(len(b)))
	off += 4
	copy(buf[off:], b)
	return off + len(b)
}

// decodeRecord parses one record whose total length field has already
// been read as length, starting at body (which holds exactly length
// bytes: header + payload + trailing CRC32). The CRC is verified and
// stripped before the header/payload are parsed. unknown kinds and CRC
// mismatches both return ErrCorruption so the caller can stop parsing
// the current page, per spec §4.5/§7.
func decodeRecord(length uint32, body []byte) (*Record, error) {
	if len(body) < headerWireSize+crcSize {
		return nil, fmt.Errorf("%w: record shorter than header+crc", errs.ErrCorruption)
	}
	payloadEnd := len(body) - crcSize
	wantCRC := bx.U32At(body, payloadEnd)
	if gotCRC := crc32.ChecksumIEEE(body[:payloadEnd]); gotCRC != wantCRC {
		return nil, fmt.Errorf("%w: crc mismatch", errs.ErrCorruption)
	}
	body = body[:payloadEnd]

	off := 0
	kind := Kind(bx.U32At(body, off))
	off += 4
	txnID := bx.U32At(body, off)
	off += 4
	prevLSN := int32(bx.U32At(body, off))
	off += 4
	lsn := int32(bx.U32At(body, off))
	off += 4

	r := &Record{Header: Header{Kind: kind, TxnID: txnID, PrevLSN: prevLSN, LSN: lsn}}

	switch kind {
	case KindBegin, KindCommit, KindAbort:
		// no payload
	case KindInsert:
		rid, next, err := getRID(body, off)
		if err != nil {
			return nil, err
		}
		tuple, next, err := getBytes(body, next)
		if err != nil {
			return nil, err
		}
		_ = next
		r.RID = rid
		r.NewTuple = tuple
	case KindUpdate:
		rid, next, err := getRID(body, off)
		if err != nil {
			return nil, err
		}
		oldTuple, next, err := getBytes(body, next)
		if err != nil {
			return nil, err
		}
		newTuple, next, err := getBytes(body, next)
		if err != nil {
			return nil, err
		}
		_ = next
		r.RID = rid
		r.OldTuple = oldTuple
		r.NewTuple = newTuple
	case KindDelete:
		rid, next, err := getRID(body, off)
		if err != nil {
			return nil, err
		}
		tuple, next, err := getBytes(body, next)
		if err != nil {
			return nil, err
		}
		_ = next
		r.RID = rid
		r.OldTuple = tuple
	case KindCheckpoint:
		next := off
		if next+4 > len(body) {
			return nil, fmt.Errorf("%w: truncated checkpoint ATT count", errs.ErrCorruption)
		}
		attCount := int(bx.U32At(body, next))
		next += 4
		att := make([]ActiveTxnEntry, 0, attCount)
		for i := 0; i < attCount; i++ {
			if next+8 > len(body) {
				return nil, fmt.Errorf("%w: truncated checkpoint ATT entry", errs.ErrCorruption)
			}
			txn := bx.U32At(body, next)
			next += 4
			lastLSN := int32(bx.U32At(body, next))
			next += 4
			att = append(att, ActiveTxnEntry{TxnID: txn, LastLSN: lastLSN})
		}
		if next+4 > len(body) {
			return nil, fmt.Errorf("%w: truncated checkpoint DPT count", errs.ErrCorruption)
		}
		dptCount := int(bx.U32At(body, next))
		next += 4
		dpt := make([]DirtyPageEntry, 0, dptCount)
		for i := 0; i < dptCount; i++ {
			if next+8 > len(body) {
				return nil, fmt.Errorf("%w: truncated checkpoint DPT entry", errs.ErrCorruption)
			}
			pid := int32(bx.U32At(body, next))
			next += 4
			recLSN := int32(bx.U32At(body, next))
			next += 4
			dpt = append(dpt, DirtyPageEntry{PageID: pid, RecLSN: recLSN})
		}
		r.ATT = att
		r.DPT = dpt
	default:
		return nil, fmt.Errorf("%w: unknown record kind %d", errs.ErrCorruption, kind)
	}
	return r, nil
}

func getRID(body []byte, off int) (RID, int, error) {
	if off+ridSize > len(body) {
		return RID{}, off, fmt.Errorf("%w: truncated RID", errs.ErrCorruption)
	}
	pid := int32(bx.U32At(body, off))
	slot := int32(bx.U32At(body, off+4))
	return RID{PageID: pid, Slot: slot}, off + ridSize, nil
}

func getBytes(body []byte, off int) ([]byte, int, error) {
	if off+4 > len(body) {
		return nil, off, fmt.Errorf("%w: truncated length prefix", errs.ErrCorruption)
	}
	n := int(bx.U32At(body, off))
	off += 4
	if n < 0 || off+n > len(body) {
		return nil, off, fmt.Errorf("%w: truncated byte field", errs.ErrCorruption)
	}
	out := make([]byte, n)
	copy(out, body[off:off+n])
	return out, off + n, nil
}
