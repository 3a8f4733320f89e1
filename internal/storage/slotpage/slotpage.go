// Package slotpage implements the slotted tuple layout that redo and
// undo apply their INSERT/UPDATE/DELETE operations against. Spec §1
// explicitly leaves the B+tree's node-split algorithm unspecified and
// out of scope; this package supplies just enough of a record format
// — a line-pointer array growing down from the header and a tuple
// area growing up from the page end — for the recovery manager's
// redo/undo operations to have concrete bytes to act on. It is
// adapted from the teacher's internal/storage/page.go slotted-page
// implementation, generalized to operate on any PageSize byte slice
// (normally a buffer-pool frame's Data()) instead of owning its own
// buffer.
package slotpage

import "github.com/tuannm99/novasql/internal/alias/bx"

// Layout offsets within the page header.
const (
	offFlags = 0
	offLower = 6 // pd_lower: end of the line-pointer array
	offUpper = 8 // pd_upper: start of the tuple area
	headerSize = 12
	slotSize   = 6 // offset(u16) + length(u16) + flags(u16)
)

const (
	flagDeleted = 1
	flagMoved   = 2
)

// Init lays out an empty page in buf (len(buf) == PageSize).
func Init(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
	putU16(buf, offLower, headerSize)
	putU16(buf, offUpper, uint16(len(buf)))
}

// IsUninitialized reports whether buf still looks like an all-zero
// page (spec's fresh NewPage frames are zeroed before first use).
func IsUninitialized(buf []byte) bool {
	return u16(buf, offLower) == 0 && u16(buf, offUpper) == 0
}

func lower(buf []byte) int { return int(u16(buf, offLower)) }
func upper(buf []byte) int { return int(u16(buf, offUpper)) }
func setLower(buf []byte, v int) { putU16(buf, offLower, uint16(v)) }
func setUpper(buf []byte, v int) { putU16(buf, offUpper, uint16(v)) }

// NumSlots returns how many slot entries the page currently has.
func NumSlots(buf []byte) int {
	return (lower(buf) - headerSize) / slotSize
}

func slotOffset(slot int) int { return headerSize + slot*slotSize }

func getSlot(buf []byte, slot int) (offset, length, flags int) {
	o := slotOffset(slot)
	return int(u16(buf, o)), int(u16(buf, o+2)), int(u16(buf, o+4))
}

func putSlot(buf []byte, slot, offset, length, flags int) {
	o := slotOffset(slot)
	putU16(buf, o, uint16(offset))
	putU16(buf, o+2, uint16(length))
	putU16(buf, o+4, uint16(flags))
}

// InsertAppend inserts tup into the next free slot, growing the tuple
// area downward from pd_upper. It returns the new slot index, or false
// if there is not enough free space.
func InsertAppend(buf []byte, tup []byte) (slot int, ok bool) {
	if IsUninitialized(buf) {
		Init(buf)
	}
	need := len(tup) + slotSize
	if upper(buf)-lower(buf) < need {
		return -1, false
	}
	newUpper := upper(buf) - len(tup)
	copy(buf[newUpper:], tup)
	setUpper(buf, newUpper)

	idx := NumSlots(buf)
	putSlot(buf, idx, newUpper, len(tup), 0)
	setLower(buf, lower(buf)+slotSize)
	return idx, true
}

// InsertAt places tup at an explicit slot index, extending the slot
// array with empty/deleted entries if slot is beyond the current
// count. Used by redo, which must reproduce the exact RID the original
// operation assigned.
func InsertAt(buf []byte, slot int, tup []byte) bool {
	if IsUninitialized(buf) {
		Init(buf)
	}
	for NumSlots(buf) <= slot {
		need := slotSize
		if upper(buf)-lower(buf) < need {
			return false
		}
		putSlot(buf, NumSlots(buf), 0, 0, flagDeleted)
		setLower(buf, lower(buf)+slotSize)
	}
	need := len(tup)
	if upper(buf)-lower(buf) < need {
		return false
	}
	newUpper := upper(buf) - len(tup)
	copy(buf[newUpper:], tup)
	setUpper(buf, newUpper)
	putSlot(buf, slot, newUpper, len(tup), 0)
	return true
}

// ReadTuple returns the bytes stored at slot, or false if the slot is
// out of range or marked deleted.
func ReadTuple(buf []byte, slot int) ([]byte, bool) {
	if slot < 0 || slot >= NumSlots(buf) {
		return nil, false
	}
	offset, length, flags := getSlot(buf, slot)
	if flags&flagDeleted != 0 || length == 0 {
		return nil, false
	}
	out := make([]byte, length)
	copy(out, buf[offset:offset+length])
	return out, true
}

// UpdateTuple overwrites the tuple at slot with newTup, either in
// place (if it still fits the original footprint) or by relocating it
// into the tuple area.
func UpdateTuple(buf []byte, slot int, newTup []byte) bool {
	if slot < 0 || slot >= NumSlots(buf) {
		return false
	}
	offset, length, flags := getSlot(buf, slot)
	if flags&flagDeleted != 0 {
		return false
	}
	if len(newTup) <= length {
		copy(buf[offset:], newTup)
		putSlot(buf, slot, offset, len(newTup), flags&^flagMoved)
		return true
	}
	if upper(buf)-lower(buf) < len(newTup) {
		return false
	}
	newUpper := upper(buf) - len(newTup)
	copy(buf[newUpper:], newTup)
	setUpper(buf, newUpper)
	putSlot(buf, slot, newUpper, len(newTup), flagMoved)
	return true
}

// DeleteTuple marks slot as deleted without reclaiming its bytes.
func DeleteTuple(buf []byte, slot int) {
	if slot < 0 || slot >= NumSlots(buf) {
		return
	}
	_, _, flags := getSlot(buf, slot)
	putSlot(buf, slot, 0, 0, flags|flagDeleted)
}

func u16(buf []byte, off int) uint16       { return bx.U16At(buf, off) }
func putU16(buf []byte, off int, v uint16) { bx.PutU16At(buf, off, v) }
