// Package buffer implements the page frame, LRU replacer, and buffer
// pool of spec §4.2-§4.4.
package buffer

import (
	"sync"

	"github.com/tuannm99/novasql/internal/storage/diskmgr"
)

// InvalidPageID is the sentinel for "no page" (spec §3).
const InvalidPageID int32 = -1

// InvalidLSN is the sentinel for "no LSN assigned yet" (spec §3).
const InvalidLSN int32 = -1

// Frame is a fixed PageSize byte buffer plus the metadata spec §4.2
// describes: owning page id, pin count, dirty flag, last-written LSN,
// and a read/write latch. The latch guards byte content only; pin
// count, dirty, and page id are metadata owned by the buffer pool's
// own mutex, never the frame's latch (spec §4.2, §5).
//
// Frame is a passive value type: callers never copy a *Frame, they
// pass the pointer around.
type Frame struct {
	latch sync.RWMutex

	pageID   int32
	pinCount int32
	dirty    bool
	pageLSN  int32

	data [diskmgr.PageSize]byte
}

func newFrame() *Frame {
	return &Frame{pageID: InvalidPageID, pageLSN: InvalidLSN}
}

// Data returns the frame's byte buffer. Callers must hold RLatch/Latch
// as appropriate before reading or writing it.
func (f *Frame) Data() []byte { return f.data[:] }

// RLatch/RUnlatch/Latch/Unlatch guard concurrent byte access; any
// number of readers may hold RLatch simultaneously, but Latch is
// exclusive.
func (f *Frame) RLatch()   { f.latch.RLock() }
func (f *Frame) RUnlatch() { f.latch.RUnlock() }
func (f *Frame) Latch()    { f.latch.Lock() }
func (f *Frame) Unlatch()  { f.latch.Unlock() }

// PageID returns the page currently resident in this frame.
func (f *Frame) PageID() int32 { return f.pageID }

// PinCount returns the number of outstanding pins.
func (f *Frame) PinCount() int32 { return f.pinCount }

// Dirty reports whether bytes have been written since the last flush.
func (f *Frame) Dirty() bool { return f.dirty }

// PageLSN is the LSN of the most recent log record whose effect is
// reflected in this frame's bytes (the page-LSN invariant, spec §3).
func (f *Frame) PageLSN() int32 { return f.pageLSN }

// SetPageLSN stamps the frame's page-LSN. Callers are responsible for
// never decreasing it (spec's page-LSN invariant).
func (f *Frame) SetPageLSN(lsn int32) { f.pageLSN = lsn }

func (f *Frame) reset(pageID int32) {
	f.pageID = pageID
	f.pinCount = 0
	f.dirty = false
	f.pageLSN = InvalidLSN
	for i := range f.data {
		f.data[i] = 0
	}
}
