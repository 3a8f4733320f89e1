package buffer

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/tuannm99/novasql/internal/errs"
	"github.com/tuannm99/novasql/internal/stats"
	"github.com/tuannm99/novasql/internal/storage/diskmgr"
)

var logPrefix = "bufferpool: "

// LogFlusher is the subset of the log manager's contract the buffer
// pool needs to honor the WAL rule (spec §4.4, §5): a dirty frame may
// not be written back until the log has been forced up to its
// page-LSN. internal/walog.Manager implements this.
type LogFlusher interface {
	Flush(lsn int32) error
}

// Pool is the fixed-size buffer pool of spec §4.4: a frame array of
// length pool_size, a page-id -> frame-index table, a free-list of
// frame indices, and a replacer, all guarded by one pool-wide mutex.
// Byte access inside a fetched frame is governed by the frame's own
// latch, never the pool mutex.
type Pool struct {
	mu sync.Mutex

	disk *diskmgr.Manager
	log  LogFlusher
	stat *stats.Stats

	frames    []*Frame
	pageTable map[int32]int
	freeList  []int
	replacer  Replacer
}

// NewPool builds a pool of the given size (spec §6.3 pool_size,
// default 100) backed by disk and whose dirty-page evictions are
// preceded by a Flush through log.
func NewPool(poolSize int, disk *diskmgr.Manager, log LogFlusher, stat *stats.Stats) *Pool {
	if poolSize <= 0 {
		poolSize = 100
	}
	frames := make([]*Frame, poolSize)
	freeList := make([]int, poolSize)
	for i := 0; i < poolSize; i++ {
		frames[i] = newFrame()
		freeList[i] = poolSize - 1 - i // so index 0 is popped first
	}
	return &Pool{
		disk:      disk,
		log:       log,
		stat:      stat,
		frames:    frames,
		pageTable: make(map[int32]int),
		freeList:  freeList,
		replacer:  NewLRUReplacer(poolSize),
	}
}

// Size returns the number of frames in the pool.
func (p *Pool) Size() int { return len(p.frames) }

// FetchPage returns the frame holding id, pinning it, loading it from
// disk first if necessary (spec §4.4 FetchPage).
func (p *Pool) FetchPage(id int32) (*Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if idx, ok := p.pageTable[id]; ok {
		f := p.frames[idx]
		f.pinCount++
		p.replacer.Pin(idx)
		p.stat.RecordBufferHit()
		slog.Debug(logPrefix+"FetchPage hit", "pageID", id, "pin", f.pinCount)
		return f, nil
	}

	p.stat.RecordBufferMiss()
	idx, err := p.acquireFrameLocked()
	if err != nil {
		return nil, err
	}

	f := p.frames[idx]
	f.reset(id)
	if err := p.disk.ReadPage(id, f.Data()); err != nil {
		// Leave the frame on the free list; do not install a half-loaded
		// mapping.
		p.freeList = append(p.freeList, idx)
		return nil, err
	}
	f.pinCount = 1
	p.pageTable[id] = idx
	slog.Debug(logPrefix+"FetchPage loaded from disk", "pageID", id, "frame", idx)
	return f, nil
}

// NewPage allocates a fresh page id via the disk manager, zeroes a
// frame for it, pins it dirty, and returns both (spec §4.4 NewPage).
func (p *Pool) NewPage() (*Frame, int32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, err := p.acquireFrameLocked()
	if err != nil {
		return nil, InvalidPageID, err
	}

	id := p.disk.AllocatePage()
	f := p.frames[idx]
	f.reset(id)
	f.pinCount = 1
	f.dirty = true
	p.pageTable[id] = idx
	slog.Debug(logPrefix+"NewPage", "pageID", id, "frame", idx)
	return f, id, nil
}

// acquireFrameLocked returns a frame index ready to receive a new page:
// either a free-list entry, or a victim evicted (and flushed through
// the WAL rule if dirty) from the replacer. Caller holds p.mu.
func (p *Pool) acquireFrameLocked() (int, error) {
	if n := len(p.freeList); n > 0 {
		idx := p.freeList[n-1]
		p.freeList = p.freeList[:n-1]
		return idx, nil
	}

	idx, ok := p.replacer.Victim()
	if !ok {
		return 0, errs.ErrNoEvictableFrame
	}
	victim := p.frames[idx]

	if victim.dirty {
		// WAL rule: force the log up to the victim's page-LSN before the
		// data write reaches disk.
		if err := p.log.Flush(victim.pageLSN); err != nil {
			// Put the victim back as evictable; we must not lose the
			// mapping on a failed flush.
			p.replacer.Unpin(idx)
			return 0, fmt.Errorf("%w: flush before evict: %v", errs.ErrIO, err)
		}
		if err := p.disk.WritePage(victim.pageID, victim.Data()); err != nil {
			p.replacer.Unpin(idx)
			return 0, err
		}
	}

	p.stat.RecordBufferEviction()
	delete(p.pageTable, victim.pageID)
	slog.Debug(logPrefix+"evicted victim", "pageID", victim.pageID, "frame", idx, "wasDirty", victim.dirty)
	return idx, nil
}

// UnpinPage decrements id's pin count and ORs in isDirty. When the pin
// count reaches zero the frame becomes evictable (spec §4.4 UnpinPage).
func (p *Pool) UnpinPage(id int32, isDirty bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, ok := p.pageTable[id]
	if !ok {
		return fmt.Errorf("%w: UnpinPage(%d)", errs.ErrNotResident, id)
	}
	f := p.frames[idx]
	if f.pinCount <= 0 {
		return fmt.Errorf("%w: UnpinPage(%d)", errs.ErrAlreadyUnpinned, id)
	}

	if isDirty {
		f.dirty = true
	}
	f.pinCount--
	if f.pinCount == 0 {
		p.replacer.Unpin(idx)
	}
	return nil
}

// FlushPage writes id's bytes to disk unconditionally (whether dirty or
// not) and clears dirty, per spec §4.4 FlushPage.
func (p *Pool) FlushPage(id int32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushLocked(id)
}

func (p *Pool) flushLocked(id int32) error {
	idx, ok := p.pageTable[id]
	if !ok {
		return fmt.Errorf("%w: FlushPage(%d)", errs.ErrNotResident, id)
	}
	f := p.frames[idx]
	if err := p.disk.WritePage(id, f.Data()); err != nil {
		return err
	}
	f.dirty = false
	return nil
}

// FlushAllPages flushes every resident frame regardless of pin count
// (spec §4.4 FlushAllPages).
func (p *Pool) FlushAllPages() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id := range p.pageTable {
		if err := p.flushLocked(id); err != nil {
			return err
		}
	}
	return nil
}

// DeletePage removes id from the pool (not from disk content) and
// deallocates its id, failing if the page is still pinned (spec §4.4
// DeletePage).
func (p *Pool) DeletePage(id int32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, ok := p.pageTable[id]
	if !ok {
		p.disk.DeallocatePage(id)
		return nil
	}
	f := p.frames[idx]
	if f.pinCount > 0 {
		return fmt.Errorf("%w: DeletePage(%d)", errs.ErrPagePinned, id)
	}

	p.replacer.Pin(idx) // ensure it isn't also sitting in the evictable list
	delete(p.pageTable, id)
	p.freeList = append(p.freeList, idx)
	p.disk.DeallocatePage(id)
	return nil
}
