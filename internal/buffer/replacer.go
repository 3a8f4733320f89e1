package buffer

import (
	"container/list"
	"sync"
)

// Replacer is the capability set spec §9 calls out: {Pin, Unpin,
// Victim, Size}. LRU is the one implementation this repository ships;
// a future Clock or LFU policy plugs in by satisfying the same
// interface, exactly as the teacher's clockAdapter/Manager split in
// internal/bufferpool does for its CLOCK policy.
type Replacer interface {
	// Pin removes frameID from the evictable list, if present.
	Pin(frameID int)
	// Unpin inserts frameID at the tail of the evictable list if it is
	// not already present and capacity allows.
	Unpin(frameID int)
	// Victim pops the least-recently-unpinned frame id. ok is false if
	// no frame is currently evictable.
	Victim() (frameID int, ok bool)
	// Size reports how many frames are currently evictable.
	Size() int
}

// LRUReplacer maintains an ordered list of evictable frames from
// least- to most-recently released, plus an index from frame id to
// list element so Pin/Unpin are O(1), per spec §4.3. It is modeled on
// the teacher's pkg/cache/lru.go, which wraps container/list the same
// way, generalized here to track frame ids directly instead of
// arbitrary cache values.
type LRUReplacer struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	index    map[int]*list.Element
}

// NewLRUReplacer creates a replacer that tracks at most capacity
// evictable frames (the buffer pool's frame array length).
func NewLRUReplacer(capacity int) *LRUReplacer {
	return &LRUReplacer{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[int]*list.Element, capacity),
	}
}

var _ Replacer = (*LRUReplacer)(nil)

// Unpin inserts frameID at the tail (most-recently-unpinned end) of the
// evictable list, unless it is already present or the list is already
// at capacity (spec §4.3).
func (r *LRUReplacer) Unpin(frameID int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.index[frameID]; ok {
		return
	}
	if r.order.Len() >= r.capacity {
		return
	}
	elem := r.order.PushBack(frameID)
	r.index[frameID] = elem
}

// Pin removes frameID from the evictable list, if present.
func (r *LRUReplacer) Pin(frameID int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	elem, ok := r.index[frameID]
	if !ok {
		return
	}
	r.order.Remove(elem)
	delete(r.index, frameID)
}

// Victim pops the frame at the head of the list (the least recently
// unpinned), returning false if the list is empty.
func (r *LRUReplacer) Victim() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	front := r.order.Front()
	if front == nil {
		return 0, false
	}
	frameID := front.Value.(int)
	r.order.Remove(front)
	delete(r.index, frameID)
	return frameID, true
}

// Size returns the number of frames currently evictable.
func (r *LRUReplacer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.order.Len()
}
