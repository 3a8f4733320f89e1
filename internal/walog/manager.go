package walog

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tuannm99/novasql/internal/alias/bx"
	"github.com/tuannm99/novasql/internal/errs"
	"github.com/tuannm99/novasql/internal/stats"
	"github.com/tuannm99/novasql/internal/storage/diskmgr"
)

var logPrefix = "walog: "

// Manager is the log manager of spec §4.6: a single in-memory
// PAGE_SIZE buffer, an append offset, a monotonic LSN counter, a
// persistent-LSN high-water mark, and a dedicated log disk stream.
// Only the log manager writes to the log file (spec §5).
type Manager struct {
	mu sync.Mutex

	disk *diskmgr.Manager
	stat *stats.Stats

	buffer []byte
	offset int

	nextLSN       atomic.Int32
	persistentLSN atomic.Int32

	enableLogging bool
}

// Open opens (or creates) the dedicated log file at path and primes the
// LSN counters from any records already on it, so reopening an
// existing database resumes LSN assignment above the highest one ever
// appended.
func Open(path string, enableLogging bool, stat *stats.Stats) (*Manager, error) {
	disk, err := diskmgr.Open(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		disk:          disk,
		stat:          stat,
		buffer:        make([]byte, diskmgr.PageSize),
		enableLogging: enableLogging,
	}
	m.nextLSN.Store(1)
	m.persistentLSN.Store(0)

	if last, err := m.highestExistingLSN(); err == nil && last > 0 {
		m.nextLSN.Store(last + 1)
		m.persistentLSN.Store(last)
	}
	return m, nil
}

// Close closes the underlying log file.
func (m *Manager) Close() error {
	return m.disk.Close()
}

// PersistentLSN returns the greatest LSN known to be durable.
func (m *Manager) PersistentLSN() int32 { return m.persistentLSN.Load() }

// Append assigns the next LSN to record under the log latch, buffering
// its serialized bytes and flushing first if they would not fit (spec
// §4.6). When logging is disabled (spec §6.3 enable_logging=false),
// Append is a no-op that returns InvalidLSN.
func (m *Manager) Append(record *Record) (int32, error) {
	if !m.enableLogging || record == nil {
		return InvalidLSN, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	lsn := m.nextLSN.Add(1) - 1
	record.LSN = lsn

	encoded := record.encode()
	if len(encoded) > len(m.buffer) {
		return InvalidLSN, fmt.Errorf("walog: record of %d bytes exceeds page size %d", len(encoded), len(m.buffer))
	}
	if m.offset+len(encoded) > len(m.buffer) {
		if err := m.flushBufferLocked(); err != nil {
			return InvalidLSN, err
		}
	}
	copy(m.buffer[m.offset:], encoded)
	m.offset += len(encoded)

	m.stat.RecordLogAppend(len(encoded))
	slog.Debug(logPrefix+"Append", "lsn", lsn, "kind", record.Kind, "txn", record.TxnID, "bytes", len(encoded))
	return lsn, nil
}

// Flush forces the buffer to disk if non-empty, then advances
// persistent-LSN to max(current, lsn) — or to the last assigned LSN if
// lsn is negative (spec §4.6).
func (m *Manager) Flush(lsn int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.offset > 0 {
		if err := m.flushBufferLocked(); err != nil {
			return err
		}
	}

	target := lsn
	if target < 0 {
		target = m.nextLSN.Load() - 1
	}
	if target > m.persistentLSN.Load() {
		m.persistentLSN.Store(target)
	}
	m.stat.RecordLogFlush()
	return nil
}

// flushBufferLocked allocates a fresh log page, writes the zero-padded
// buffer to it, and resets the buffer offset. Caller holds m.mu.
func (m *Manager) flushBufferLocked() error {
	if m.offset == 0 {
		return nil
	}
	pageID := m.disk.AllocatePage()
	page := make([]byte, diskmgr.PageSize)
	copy(page, m.buffer[:m.offset])

	if err := m.disk.WritePage(pageID, page); err != nil {
		return err
	}
	slog.Debug(logPrefix+"FlushBuffer", "logPageID", pageID, "bytes", m.offset)
	for i := 0; i < m.offset; i++ {
		m.buffer[i] = 0
	}
	m.offset = 0
	return nil
}

// Replay scans every page of the log stream in id order and returns
// every record found, in on-disk order. Because LSNs are monotonic
// within a page and pages are written in allocation order, on-disk
// order equals append order (spec §4.6). A page whose records fail to
// parse is abandoned at the failure point (ErrCorruption, never
// fatal) and the scan continues with the next page — spec §7 treats
// this as the expected shape of a torn tail write after a crash.
func (m *Manager) Replay() ([]*Record, error) {
	m.mu.Lock()
	pageCount := m.disk.PageCount()
	m.mu.Unlock()

	var records []*Record
	page := make([]byte, diskmgr.PageSize)

	for id := int64(0); id < pageCount; id++ {
		if err := m.disk.ReadPage(int32(id), page); err != nil {
			return records, err
		}
		records = append(records, parsePageRecords(page)...)
	}
	return records, nil
}

func parsePageRecords(page []byte) []*Record {
	var out []*Record
	offset := 0
	for {
		if offset+4 > len(page) {
			break
		}
		length := bx.U32At(page, offset)
		if length == 0 || offset+4+int(length) > len(page) {
			break
		}
		body := page[offset+4 : offset+4+int(length)]
		rec, err := decodeRecord(length, body)
		if err != nil {
			// Corruption: stop parsing this page, never fatal (spec §7).
			slog.Debug(logPrefix+"Replay: stopping page at corruption", "offset", offset, "err", err)
			break
		}
		out = append(out, rec)
		offset += 4 + int(length)
	}
	return out
}

// highestExistingLSN scans the log stream once to find the greatest
// LSN already on disk, used to resume LSN assignment on reopen.
func (m *Manager) highestExistingLSN() (int32, error) {
	pageCount := m.disk.PageCount()
	page := make([]byte, diskmgr.PageSize)
	var max int32

	for id := int64(0); id < pageCount; id++ {
		if err := m.disk.ReadPage(int32(id), page); err != nil {
			return 0, fmt.Errorf("%w: %v", errs.ErrIO, err)
		}
		for _, rec := range parsePageRecords(page) {
			if rec.LSN > max {
				max = rec.LSN
			}
		}
	}
	return max, nil
}
