// Package stats holds the cross-cutting counters and timers described
// in spec §2's "Cross-cutting" row. The source's Statistics type is a
// process-wide singleton (see spec §9's redesign note); here it is an
// explicit struct injected into every component that produces a
// measurement, and it lives exactly as long as the database instance
// that owns it.
package stats

import (
	"fmt"
	"sync/atomic"
)

// Stats aggregates counters for the buffer pool, log manager, lock
// manager, and transaction manager. All fields are accessed only
// through atomic operations so a single instance can be shared freely
// across goroutines without its own mutex.
type Stats struct {
	bufferHits      atomic.Uint64
	bufferMisses    atomic.Uint64
	bufferEvictions atomic.Uint64

	logAppends      atomic.Uint64
	logFlushes      atomic.Uint64
	logBytesWritten atomic.Uint64

	lockGrantsImmediate  atomic.Uint64
	lockGrantsAfterWait  atomic.Uint64
	lockTimeouts         atomic.Uint64
	lockUpgradeConflicts atomic.Uint64

	txnBegins      atomic.Uint64
	txnCommits     atomic.Uint64
	txnAborts      atomic.Uint64
	txnDurationsUs atomic.Uint64 // running sum, microseconds
}

// New returns a fresh, zeroed Stats instance.
func New() *Stats {
	return &Stats{}
}

func (s *Stats) RecordBufferHit()      { s.bufferHits.Add(1) }
func (s *Stats) RecordBufferMiss()     { s.bufferMisses.Add(1) }
func (s *Stats) RecordBufferEviction() { s.bufferEvictions.Add(1) }

func (s *Stats) RecordLogAppend(bytes int) {
	s.logAppends.Add(1)
	s.logBytesWritten.Add(uint64(bytes))
}
func (s *Stats) RecordLogFlush() { s.logFlushes.Add(1) }

func (s *Stats) RecordLockGrantImmediate()  { s.lockGrantsImmediate.Add(1) }
func (s *Stats) RecordLockGrantAfterWait()  { s.lockGrantsAfterWait.Add(1) }
func (s *Stats) RecordLockTimeout()         { s.lockTimeouts.Add(1) }
func (s *Stats) RecordLockUpgradeConflict() { s.lockUpgradeConflicts.Add(1) }

func (s *Stats) RecordTxnBegin()                      { s.txnBegins.Add(1) }
func (s *Stats) RecordTxnCommit(durationUs int64)     { s.txnCommits.Add(1); s.addDuration(durationUs) }
func (s *Stats) RecordTxnAbort(durationUs int64)      { s.txnAborts.Add(1); s.addDuration(durationUs) }

func (s *Stats) addDuration(us int64) {
	if us < 0 {
		us = 0
	}
	s.txnDurationsUs.Add(uint64(us))
}

// Snapshot is an immutable copy of every counter, suitable for logging
// or exposing through an operator console.
type Snapshot struct {
	BufferHits, BufferMisses, BufferEvictions uint64
	LogAppends, LogFlushes, LogBytesWritten   uint64
	LockGrantsImmediate, LockGrantsAfterWait  uint64
	LockTimeouts, LockUpgradeConflicts        uint64
	TxnBegins, TxnCommits, TxnAborts          uint64
	TxnDurationsUs                            uint64
}

// Snapshot takes a consistent-enough point-in-time copy of the counters.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		BufferHits:           s.bufferHits.Load(),
		BufferMisses:         s.bufferMisses.Load(),
		BufferEvictions:      s.bufferEvictions.Load(),
		LogAppends:           s.logAppends.Load(),
		LogFlushes:           s.logFlushes.Load(),
		LogBytesWritten:      s.logBytesWritten.Load(),
		LockGrantsImmediate:  s.lockGrantsImmediate.Load(),
		LockGrantsAfterWait:  s.lockGrantsAfterWait.Load(),
		LockTimeouts:         s.lockTimeouts.Load(),
		LockUpgradeConflicts: s.lockUpgradeConflicts.Load(),
		TxnBegins:            s.txnBegins.Load(),
		TxnCommits:           s.txnCommits.Load(),
		TxnAborts:            s.txnAborts.Load(),
		TxnDurationsUs:       s.txnDurationsUs.Load(),
	}
}

func (sn Snapshot) String() string {
	return fmt.Sprintf(
		"buffer(hit=%d miss=%d evict=%d) log(append=%d flush=%d bytes=%d) "+
			"lock(immediate=%d afterWait=%d timeout=%d upgradeConflict=%d) "+
			"txn(begin=%d commit=%d abort=%d)",
		sn.BufferHits, sn.BufferMisses, sn.BufferEvictions,
		sn.LogAppends, sn.LogFlushes, sn.LogBytesWritten,
		sn.LockGrantsImmediate, sn.LockGrantsAfterWait, sn.LockTimeouts, sn.LockUpgradeConflicts,
		sn.TxnBegins, sn.TxnCommits, sn.TxnAborts,
	)
}
