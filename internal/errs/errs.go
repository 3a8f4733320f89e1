// Package errs collects the sentinel errors surfaced at the storage
// core's boundary (spec §6.4). The disk manager, buffer pool and log
// manager wrap them with fmt.Errorf("%w") so callers can match them
// with errors.Is. The lock manager reports its failures as a false
// return, not as one of these errors.
package errs

import "errors"

var (
	// ErrInvalidPageID is returned by the disk manager when a page id is
	// negative or beyond the current page count.
	ErrInvalidPageID = errors.New("storage: invalid page id")

	// ErrNoEvictableFrame is returned by the buffer pool when every frame
	// is pinned and the free-list is empty.
	ErrNoEvictableFrame = errors.New("storage: no evictable frame")

	// ErrNotResident is returned when an operation names a page id that
	// is not currently mapped into the buffer pool.
	ErrNotResident = errors.New("storage: page not resident")

	// ErrAlreadyUnpinned is returned by UnpinPage when the pin count is
	// already zero.
	ErrAlreadyUnpinned = errors.New("storage: page already unpinned")

	// ErrPagePinned is returned when DeletePage targets a pinned frame.
	ErrPagePinned = errors.New("storage: page is pinned")

	// ErrIO wraps any underlying file I/O failure from the disk manager
	// or the log stream.
	ErrIO = errors.New("storage: io error")

	// ErrCorruption is returned by the log record decoder when a record
	// fails to parse; log replay treats it as end-of-page, never fatal.
	ErrCorruption = errors.New("storage: log corruption")

	// ErrLockTimeout names a lock request not granted before the
	// configured timeout elapses. No operation in this repository
	// returns it: the lock manager reports a timeout as false.
	ErrLockTimeout = errors.New("lock: timeout")

	// ErrLockUpgradeConflict names a second transaction trying to upgrade
	// the same resource while an upgrade is already pending. No operation
	// in this repository returns it: LockUpgrade reports it as false.
	ErrLockUpgradeConflict = errors.New("lock: upgrade conflict")

	// ErrTxnAborted names an operation attempted on a transaction already
	// in the ABORTED state. No operation in this repository returns it.
	ErrTxnAborted = errors.New("txn: transaction aborted")
)
