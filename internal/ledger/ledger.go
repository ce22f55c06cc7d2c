// Package ledger implements the small, memory-mapped, fsync-able structure
// that is the durable authority on a disk buffer's reader/writer position
// and pending-record accounting.
//
// A pure append-only write-ahead log would also satisfy the invariants; the
// mmap approach is used deliberately (per spec.md §9) because ledger updates
// are small, frequent, and field-local — exactly the shape
// internal/lsm/manifest.go fills for SSTable bookkeeping, generalized here
// from a line-oriented text file to a fixed-layout mmap'd struct so that
// individual field updates don't require rewriting the whole structure.
package ledger

import (
	"encoding/binary"
	"os"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// FileName is the ledger's fixed name within a disk buffer's directory.
const FileName = "buffer.db"

// version is written as a header so a future format change, or an attempt
// to open a legacy (disk_v1) ledger, can be detected rather than silently
// misinterpreted.
const version = 2

// layout: all fields are 8 bytes wide and 8-byte aligned so they can be
// addressed as atomics directly on the mmap'd region.
const (
	offVersion                = 0
	offWriterNextFileID       = 8
	offWriterNextRecordID     = 16
	offReaderCurrentFileID    = 24
	offReaderLastReadRecordID = 32
	offTotalRecords           = 40
	offTotalBufferBytes       = 48
	offLastFlushUnixNano      = 56
	ledgerSize                = 64
	// mmap regions are most safely sized to a full page.
	mappedSize = 4096
)

// ErrVersionMismatch is returned by Open when an existing ledger file
// carries a version this package does not understand (e.g. a legacy
// disk_v1 ledger — see internal/migrate for the one-shot conversion tool).
var ErrVersionMismatch = errors.New("ledger: version mismatch (legacy ledger? see internal/migrate)")

// NoRecordRead is the value ReaderLastReadRecordID returns on a fresh
// ledger, before any record has ever been acknowledged. Record IDs are
// assigned starting at 0, so the field cannot be a plain uint64 defaulted
// to 0 — that value would be indistinguishable from "record 0 has already
// been read". Stored and returned as a signed int64 so -1 is available as
// a dedicated sentinel.
const NoRecordRead int64 = -1

// Ledger is the durable reader/writer position and counters for one disk
// buffer.
type Ledger struct {
	path string
	file *os.File
	mmap []byte
}

// Open opens or creates the ledger at path. A missing file is treated as a
// fresh, empty ledger (spec.md §4.3 recovery step 1).
func Open(path string) (*Ledger, error) {
	_, statErr := os.Stat(path)
	fresh := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "ledger: open %s", path)
	}

	if err := f.Truncate(mappedSize); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "ledger: allocate %s", path)
	}

	region, err := unix.Mmap(int(f.Fd()), 0, mappedSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "ledger: mmap %s", path)
	}

	l := &Ledger{path: path, file: f, mmap: region}

	if fresh {
		binary.NativeEndian.PutUint64(l.mmap[offVersion:], version)
		l.SetReaderLastReadRecordID(NoRecordRead)
	} else {
		got := binary.NativeEndian.Uint64(l.mmap[offVersion:])
		if got != version {
			l.Close()
			return nil, errors.Wrapf(ErrVersionMismatch, "got version %d, want %d", got, version)
		}
	}

	return l, nil
}

func (l *Ledger) ptrU64(offset int) *uint64 {
	return (*uint64)(unsafe.Pointer(&l.mmap[offset]))
}

func (l *Ledger) ptrI64(offset int) *int64 {
	return (*int64)(unsafe.Pointer(&l.mmap[offset]))
}

// WriterNextFileID returns the ID of the data file the writer is currently
// appending to (set to the new file's ID on each rotation).
func (l *Ledger) WriterNextFileID() uint16 {
	return uint16(atomic.LoadUint64(l.ptrU64(offWriterNextFileID)))
}

func (l *Ledger) SetWriterNextFileID(id uint16) {
	atomic.StoreUint64(l.ptrU64(offWriterNextFileID), uint64(id))
}

// WriterNextRecordID returns the ID the writer will assign to its next
// record.
func (l *Ledger) WriterNextRecordID() uint64 {
	return atomic.LoadUint64(l.ptrU64(offWriterNextRecordID))
}

func (l *Ledger) SetWriterNextRecordID(id uint64) {
	atomic.StoreUint64(l.ptrU64(offWriterNextRecordID), id)
}

// AddWriterNextRecordID advances the writer's next-record-id counter by
// delta (the event count of the record just written) and returns the new
// value.
func (l *Ledger) AddWriterNextRecordID(delta uint64) uint64 {
	return atomic.AddUint64(l.ptrU64(offWriterNextRecordID), delta)
}

// ReaderCurrentFileID returns the file ID the reader is currently
// positioned in.
func (l *Ledger) ReaderCurrentFileID() uint16 {
	return uint16(atomic.LoadUint64(l.ptrU64(offReaderCurrentFileID)))
}

func (l *Ledger) SetReaderCurrentFileID(id uint16) {
	atomic.StoreUint64(l.ptrU64(offReaderCurrentFileID), uint64(id))
}

// ReaderLastReadRecordID returns the ID of the last record the reader has
// acknowledged, or NoRecordRead if none has been acknowledged yet.
func (l *Ledger) ReaderLastReadRecordID() int64 {
	return atomic.LoadInt64(l.ptrI64(offReaderLastReadRecordID))
}

// SetReaderLastReadRecordID stores id (or NoRecordRead) as the last
// acknowledged record ID.
func (l *Ledger) SetReaderLastReadRecordID(id int64) {
	atomic.StoreInt64(l.ptrI64(offReaderLastReadRecordID), id)
}

// TotalRecords returns the number of records written but not yet
// acknowledged.
func (l *Ledger) TotalRecords() int64 {
	return atomic.LoadInt64(l.ptrI64(offTotalRecords))
}

func (l *Ledger) AddTotalRecords(delta int64) int64 {
	return atomic.AddInt64(l.ptrI64(offTotalRecords), delta)
}

// TotalBufferBytes returns the current live-data byte count. It may
// transiently exceed max_buffer_size while the writer is mid-append of a
// record that pushes the buffer over the soft cap.
func (l *Ledger) TotalBufferBytes() int64 {
	return atomic.LoadInt64(l.ptrI64(offTotalBufferBytes))
}

func (l *Ledger) AddTotalBufferBytes(delta int64) int64 {
	return atomic.AddInt64(l.ptrI64(offTotalBufferBytes), delta)
}

// LastFlush returns the timestamp of the most recent successful Flush.
func (l *Ledger) LastFlush() time.Time {
	nanos := atomic.LoadInt64(l.ptrI64(offLastFlushUnixNano))
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// Flush msyncs the mapping to disk and records the flush timestamp.
func (l *Ledger) Flush() error {
	if err := unix.Msync(l.mmap[:ledgerSize], unix.MS_SYNC); err != nil {
		return errors.Wrap(err, "ledger: msync")
	}
	atomic.StoreInt64(l.ptrI64(offLastFlushUnixNano), time.Now().UnixNano())
	return nil
}

// Close unmaps and closes the ledger file.
func (l *Ledger) Close() error {
	if l.mmap != nil {
		unix.Munmap(l.mmap)
		l.mmap = nil
	}
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
