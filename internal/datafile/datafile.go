// Package datafile implements the append-only, length-prefixed segment file
// that backs a disk buffer. Each file is memory-mapped up to its configured
// max size so that Append and ReadNext are plain memory operations; Sync
// calls msync to push the mapping to disk.
//
// Frame format: a 4-byte little-endian length prefix followed by that many
// bytes of record data (per spec.md §6, "data files are little-endian length
// prefixes with big-endian integers inside each record"). A frame is never
// split across files.
//
// Grounded on internal/sstable/sstable.go's Writer/Reader/Iterator
// (length-prefixed frames, bounds-checked reads) and internal/wal/wal.go's
// buffered-write-then-periodic-sync policy, generalized from a single
// process-lifetime buffer to a memory-mapped region with an explicit max
// size and FileFull/rotation semantics.
package datafile

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const lengthPrefixSize = 4

// Path returns the canonical data file path for id within dir (spec.md
// §6's on-disk layout: "buffer-data-<N>.dat", N the file id in decimal).
func Path(dir string, id uint16) string {
	return filepath.Join(dir, "buffer-data-"+strconv.FormatUint(uint64(id), 10)+".dat")
}

// ErrFileFull is returned by Append when the record would not fit before
// the file's configured max size.
var ErrFileFull = errors.New("datafile: file full")

// ErrEndOfFile is returned by ReadNext when offset has reached the
// writer-visible length of the file.
var ErrEndOfFile = errors.New("datafile: end of file")

// ErrRecordTooLarge is returned by Append when a single frame would exceed
// the file's max size even when empty.
var ErrRecordTooLarge = errors.New("datafile: record exceeds max file size")

// File is one memory-mapped, length-prefixed segment.
type File struct {
	ID      uint16
	Path    string
	maxSize int64

	file *os.File
	mmap []byte // length == maxSize

	// writeOffset is the logical end of written data; bytes beyond it are
	// zero-filled (either freshly truncated or never written) and a
	// zero length-prefix there is read as EndOfFile.
	writeOffset int64
}

// Create opens path as a brand-new, empty file of the given max size.
func Create(path string, id uint16, maxSize int64) (*File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "datafile: create %s", path)
	}
	return open(f, path, id, maxSize, 0)
}

// Open opens an existing file without assuming anything about how much of
// it holds valid data; it runs Recover to discover the write offset before
// returning.
func Open(path string, id uint16, maxSize int64) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "datafile: open %s", path)
	}
	return open(f, path, id, maxSize, -1)
}

func open(f *os.File, path string, id uint16, maxSize int64, writeOffset int64) (*File, error) {
	if err := f.Truncate(maxSize); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "datafile: preallocate %s to %d bytes", path, maxSize)
	}

	region, err := unix.Mmap(int(f.Fd()), 0, int(maxSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "datafile: mmap %s", path)
	}

	df := &File{
		ID:      id,
		Path:    path,
		maxSize: maxSize,
		file:    f,
		mmap:    region,
	}

	if writeOffset >= 0 {
		df.writeOffset = writeOffset
	} else if _, _, err := df.Recover(); err != nil {
		df.closeMapping()
		f.Close()
		return nil, err
	}

	return df, nil
}

// Append atomically writes the 4-byte length and record bytes, returning
// the byte offset at which this record begins.
func (f *File) Append(recordBytes []byte) (int64, error) {
	frameLen := int64(lengthPrefixSize + len(recordBytes))
	if frameLen > f.maxSize {
		return 0, ErrRecordTooLarge
	}
	if f.writeOffset+frameLen > f.maxSize {
		return 0, ErrFileFull
	}

	offset := f.writeOffset
	binary.LittleEndian.PutUint32(f.mmap[offset:offset+lengthPrefixSize], uint32(len(recordBytes)))
	copy(f.mmap[offset+lengthPrefixSize:], recordBytes)
	f.writeOffset += frameLen

	return offset, nil
}

// ReadNext reads the length-prefixed frame starting at fromOffset and
// returns the record bytes plus the offset of the following frame.
func (f *File) ReadNext(fromOffset int64) ([]byte, int64, error) {
	if fromOffset >= f.writeOffset {
		return nil, fromOffset, ErrEndOfFile
	}

	length := binary.LittleEndian.Uint32(f.mmap[fromOffset : fromOffset+lengthPrefixSize])
	start := fromOffset + lengthPrefixSize
	end := start + int64(length)
	if end > f.writeOffset {
		return nil, fromOffset, ErrEndOfFile
	}

	frame := make([]byte, length)
	copy(frame, f.mmap[start:end])
	return frame, end, nil
}

// WriteOffset returns the current logical end of written data.
func (f *File) WriteOffset() int64 {
	return f.writeOffset
}

// MaxSize returns the file's configured maximum size.
func (f *File) MaxSize() int64 {
	return f.maxSize
}

// Recover scans raw frames from the start of the file using only the
// structural length prefix (no checksum validation — that is the disk
// buffer's job) to discover how much of the file holds data. A zero length
// prefix marks the first never-written byte, since the file is always
// zero-filled past its logical end. If a frame's declared length would
// overrun maxSize the tail is considered torn and the scan stops there.
//
// Returns the discovered write offset and whether a torn tail was found.
func (f *File) Recover() (offset int64, torn bool, err error) {
	var pos int64
	for {
		if pos+lengthPrefixSize > f.maxSize {
			f.writeOffset = pos
			return pos, true, nil
		}
		length := binary.LittleEndian.Uint32(f.mmap[pos : pos+lengthPrefixSize])
		if length == 0 {
			f.writeOffset = pos
			return pos, false, nil
		}
		end := pos + lengthPrefixSize + int64(length)
		if end > f.maxSize {
			f.writeOffset = pos
			return pos, true, nil
		}
		pos = end
	}
}

// Truncate discards everything from offset onward, used during recovery to
// drop a torn tail write. Subsequent Append calls resume at offset.
func (f *File) Truncate(offset int64) error {
	if offset < 0 || offset > f.writeOffset {
		return errors.Errorf("datafile: truncate offset %d out of range [0,%d]", offset, f.writeOffset)
	}
	for i := offset; i < f.writeOffset; i++ {
		f.mmap[i] = 0
	}
	f.writeOffset = offset
	return nil
}

// Sync forces the memory-mapped region to disk.
func (f *File) Sync() error {
	if err := unix.Msync(f.mmap, unix.MS_SYNC); err != nil {
		return errors.Wrapf(err, "datafile: msync %s", f.Path)
	}
	return f.file.Sync()
}

func (f *File) closeMapping() {
	if f.mmap != nil {
		unix.Munmap(f.mmap)
		f.mmap = nil
	}
}

// Close unmaps and closes the file without deleting it.
func (f *File) Close() error {
	f.closeMapping()
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}

// Delete closes and removes the underlying file, invoked once the reader
// has acknowledged every record within it.
func (f *File) Delete() error {
	path := f.Path
	if err := f.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}
