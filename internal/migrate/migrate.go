// Package migrate is the one-shot legacy-ledger conversion tool spec.md §9
// calls for: "the source repository contains two disk-buffer
// implementations (a legacy one and v2) with overlapping semantics... if
// an implementer needs to support legacy on-disk data, a one-shot
// migration tool must convert old ledgers."
//
// Grounded on internal/lsm/manifest.go's rewriteManifest: write the new
// structure to a temp path, sync, then os.Rename it into place, so a crash
// mid-migration leaves either the untouched legacy buffer or a complete v2
// one, never a half-written ledger.
package migrate

import (
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/vectorflow/conduit/internal/datafile"
	"github.com/vectorflow/conduit/internal/ledger"
)

// v1LedgerFileName is unchanged from v2 ("buffer.db"); the version field at
// offset 0 is what disambiguates a legacy ledger from a current one.
const v1LedgerFileName = "buffer.db"

// v1 layout, 32 bytes, native-endian, one generation older than the fixed
// 64-byte v2 layout in internal/ledger: it never persisted a live-byte-count
// (the legacy writer tracked that in memory only), so migration recomputes
// TotalBufferBytes by summing the frame sizes found while copying data
// files across.
const (
	v1Version = 1

	v1OffVersion                = 0
	v1OffWriterNextFileID       = 4
	v1OffReaderCurrentFileID    = 6
	v1OffWriterNextRecordID     = 8
	v1OffReaderLastReadRecordID = 16
	v1OffTotalRecords           = 24
	v1LedgerSize                = 32
)

// Report summarizes one migration run.
type Report struct {
	RecordsCarried    int64
	DataFilesCopied   int
	BufferBytesCarried int64
}

// MigrateV1ToV2 reads the legacy ledger and data-file chain in srcDir and
// writes an equivalent v2 layout to dstDir. srcDir is left untouched;
// dstDir must not already contain a ledger.
func MigrateV1ToV2(srcDir, dstDir string) (Report, error) {
	var report Report

	fields, err := readV1Ledger(filepath.Join(srcDir, v1LedgerFileName))
	if err != nil {
		return report, err
	}

	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return report, errors.Wrapf(err, "migrate: creating %s", dstDir)
	}
	if _, err := os.Stat(filepath.Join(dstDir, ledger.FileName)); err == nil {
		return report, errors.Errorf("migrate: %s already has a buffer.db", dstDir)
	}

	totalBytes, filesCopied, err := copyDataFiles(srcDir, dstDir, fields.readerCurrentFileID, fields.writerNextFileID)
	if err != nil {
		return report, err
	}

	if err := writeV2Ledger(dstDir, fields, totalBytes); err != nil {
		return report, err
	}

	report.RecordsCarried = fields.totalRecords
	report.DataFilesCopied = filesCopied
	report.BufferBytesCarried = totalBytes
	return report, nil
}

type v1Fields struct {
	writerNextFileID       uint16
	readerCurrentFileID    uint16
	writerNextRecordID     uint64
	readerLastReadRecordID uint64
	totalRecords           int64
}

func readV1Ledger(path string) (v1Fields, error) {
	var fields v1Fields

	raw, err := os.ReadFile(path)
	if err != nil {
		return fields, errors.Wrapf(err, "migrate: reading legacy ledger %s", path)
	}
	if len(raw) < v1LedgerSize {
		return fields, errors.Errorf("migrate: legacy ledger %s is truncated (%d bytes, want >= %d)", path, len(raw), v1LedgerSize)
	}

	version := binary.NativeEndian.Uint32(raw[v1OffVersion:])
	if version != v1Version {
		return fields, errors.Errorf("migrate: %s has version %d, want legacy version %d", path, version, v1Version)
	}

	fields.writerNextFileID = binary.NativeEndian.Uint16(raw[v1OffWriterNextFileID:])
	fields.readerCurrentFileID = binary.NativeEndian.Uint16(raw[v1OffReaderCurrentFileID:])
	fields.writerNextRecordID = binary.NativeEndian.Uint64(raw[v1OffWriterNextRecordID:])
	fields.readerLastReadRecordID = binary.NativeEndian.Uint64(raw[v1OffReaderLastReadRecordID:])
	fields.totalRecords = int64(binary.NativeEndian.Uint64(raw[v1OffTotalRecords:]))
	return fields, nil
}

// copyDataFiles copies every data file from oldest (the reader's current
// file) through newest (the writer's current, still-active file) inclusive,
// summing each frame's record bytes (excluding the 4-byte length prefix,
// the same measure the disk buffer accounts) to recompute the v2 ledger's
// TotalBufferBytes. The 16-bit id wraps the same
// way rotation does elsewhere, so the loop always terminates by reaching
// newest rather than running past it.
func copyDataFiles(srcDir, dstDir string, oldest, newest uint16) (int64, int, error) {
	var totalBytes int64
	var copied int

	id := oldest
	for {
		srcPath := datafile.Path(srcDir, id)
		n, err := copyDataFile(srcPath, datafile.Path(dstDir, id))
		switch {
		case os.IsNotExist(errors.Cause(err)):
		case err != nil:
			return 0, 0, err
		default:
			totalBytes += n
			copied++
		}
		if id == newest {
			break
		}
		id++
	}
	return totalBytes, copied, nil
}

func copyDataFile(srcPath, dstPath string) (int64, error) {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return 0, errors.Wrapf(err, "migrate: reading legacy data file %s", srcPath)
	}
	if err := os.WriteFile(dstPath, data, 0o644); err != nil {
		return 0, errors.Wrapf(err, "migrate: writing %s", dstPath)
	}
	return sumFrameBytes(data), nil
}

// sumFrameBytes walks the length-prefixed frames in a data file (same
// framing in v1 and v2: a 4-byte little-endian length prefix per record)
// and totals their record bytes, not counting the length prefixes, stopping
// at the first zero-length prefix
// (the unwritten tail) or a frame that would run past the buffer.
func sumFrameBytes(data []byte) int64 {
	const lengthPrefixSize = 4
	var pos, total int64
	for pos+lengthPrefixSize <= int64(len(data)) {
		length := int64(binary.LittleEndian.Uint32(data[pos : pos+lengthPrefixSize]))
		if length == 0 {
			break
		}
		end := pos + lengthPrefixSize + length
		if end > int64(len(data)) {
			break
		}
		total += length
		pos = end
	}
	return total
}

func writeV2Ledger(dstDir string, fields v1Fields, totalBufferBytes int64) error {
	tmpPath := filepath.Join(dstDir, ledger.FileName+".migrating")
	led, err := ledger.Open(tmpPath)
	if err != nil {
		return errors.Wrap(err, "migrate: opening new ledger")
	}

	led.SetWriterNextFileID(fields.writerNextFileID)
	led.SetReaderCurrentFileID(fields.readerCurrentFileID)
	led.SetWriterNextRecordID(fields.writerNextRecordID)
	led.SetReaderLastReadRecordID(int64(fields.readerLastReadRecordID))
	led.AddTotalRecords(fields.totalRecords)
	led.AddTotalBufferBytes(totalBufferBytes)

	if err := led.Flush(); err != nil {
		led.Close()
		return errors.Wrap(err, "migrate: flushing new ledger")
	}
	if err := led.Close(); err != nil {
		return errors.Wrap(err, "migrate: closing new ledger")
	}

	finalPath := filepath.Join(dstDir, ledger.FileName)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return errors.Wrap(err, "migrate: renaming new ledger into place")
	}
	return nil
}
