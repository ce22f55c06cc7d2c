package disk

import (
	"context"
	"encoding/binary"
	"os"
	"testing"
	"time"

	"github.com/vectorflow/conduit/internal/datafile"
)

// corruptSecondRecord flips a byte inside the second length-prefixed frame
// in path, just past its length prefix (so frame boundaries still parse,
// but the record's checksum no longer matches).
func corruptSecondRecord(t *testing.T, path string) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading data file: %v", err)
	}

	const lengthPrefixSize = 4
	var pos int64
	var frameStarts []int64
	for pos+lengthPrefixSize <= int64(len(data)) {
		length := binary.LittleEndian.Uint32(data[pos : pos+lengthPrefixSize])
		if length == 0 {
			break
		}
		frameStarts = append(frameStarts, pos)
		pos += lengthPrefixSize + int64(length)
	}
	if len(frameStarts) < 2 {
		t.Fatalf("expected at least 2 frames in %s, found %d", path, len(frameStarts))
	}

	corruptAt := frameStarts[1] + lengthPrefixSize
	data[corruptAt] ^= 0xFF

	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing corrupted data file: %v", err)
	}
}

// TestCorruptedRecordIsSkippedAndReported is spec.md §8 scenario S6: write
// 3 batches, flip the first checksum byte of the middle record on disk, restart.
// The reader yields batch 1, skips batch 2 (accounting it as if delivered
// so it never blocks future reads), and yields batch 3.
func TestCorruptedRecordIsSkippedAndReported(t *testing.T) {
	dir := t.TempDir()
	b, err := Open(Options{Dir: dir, MaxBufferSize: 1 << 20})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	for _, msg := range []string{"one", "two", "three"} {
		if err := b.TrySend(testBatch(t, msg)); err != nil {
			t.Fatalf("TrySend: %v", err)
		}
	}
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	beforeCorruption := b.ledger.TotalRecords()
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	corruptSecondRecord(t, datafile.Path(dir, 0))

	reopened, err := Open(Options{Dir: dir, MaxBufferSize: 1 << 20})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got1, err := reopened.Next(ctx)
	if err != nil {
		t.Fatalf("Next (batch 1): %v", err)
	}
	if got1.Events[0].Log.Fields["msg"] != "one" {
		t.Fatalf("batch 1 msg = %v, want one", got1.Events[0].Log.Fields["msg"])
	}
	ackBatch(got1)

	// The corrupted second record is skipped transparently inside Next; the
	// next call yields batch 3, not an error or an empty result.
	got3, err := reopened.Next(ctx)
	if err != nil {
		t.Fatalf("Next (batch 3, post-skip): %v", err)
	}
	if got3.Events[0].Log.Fields["msg"] != "three" {
		t.Fatalf("batch after skip = %v, want three", got3.Events[0].Log.Fields["msg"])
	}
	ackBatch(got3)

	if got := reopened.ledger.TotalRecords(); got != 0 {
		t.Errorf("TotalRecords after skip+acks = %d, want 0", got)
	}
	if beforeCorruption != 3 {
		t.Fatalf("sanity: TotalRecords before corruption = %d, want 3", beforeCorruption)
	}
}
