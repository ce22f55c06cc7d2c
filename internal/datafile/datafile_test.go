package datafile

import (
	"path/filepath"
	"testing"
)

func TestAppendReadNextRoundTrip(t *testing.T) {
	dir := t.TempDir()
	f, err := Create(filepath.Join(dir, "buffer-data-0.dat"), 0, 4096)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer f.Close()

	records := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	offsets := make([]int64, len(records))
	for i, r := range records {
		off, err := f.Append(r)
		if err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
		offsets[i] = off
	}

	pos := offsets[0]
	for i, want := range records {
		got, next, err := f.ReadNext(pos)
		if err != nil {
			t.Fatalf("ReadNext(%d): %v", i, err)
		}
		if string(got) != string(want) {
			t.Errorf("record %d = %q, want %q", i, got, want)
		}
		pos = next
	}

	if _, _, err := f.ReadNext(pos); err != ErrEndOfFile {
		t.Fatalf("expected ErrEndOfFile at end, got %v", err)
	}
}

func TestAppendFileFull(t *testing.T) {
	dir := t.TempDir()
	f, err := Create(filepath.Join(dir, "buffer-data-0.dat"), 0, 16)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer f.Close()

	// A 10-byte record is a 14-byte frame: the first fits in 16 bytes, the
	// second would push the file past its max size.
	if _, err := f.Append([]byte("0123456789")); err != nil {
		t.Fatalf("first Append: %v", err)
	}
	if _, err := f.Append([]byte("0123456789")); err != ErrFileFull {
		t.Fatalf("expected ErrFileFull, got %v", err)
	}
}

func TestRecoverReopensAtWriteOffset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "buffer-data-0.dat")

	f, err := Create(path, 0, 4096)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.Append([]byte("first"))
	f.Append([]byte("second"))
	wantOffset := f.WriteOffset()
	f.Sync()
	f.Close()

	reopened, err := Open(path, 0, 4096)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reopened.Close()

	if reopened.WriteOffset() != wantOffset {
		t.Fatalf("WriteOffset after reopen = %d, want %d", reopened.WriteOffset(), wantOffset)
	}

	off, err := reopened.Append([]byte("third"))
	if err != nil {
		t.Fatalf("Append after reopen: %v", err)
	}
	if off != wantOffset {
		t.Errorf("new record offset = %d, want %d (append directly after recovered tail)", off, wantOffset)
	}
}

func TestTruncateDiscardsTornTail(t *testing.T) {
	dir := t.TempDir()
	f, err := Create(filepath.Join(dir, "buffer-data-0.dat"), 0, 4096)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer f.Close()

	f.Append([]byte("good"))
	midpoint := f.WriteOffset()
	f.Append([]byte("will-be-discarded"))

	if err := f.Truncate(midpoint); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if f.WriteOffset() != midpoint {
		t.Fatalf("WriteOffset after truncate = %d, want %d", f.WriteOffset(), midpoint)
	}

	if _, _, err := f.ReadNext(midpoint); err != ErrEndOfFile {
		t.Fatalf("expected ErrEndOfFile after truncate, got %v", err)
	}
}

func TestDeleteRemovesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "buffer-data-0.dat")
	f, err := Create(path, 0, 4096)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := f.Delete(); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := Open(path, 0, 4096); err == nil {
		t.Fatal("expected Open to fail after Delete")
	}
}
