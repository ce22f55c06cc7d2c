package disk

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/vectorflow/conduit/internal/buffer"
	"github.com/vectorflow/conduit/internal/codec"
	"github.com/vectorflow/conduit/internal/datafile"
	"github.com/vectorflow/conduit/internal/event"
	"github.com/vectorflow/conduit/internal/finalizer"
	"github.com/vectorflow/conduit/internal/record"
)

// Next blocks until a record is available, decodes it into an EventArray,
// and attaches a finalizer whose eventual resolution calls back into ack.
// Corrupted or undecodable records are skipped rather than surfaced to the
// caller (spec.md's known failure mode table: "skip record, mark file
// tainted; continue"); the ledger's counters are adjusted as if the record
// had been delivered and immediately acknowledged, since it never will be.
func (b *Buffer) Next(ctx context.Context) (event.EventArray, error) {
	for {
		arr, ok, err := b.nextRecord(ctx)
		if err != nil {
			return event.EventArray{}, err
		}
		if ok {
			return arr, nil
		}
		// ok==false means a corrupt record was skipped; loop for the next one.
	}
}

// nextRecord attempts to read and decode exactly one frame. ok is false when
// the frame was corrupt and has already been skipped and accounted for, so
// the caller should retry.
func (b *Buffer) nextRecord(ctx context.Context) (arr event.EventArray, ok bool, err error) {
	b.rMu.Lock()
	defer b.rMu.Unlock()

	for {
		frame, next, rerr := b.readerFile.ReadNext(b.readerOffset)
		if rerr == nil {
			r, derr := record.Decode(frame)
			if derr != nil {
				b.skipCorrupt(b.readerFile.ID, int64(len(frame)), derr)
				b.readerOffset = next
				return event.EventArray{}, false, nil
			}

			out, cerr := codec.Decode(r.Payload, r.Metadata)
			if cerr != nil {
				b.skipCorrupt(b.readerFile.ID, int64(len(frame)), cerr)
				b.readerOffset = next
				return event.EventArray{}, false, nil
			}

			fileID := b.readerFile.ID
			b.readerOffset = next

			b.pendingMu.Lock()
			b.pendingPerFile[fileID]++
			b.recordFileOf[r.ID] = fileID
			b.pendingMu.Unlock()

			buffer.AttachRecordFinalizer(&out, b.ackCallback(r.ID, out.Len(), int64(len(frame))))
			return out, true, nil
		}

		if rerr != datafile.ErrEndOfFile {
			return event.EventArray{}, false, rerr
		}

		// EOF on the current file: if the writer has already rotated past
		// it, there is a next file to advance into; otherwise this really
		// is the live tail and we park until the writer wakes us.
		if uint16(b.writerFileID.Load()) != b.readerFile.ID {
			if err := b.advanceReaderFile(); err != nil {
				return event.EventArray{}, false, err
			}
			continue
		}

		if err := b.readerNotify.Wait(ctx); err != nil {
			return event.EventArray{}, false, err
		}
	}
}

// advanceReaderFile moves the reader cursor to the next file ID (mod 2^16),
// releasing its reference on the old file. Callers must hold rMu.
func (b *Buffer) advanceReaderFile() error {
	oldID := b.readerFile.ID
	nextID := oldID + 1

	f, err := b.files.acquireExisting(nextID)
	if err != nil {
		return err
	}

	if err := b.files.release(oldID); err != nil {
		b.opts.Logger.WithError(err).Warn("disk buffer: release rotated-past file")
	}

	b.readerFile = f
	b.readerOffset = 0
	b.readerFileID.Store(uint32(nextID))
	return nil
}

// skipCorrupt logs and accounts for a record that failed checksum or decode
// validation: it will never be delivered, so its slot in the ledger's
// pending counters is released immediately rather than waiting for an ack
// that can never come.
func (b *Buffer) skipCorrupt(fileID uint16, frameBytes int64, cause error) {
	b.opts.Logger.WithFields(logrus.Fields{
		"file":  fileID,
		"error": cause,
	}).Warn("disk buffer: skipping corrupted record")

	b.ledger.AddTotalRecords(-1)
	b.ledger.AddTotalBufferBytes(-frameBytes)
}

// ack decrements the ledger's pending counters, advances
// reader_last_read_record_id monotonically, and deletes any now-fully-acked
// oldest files, per spec.md §4.3's ack(id, event_count, bytes).
func (b *Buffer) ack(id uint64, eventCount int, bytes int64, status finalizer.Status) {
	b.pendingMu.Lock()
	fileID, tracked := b.recordFileOf[id]
	delete(b.recordFileOf, id)
	if tracked {
		b.pendingPerFile[fileID]--
	}
	b.pendingMu.Unlock()

	b.ledger.AddTotalRecords(-1)
	newTotal := b.ledger.AddTotalBufferBytes(-bytes)

	b.opts.Logger.WithFields(logrus.Fields{
		"record_id": id, "events": eventCount, "status": status,
	}).Debug("disk buffer: ack")

	b.advanceLastRead(id)

	if tracked {
		b.reapOldestFiles()
	}

	if b.opts.MaxBufferSize <= 0 || newTotal < b.opts.MaxBufferSize {
		b.writerNotify.Trip()
	}
}

// advanceLastRead stores id as reader_last_read_record_id only if it is
// greater than the current value: acks from concurrent downstream consumers
// can arrive out of order, but the ledger field must advance monotonically.
// The current value starts at ledger.NoRecordRead (-1) on a fresh ledger, so
// acking record id 0 still advances the field instead of being mistaken for
// "already read".
func (b *Buffer) advanceLastRead(id uint64) {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	if int64(id) > b.ledger.ReaderLastReadRecordID() {
		b.ledger.SetReaderLastReadRecordID(int64(id))
	}
}

// reapOldestFiles deletes consecutive fully-acked files starting at
// oldestFileID, stopping at the first file still pending or still active
// for reading or writing.
func (b *Buffer) reapOldestFiles() {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()

	for {
		id := b.oldestFileID
		if n, ok := b.pendingPerFile[id]; ok && n > 0 {
			return
		}
		if uint16(b.readerFileID.Load()) == id || uint16(b.writerFileID.Load()) == id {
			return
		}

		delete(b.pendingPerFile, id)
		if err := b.files.delete(id); err != nil {
			b.opts.Logger.WithError(err).Warn("disk buffer: delete fully-acked file")
			return
		}

		b.oldestFileID = id + 1
		b.ledger.SetReaderCurrentFileID(b.oldestFileID)
	}
}
