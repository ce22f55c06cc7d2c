package disk

import (
	"context"

	"github.com/pkg/errors"

	"github.com/vectorflow/conduit/internal/buffer"
	"github.com/vectorflow/conduit/internal/codec"
	"github.com/vectorflow/conduit/internal/datafile"
	"github.com/vectorflow/conduit/internal/event"
	"github.com/vectorflow/conduit/internal/finalizer"
	"github.com/vectorflow/conduit/internal/record"
)

// TrySend encodes batch into a Record, appends it to the active data file
// (rotating once if it is full), and updates the ledger, per spec.md §4.3.
// Once the record is appended, every event's incoming finalizer handle is
// released as Delivered: the buffer now owns the record's acknowledgement.
// When the buffer is at capacity the configured WhenFull policy decides the
// outcome.
func (b *Buffer) TrySend(batch event.EventArray) error {
	if b.closed.Load() {
		return errors.New("disk buffer: closed")
	}
	if batch.Len() == 0 {
		return nil
	}

	payload, metadata, err := codec.Encode(batch)
	if err != nil {
		return errors.Wrap(err, "disk buffer: encode batch")
	}

	id := b.ledger.WriterNextRecordID()
	recordBytes := record.Encode(nil, id, metadata, payload)
	if int64(len(recordBytes)) > b.opts.MaxRecordSize {
		return errors.Errorf("disk buffer: record of %d bytes exceeds max_record_size %d", len(recordBytes), b.opts.MaxRecordSize)
	}

	if b.opts.MaxBufferSize > 0 {
		if b.ledger.TotalBufferBytes()+int64(len(recordBytes)) > b.opts.MaxBufferSize {
			switch b.opts.WhenFull {
			case buffer.DropNewest:
				b.dropped.Add(1)
				return nil
			case buffer.Overflow:
				return b.opts.Overflow.TrySend(batch)
			default:
				return &buffer.FullError{Batch: batch}
			}
		}
	}

	b.wMu.Lock()
	_, err = b.writerFile.Append(recordBytes)
	if errors.Is(err, datafile.ErrFileFull) {
		if rerr := b.rotateWriter(); rerr != nil {
			b.wMu.Unlock()
			return errors.Wrap(rerr, "disk buffer: rotate writer")
		}
		_, err = b.writerFile.Append(recordBytes)
	}
	b.wMu.Unlock()
	if err != nil {
		return errors.Wrap(err, "disk buffer: append record")
	}

	b.ledger.AddWriterNextRecordID(uint64(batch.Len()))
	b.ledger.AddTotalRecords(1)
	b.ledger.AddTotalBufferBytes(int64(len(recordBytes)))

	for _, e := range batch.Events {
		e.Metadata.Finalizer().Release(finalizer.Delivered)
	}

	b.readerNotify.Trip()
	return nil
}

// rotateWriter closes over to the next file ID (mod 2^16), syncing the
// outgoing file first per the durability contract ("sync is called ... (ii)
// before a rotation"). Callers must hold wMu.
func (b *Buffer) rotateWriter() error {
	if err := b.writerFile.Sync(); err != nil {
		return err
	}

	nextID := b.writerFile.ID + 1
	newFile, err := b.files.acquireNew(nextID)
	if err != nil {
		return err
	}

	oldID := b.writerFile.ID
	b.writerFile = newFile
	b.writerFileID.Store(uint32(nextID))
	b.ledger.SetWriterNextFileID(nextID)

	// The writer always drops its own share of oldID's reference count here.
	// If the reader still holds its own reference to the same file (the
	// common case: reader caught up to the writer's file), the registry
	// keeps the mapping alive on the reader's behalf; otherwise this was the
	// last reference and the mapping is closed (not deleted — deletion only
	// happens once every record in the file has been acked).
	return b.files.release(oldID)
}

// Send blocks until batch is accepted, retrying after every wake from the
// reader, honoring ctx cancellation. It is only meaningful under the Block
// policy; other policies never return *buffer.FullError from TrySend.
func (b *Buffer) Send(ctx context.Context, batch event.EventArray) error {
	for {
		err := b.TrySend(batch)
		if err == nil {
			return nil
		}
		var full *buffer.FullError
		if !errors.As(err, &full) {
			return err
		}
		if werr := b.writerNotify.Wait(ctx); werr != nil {
			return werr
		}
	}
}

// Flush forces the writer's memory-mapped region to disk, flushes the
// ledger, and wakes the reader.
func (b *Buffer) Flush() error {
	b.wMu.Lock()
	err := b.writerFile.Sync()
	b.wMu.Unlock()
	if err != nil {
		return errors.Wrap(err, "disk buffer: sync data file")
	}
	if err := b.ledger.Flush(); err != nil {
		return err
	}
	b.readerNotify.Trip()
	return nil
}
