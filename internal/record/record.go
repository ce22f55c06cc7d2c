// Package record implements the on-disk encoded form of one EventArray:
//
//	checksum: u32  (CRC32C over big-endian id ‖ big-endian metadata ‖ payload)
//	id:       u64  (monotonic per-buffer; first-event index of the record)
//	metadata: u32  (codec version + type tag)
//	payload:  bytes
//
// Encoding/decoding mirrors internal/wal/wal.go's reusable-buffer discipline:
// a record is built once into a scratch slice, then handed to the data file
// for length-prefixed append.
package record

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/pkg/errors"
)

// HeaderSize is the fixed-size prefix before the payload: checksum(4) +
// id(8) + metadata(4).
const HeaderSize = 4 + 8 + 4

// castagnoliTable is the CRC32C polynomial table the spec requires.
var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// Corrupted is returned when a decoded record's checksum does not match the
// recomputed value. It is surfaced to the reader, never silently skipped at
// this layer.
type Corrupted struct {
	Calculated uint32
	Actual     uint32
}

func (e *Corrupted) Error() string {
	return errors.Errorf("record: checksum mismatch: calculated=%d actual=%d", e.Calculated, e.Actual).Error()
}

// ErrFailedDeserialization is returned when a buffer is too short to contain
// a valid header, or the declared payload would overrun the buffer.
var ErrFailedDeserialization = errors.New("record: failed to deserialize (truncated or malformed frame)")

// Record is the decoded form of one on-disk record.
type Record struct {
	ID       uint64
	Metadata uint32
	Payload  []byte
}

// Encode appends the wire form of a record to dst and returns the extended
// slice, so callers can reuse a scratch buffer the way WalWriter.Write does.
func Encode(dst []byte, id uint64, metadata uint32, payload []byte) []byte {
	start := len(dst)
	dst = append(dst, make([]byte, HeaderSize)...)

	binary.BigEndian.PutUint64(dst[start+4:start+12], id)
	binary.BigEndian.PutUint32(dst[start+12:start+16], metadata)
	dst = append(dst, payload...)

	sum := crc32.Checksum(dst[start+4:], castagnoliTable)
	binary.BigEndian.PutUint32(dst[start:start+4], sum)

	return dst
}

// EncodedLen returns the number of bytes Encode will append for a payload of
// length payloadLen, without performing the encode.
func EncodedLen(payloadLen int) int {
	return HeaderSize + payloadLen
}

// Decode parses buf as a single record. It places no alignment requirement
// on buf; the decoder assumes buf is exactly the record's frame (the caller, typically
// datafile.ReadNext, has already located the frame boundary via its length
// prefix).
func Decode(buf []byte) (Record, error) {
	if len(buf) < HeaderSize {
		return Record{}, ErrFailedDeserialization
	}

	storedChecksum := binary.BigEndian.Uint32(buf[0:4])
	id := binary.BigEndian.Uint64(buf[4:12])
	metadata := binary.BigEndian.Uint32(buf[12:16])
	payload := buf[HeaderSize:]

	calculated := crc32.Checksum(buf[4:], castagnoliTable)
	if calculated != storedChecksum {
		return Record{}, &Corrupted{Calculated: calculated, Actual: storedChecksum}
	}

	return Record{ID: id, Metadata: metadata, Payload: payload}, nil
}

// PeekID reads the id field directly out of a frame without validating its
// checksum, for recovery scans that need to locate a record by ID even when
// the record itself may turn out to be corrupt.
func PeekID(buf []byte) (uint64, error) {
	if len(buf) < HeaderSize {
		return 0, ErrFailedDeserialization
	}
	return binary.BigEndian.Uint64(buf[4:12]), nil
}

// Recompute returns the checksum that Decode would have computed for r,
// exposed for the checksum-correctness property (spec §8 property 4).
func Recompute(r Record) uint32 {
	buf := make([]byte, 0, HeaderSize+len(r.Payload))
	buf = append(buf, make([]byte, 12)...)
	binary.BigEndian.PutUint64(buf[0:8], r.ID)
	binary.BigEndian.PutUint32(buf[8:12], r.Metadata)
	buf = append(buf, r.Payload...)
	return crc32.Checksum(buf, castagnoliTable)
}
