package evtxrec

import (
	"fmt"

	"github.com/0xrawsec/golang-utils/log"
)

//////////////////////////// EventRecordHeader /////////////////////////////////

// EventRecordHeader is the fixed size header found at the beginning of every
// event record in a chunk. A second copy of Size is stored as the last four
// bytes of the record, it is read back into CopyOfSize during validation.
type EventRecordHeader struct {
	Magic        [4]byte
	Size         uint32
	ID           uint64
	CreationTime FileTime
	CopyOfSize   uint32
}

// SizesAgree returns true if the leading size field matches its trailing copy.
// The leading copy stays authoritative for bounds computation either way.
func (h *EventRecordHeader) SizesAgree() bool {
	return h.Size == h.CopyOfSize
}

func (h EventRecordHeader) String() string {
	return fmt.Sprintf(
		"Magic: %q\n"+
			"Size: %d\n"+
			"ID: %d\n"+
			"CreationTime: %s\n"+
			"CopyOfSize: %d\n",
		h.Magic,
		h.Size,
		h.ID,
		h.CreationTime,
		h.CopyOfSize)
}

/////////////////////////////// EventRecord ////////////////////////////////////

// EventRecord is the result of a successful header validation. Offsets are
// relative to the start of the chunk buffer the record was validated against.
// The structure holds no reference to the buffer itself.
type EventRecord struct {
	Offset        int
	Header        EventRecordHeader
	PayloadOffset int
	PayloadLength int
}

// PayloadEnd returns the authorized upper bound of the record payload
func (r *EventRecord) PayloadEnd() int {
	return r.PayloadOffset + r.PayloadLength
}

// Payload returns the binary XML payload of the record as a sub-slice of
// chunkData. It must be the same buffer the record was validated against.
func (r *EventRecord) Payload(chunkData []byte) []byte {
	return chunkData[r.PayloadOffset:r.PayloadEnd()]
}

func (r EventRecord) String() string {
	return fmt.Sprintf("%sOffset: 0x%08x\nPayloadOffset: 0x%08x\nPayloadLength: %d\n",
		r.Header, r.Offset, r.PayloadOffset, r.PayloadLength)
}

/////////////////////////////// RecordInfo /////////////////////////////////////

// RecordInfo is the serializable decode summary of one event record
type RecordInfo struct {
	RecordID      uint64  `json:"record_id"`
	CreationTime  UTCTime `json:"creation_time"`
	ChunkOffset   int64   `json:"chunk_offset"`
	Offset        int     `json:"offset"`
	Size          uint32  `json:"size"`
	PayloadLength int     `json:"payload_length"`
	TokenCount    int     `json:"token_count"`
	SizesAgree    bool    `json:"sizes_agree"`
}

// NewRecordInfo builds the decode summary of a record decoded from chunk c
func NewRecordInfo(c *Chunk, rec *EventRecord, tokens []Token) *RecordInfo {
	return &RecordInfo{
		RecordID:      rec.Header.ID,
		CreationTime:  rec.Header.CreationTime.Time(),
		ChunkOffset:   c.Offset,
		Offset:        rec.Offset,
		Size:          rec.Header.Size,
		PayloadLength: rec.PayloadLength,
		TokenCount:    len(tokens),
		SizesAgree:    rec.Header.SizesAgree(),
	}
}

// ValidateRecord validates the event record header located at offset in
// chunkData and derives the payload boundaries from it. The input buffer is
// never modified and no reference to it is retained by the returned record.
//
// Every size field is cross checked against the actual buffer extent before
// being used, a record claiming to extend past the buffer is rejected with
// ErrOutOfBounds rather than read further.
func ValidateRecord(chunkData []byte, offset int) (*EventRecord, error) {
	if len(chunkData) == 0 {
		return nil, fmt.Errorf("%w: empty chunk buffer", ErrInvalidArgument)
	}
	if offset < 0 {
		return nil, fmt.Errorf("%w: negative record offset %d", ErrInvalidArgument, offset)
	}
	if offset >= len(chunkData) {
		return nil, fmt.Errorf("%w: record offset 0x%08x in chunk of %d bytes",
			ErrOutOfBounds, offset, len(chunkData))
	}
	// Safe, offset < len(chunkData) holds
	remaining := len(chunkData) - offset
	// The record must at least hold its header and the trailing size copy
	if remaining < EventRecordHeaderSize+4 {
		return nil, fmt.Errorf("%w: %d bytes left at offset 0x%08x, need %d",
			ErrTooSmall, remaining, offset, EventRecordHeaderSize+4)
	}
	rec := EventRecord{Offset: offset}
	copy(rec.Header.Magic[:], chunkData[offset:offset+4])
	if string(rec.Header.Magic[:]) != EventRecordMagic {
		return nil, fmt.Errorf("%w: %q at offset 0x%08x",
			ErrUnsupportedSignature, rec.Header.Magic, offset)
	}
	rec.Header.Size = Endianness.Uint32(chunkData[offset+4:])
	rec.Header.ID = Endianness.Uint64(chunkData[offset+8:])
	rec.Header.CreationTime = FileTime{Ticks: Endianness.Uint64(chunkData[offset+16:])}
	// Size is bounds checked before the trailing copy is read, otherwise the
	// read offset would be fully attacker controlled
	size := int(rec.Header.Size)
	if size < EventRecordHeaderSize || size > remaining-4 {
		return nil, fmt.Errorf("%w: record size %d at offset 0x%08x (%d bytes remaining)",
			ErrOutOfBounds, size, offset, remaining)
	}
	rec.Header.CopyOfSize = Endianness.Uint32(chunkData[offset+size-4:])
	if !rec.Header.SizesAgree() {
		// The format documentation does not mandate rejection on mismatch, the
		// leading copy stays authoritative
		log.Debugf("record %d at offset 0x%08x: trailing size copy %d disagrees with size %d",
			rec.Header.ID, offset, rec.Header.CopyOfSize, rec.Header.Size)
	}
	rec.PayloadOffset = offset + EventRecordHeaderSize
	rec.PayloadLength = size - (EventRecordHeaderSize + 4)
	return &rec, nil
}
