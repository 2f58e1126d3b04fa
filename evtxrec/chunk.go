package evtxrec

import (
	"fmt"
	"io"

	"github.com/0xrawsec/golang-utils/datastructs"
	"github.com/0xrawsec/golang-utils/encoding"
	"github.com/0xrawsec/golang-utils/log"
)

/////////////////////////////// ChunkHeader ////////////////////////////////////

// ChunkHeader structure definition
type ChunkHeader struct {
	Magic           [8]byte
	NumFirstRecLog  int64
	NumLastRecLog   int64
	FirstEventRecID int64
	LastEventRecID  int64
	SizeHeader      int32
	OffsetLastRec   int32
	Freespace       int32
	CheckSum        uint32
}

// Validate controls the validity of the chunk header
func (ch *ChunkHeader) Validate() error {
	if string(ch.Magic[:]) != ChunkMagic {
		return fmt.Errorf("%w: %q", ErrBadChunkMagic, ch.Magic)
	}
	if ch.SizeHeader != ChunkHeaderSize {
		return fmt.Errorf("invalid chunk header size: %d instead of %d", ch.SizeHeader, ChunkHeaderSize)
	}
	if ch.OffsetLastRec >= ChunkSize {
		return fmt.Errorf("last record offset exceeds size of chunk")
	}
	return nil
}

func (ch ChunkHeader) String() string {
	return fmt.Sprintf(
		"\tMagic: %s\n"+
			"\tNumFirstRecLog: %d\n"+
			"\tNumLastRecLog: %d\n"+
			"\tFirstEventRecID: %d\n"+
			"\tLastEventRecID: %d\n"+
			"\tSizeHeader: %d\n"+
			"\tOffsetLastRec: %d\n"+
			"\tFreespace: %d\n"+
			"\tCheckSum: 0x%08x\n",
		ch.Magic,
		ch.NumFirstRecLog,
		ch.NumLastRecLog,
		ch.FirstEventRecID,
		ch.LastEventRecID,
		ch.SizeHeader,
		ch.OffsetLastRec,
		ch.Freespace,
		ch.CheckSum)
}

//////////////////////////////////// Chunk /////////////////////////////////////

// Chunk structure definition
type Chunk struct {
	Offset        int64
	Header        ChunkHeader
	RecordOffsets []int32
	Data          []byte
}

// ParseChunkHeader parses a chunk header at the current reader position
func (c *Chunk) ParseChunkHeader(reader io.ReadSeeker) error {
	if err := encoding.Unmarshal(reader, &c.Header, Endianness); err != nil {
		return err
	}
	return c.Header.Validate()
}

// Less implement datastructs.Sortable
func (c Chunk) Less(s *datastructs.Sortable) bool {
	other := (*s).(Chunk)
	return c.Header.NumFirstRecLog < other.Header.NumFirstRecLog
}

// ParseRecordOffsets walks the chunk data record by record, validating every
// record header, and fills RecordOffsets with the offsets found. Iteration
// stops at the first byte sequence which is not a valid record, EVTX writers
// mark unused chunk tail space with zeroed signatures which end up rejected
// by the validator like any other garbage. In carving mode invalid offsets
// are bruteforced byte by byte instead.
func (c *Chunk) ParseRecordOffsets() error {
	c.RecordOffsets = make([]int32, 0)
	offset := FirstRecordOffset
	for offset <= int(c.Header.OffsetLastRec) && offset < len(c.Data) {
		rec, err := ValidateRecord(c.Data, offset)
		if err != nil {
			if ModeCarving {
				offset++
				continue
			}
			// Normal end of the record array, not an error for the chunk
			log.Debugf("chunk @ 0x%08x: stopping record walk at offset 0x%08x: %s", c.Offset, offset, err)
			return nil
		}
		c.RecordOffsets = append(c.RecordOffsets, int32(offset))
		offset += int(rec.Header.Size)
	}
	return nil
}

// DecodeRecordAt validates and walks the event record at the given chunk
// relative offset
func (c *Chunk) DecodeRecordAt(offset int, dec TokenDecoder) (*EventRecord, []Token, error) {
	return DecodeRecord(c.Data, offset, dec)
}

// Records returns a channel of the decode summaries of all the records of the
// chunk. A record failing to decode is logged and skipped, resumption past a
// bad record is a chunk level policy, the record decoder itself never skips.
func (c *Chunk) Records(dec TokenDecoder) (cri chan *RecordInfo) {
	cri = make(chan *RecordInfo, len(c.RecordOffsets))
	go func() {
		defer close(cri)
		for _, ro := range c.RecordOffsets {
			rec, tokens, err := c.DecodeRecordAt(int(ro), dec)
			if err != nil {
				log.Errorf("chunk @ 0x%08x: record at offset 0x%08x: %s", c.Offset, ro, err)
				continue
			}
			cri <- NewRecordInfo(c, rec, tokens)
		}
	}()
	return
}

func (c Chunk) String() string {
	return fmt.Sprintf(
		"Header: %v\n"+
			"RecordOffsets: %v\n", c.Header, c.RecordOffsets)
}
