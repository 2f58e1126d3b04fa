package evtxrec

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"time"

	"github.com/0xrawsec/golang-utils/datastructs"
	"github.com/0xrawsec/golang-utils/encoding"
	"github.com/0xrawsec/golang-utils/log"
)

//////////////////////////////////// File //////////////////////////////////////

// FileHeader structure definition
type FileHeader struct {
	Magic           [8]byte
	FirstChunkNum   uint64
	LastChunkNum    uint64
	NextRecordID    uint64
	HeaderSpace     uint32
	MinVersion      uint16
	MajVersion      uint16
	ChunkDataOffset uint16
	ChunkCount      uint16
	Unknown         [76]byte
	Flags           uint32
	CheckSum        uint32
}

// Validate controls the validity of the file header
func (fh *FileHeader) Validate() error {
	if string(fh.Magic[:7]) != EvtxMagic {
		return fmt.Errorf("%w: %q", ErrBadEvtxFile, fh.Magic)
	}
	return nil
}

func (fh FileHeader) String() string {
	return fmt.Sprintf(
		"Magic: %s\n"+
			"FirstChunkNum: %d\n"+
			"LastChunkNum: %d\n"+
			"NextRecordID: %d\n"+
			"HeaderSpace: %d\n"+
			"MinVersion: 0x%04x\n"+
			"MajVersion: 0x%04x\n"+
			"ChunkDataOffset: %d\n"+
			"ChunkCount: %d\n"+
			"Flags: 0x%08x\n"+
			"CheckSum: 0x%08x\n",
		fh.Magic,
		fh.FirstChunkNum,
		fh.LastChunkNum,
		fh.NextRecordID,
		fh.HeaderSpace,
		fh.MinVersion,
		fh.MajVersion,
		fh.ChunkDataOffset,
		fh.ChunkCount,
		fh.Flags,
		fh.CheckSum)
}

// File structure definition
type File struct {
	sync.Mutex      // We need it if we want to parse (read) chunks in several threads
	Header          FileHeader
	Decoder         TokenDecoder
	file            io.ReadSeeker
	monitorExisting bool
}

// New initializes a File structure from an open buffer
// @r : buffer containing evtx data to parse
func New(r io.ReadSeeker) (ef File, err error) {
	ef.file = r
	ef.Decoder = &BinXMLDecoder{}
	err = ef.ParseFileHeader()
	return
}

// Open initializes a File structure from a file path
// @filepath : filepath of the evtx file to parse
func Open(filepath string) (ef File, err error) {
	file, err := os.Open(filepath)
	if err != nil {
		return
	}
	return New(file)
}

// SetMonitorExisting sets monitorExisting flag of the File struct in order to
// return already existing records when using MonitorRecords
func (ef *File) SetMonitorExisting(value bool) {
	ef.monitorExisting = value
}

// ParseFileHeader parses the file header and modifies the Header of the
// current structure
func (ef *File) ParseFileHeader() error {
	ef.Lock()
	defer ef.Unlock()

	GoToSeeker(ef.file, 0)
	if err := encoding.Unmarshal(ef.file, &ef.Header, Endianness); err != nil {
		return err
	}
	return ef.Header.Validate()
}

// FetchRawChunk fetches a Chunk (header only, no record offset walk)
// @offset : offset in the current file where to find the Chunk
func (ef *File) FetchRawChunk(offset int64) (Chunk, error) {
	ef.Lock()
	defer ef.Unlock()
	c := Chunk{Offset: offset}
	GoToSeeker(ef.file, offset)
	c.Data = make([]byte, ChunkHeaderSize)
	if _, err := ef.file.Read(c.Data); err != nil {
		return c, err
	}
	reader := bytes.NewReader(c.Data)
	if err := c.ParseChunkHeader(reader); err != nil {
		return c, err
	}
	return c, nil
}

// FetchChunk fetches a Chunk and walks its record offsets
// @offset : offset in the current file where to find the Chunk
func (ef *File) FetchChunk(offset int64) (Chunk, error) {
	ef.Lock()
	defer ef.Unlock()
	c := Chunk{Offset: offset}
	GoToSeeker(ef.file, offset)
	c.Data = make([]byte, ChunkSize)
	if _, err := ef.file.Read(c.Data); err != nil {
		return c, err
	}
	reader := bytes.NewReader(c.Data)
	if err := c.ParseChunkHeader(reader); err != nil {
		return c, err
	}
	if err := c.ParseRecordOffsets(); err != nil {
		return c, err
	}
	return c, nil
}

// Chunks returns a chan of all the Chunks found in the current file, ordered
// by their first record number
func (ef *File) Chunks() (cc chan Chunk) {
	ss := datastructs.NewSortedSlice(0, int(ef.Header.ChunkCount))
	cc = make(chan Chunk)
	go func() {
		defer close(cc)
		for i := uint16(0); i < ef.Header.ChunkCount; i++ {
			offsetChunk := int64(ef.Header.ChunkDataOffset) + int64(ChunkSize)*int64(i)
			chunk, err := ef.FetchRawChunk(offsetChunk)
			switch {
			case err != nil && err != io.EOF:
				log.Errorf("chunk @ 0x%08x: %s", offsetChunk, err)
			case err == nil:
				ss.Insert(chunk)
			}
		}
		// sorted slice has to be iterated backward
		for rc := range ss.ReversedIter() {
			cc <- rc.(Chunk)
		}
	}()
	return
}

// UnorderedChunks returns a chan of all the Chunks found in the current file
func (ef *File) UnorderedChunks() (cc chan Chunk) {
	cc = make(chan Chunk)
	go func() {
		defer close(cc)
		for i := uint16(0); i < ef.Header.ChunkCount; i++ {
			offsetChunk := int64(ef.Header.ChunkDataOffset) + int64(ChunkSize)*int64(i)
			chunk, err := ef.FetchRawChunk(offsetChunk)
			switch {
			case err != nil && err != io.EOF:
				log.Errorf("chunk @ 0x%08x: %s", offsetChunk, err)
			case err == nil:
				cc <- chunk
			}
		}
	}()
	return
}

// monitorChunks returns a chan of the new Chunks found in the file under
// monitoring created after the monitoring started
// @stop: a channel used to stop the monitoring if needed
// @sleep: sleep time between two file update checks
func (ef *File) monitorChunks(stop chan bool, sleep time.Duration) (cc chan Chunk) {
	cc = make(chan Chunk, 4)
	markedChunks := datastructs.NewSyncedSet()

	go func() {
		defer close(cc)
		firstLoopFlag := !ef.monitorExisting
		for {
			// Parse the file header again to get the updates in the file
			if err := ef.ParseFileHeader(); err != nil {
				log.Error(err)
				return
			}

			select {
			case <-stop:
				return
			default:
				// go through
			}

			curChunks := datastructs.NewSyncedSet()
			ss := datastructs.NewSortedSlice(0, int(ef.Header.ChunkCount))
			for i := uint16(0); i < ef.Header.ChunkCount; i++ {
				offsetChunk := int64(ef.Header.ChunkDataOffset) + int64(ChunkSize)*int64(i)
				chunk, err := ef.FetchRawChunk(offsetChunk)
				curChunks.Add(chunk.Header.FirstEventRecID, chunk.Header.LastEventRecID)
				// We take only the Chunks whose record identifiers have not been
				// treated yet
				if markedChunks.Contains(chunk.Header.FirstEventRecID) && markedChunks.Contains(chunk.Header.LastEventRecID) {
					continue
				}
				switch {
				case err != nil && err != io.EOF:
					log.Errorf("chunk @ 0x%08x: %s", offsetChunk, err)
				case err == nil:
					markedChunks.Add(chunk.Header.FirstEventRecID)
					markedChunks.Add(chunk.Header.LastEventRecID)
					if !firstLoopFlag {
						ss.Insert(chunk)
					}
				}
			}

			// Cleanup the useless cache entries
			markedChunks = datastructs.NewSyncedSet(markedChunks.Intersect(&curChunks))

			firstLoopFlag = false
			for rc := range ss.ReversedIter() {
				chunk, err := ef.FetchChunk(rc.(Chunk).Offset)
				switch {
				case err != nil && err != io.EOF:
					log.Errorf("chunk @ 0x%08x: %s", chunk.Offset, err)
				case err == nil:
					cc <- chunk
				}
			}

			if ef.Header.ChunkCount >= math.MaxUint16 {
				log.Info("Monitoring stopped: maximum chunk number reached")
				break
			}

			time.Sleep(sleep)
		}
	}()
	return
}

// Records returns a chan of the decode summaries of all the records found in
// the current file, in chunk order
func (ef *File) Records() (cri chan *RecordInfo) {
	cri = make(chan *RecordInfo, 1)
	go func() {
		defer close(cri)
		for c := range ef.Chunks() {
			cc, err := ef.FetchChunk(c.Offset)
			if err != nil && err != io.EOF {
				log.Errorf("chunk @ 0x%08x: %s", c.Offset, err)
				continue
			}
			for ri := range cc.Records(ef.Decoder) {
				cri <- ri
			}
		}
	}()
	return
}

// FastRecords returns a chan of the decode summaries of all the records found
// in the current file, decoding chunks with a bounded fanout of MaxJobs
func (ef *File) FastRecords() (cri chan *RecordInfo) {
	cri = make(chan *RecordInfo, 42)
	go func() {
		defer close(cri)
		chanQueue := make(chan (chan *RecordInfo), MaxJobs)
		go func() {
			defer close(chanQueue)
			for pc := range ef.Chunks() {
				cpc, err := ef.FetchChunk(pc.Offset)
				switch {
				case err != nil && err != io.EOF:
					log.Errorf("chunk @ 0x%08x: %s", pc.Offset, err)
				case err == nil:
					chanQueue <- cpc.Records(ef.Decoder)
				}
			}
		}()
		for rc := range chanQueue {
			for ri := range rc {
				cri <- ri
			}
		}
	}()
	return
}

// MonitorRecords returns a chan of the decode summaries of the records
// appearing in the file under monitoring
// @stop: a channel used to stop the monitoring if needed
func (ef *File) MonitorRecords(stop chan bool, sleep ...time.Duration) (cri chan *RecordInfo) {
	sleepTime := DefaultMonitorSleep
	if len(sleep) > 0 {
		sleepTime = sleep[0]
	}
	cri = make(chan *RecordInfo, 42)
	go func() {
		defer close(cri)
		chanQueue := make(chan (chan *RecordInfo), MaxJobs)
		go func() {
			defer close(chanQueue)
			// this chan ends only when a value is put into stop
			for pc := range ef.monitorChunks(stop, sleepTime) {
				cpc := pc
				chanQueue <- cpc.Records(ef.Decoder)
			}
		}()
		for rc := range chanQueue {
			for ri := range rc {
				cri <- ri
			}
		}
	}()
	return
}

// Close file
func (ef *File) Close() error {
	if f, ok := ef.file.(io.Closer); ok {
		return f.Close()
	}
	return nil
}
