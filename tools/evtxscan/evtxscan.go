/*
EVTX record scanning utility, it validates and dumps the event records found
in EVTX files and can carve chunks out of raw data.

Copyright (C) 2019  forensicdev

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <http://www.gnu.org/licenses/>.
*/

package main

import (
	"bufio"
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"runtime/pprof"
	"sync"
	"time"

	"github.com/0xrawsec/golang-utils/args"
	"github.com/0xrawsec/golang-utils/log"
	"github.com/forensicdev/golang-evtxrec/evtxrec"
	"github.com/forensicdev/golang-evtxrec/output"
)

const (
	// ExitSuccess RC
	ExitSuccess = 0
	// ExitFail RC
	ExitFail  = 1
	Version   = "Evtxscan 1.0"
	Copyright = "Evtxscan Copyright (C) 2019 forensicdev"
	License   = `License GPLv3: This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain
conditions;`
)

var (
	debug         bool
	carve         bool
	timestamp     bool
	version       bool
	statflag      bool
	offset        int64
	limit         int
	tag           string
	outTcp        string
	outHttp       string
	outType       string
	brURL         string
	cID           string
	topic         string
	start, stop   args.DateVar
	chunkHeaderRE = regexp.MustCompile(evtxrec.ChunkMagic)
	defaultTime   = time.Time{}
)

//////////////////////////// stat structure ////////////////////////////////////

type stats struct {
	sync.RWMutex
	RecordCount uint
	TokenCount  uint
	Mismatches  uint
	FirstRecord uint64
	LastRecord  uint64
}

// stats constructor
func newStats() stats {
	return stats{FirstRecord: ^uint64(0)}
}

// update stats from a record summary
func (s *stats) update(ri *evtxrec.RecordInfo) {
	s.Lock()
	s.RecordCount++
	s.TokenCount += uint(ri.TokenCount)
	if !ri.SizesAgree {
		s.Mismatches++
	}
	if ri.RecordID < s.FirstRecord {
		s.FirstRecord = ri.RecordID
	}
	if ri.RecordID > s.LastRecord {
		s.LastRecord = ri.RecordID
	}
	s.Unlock()
}

// prints in CSV format
func (s *stats) print() {
	fmt.Printf("Records,Tokens,SizeMismatches,FirstRecordID,LastRecordID\n")
	fmt.Printf("%d,%d,%d,%d,%d\n", s.RecordCount, s.TokenCount, s.Mismatches, s.FirstRecord, s.LastRecord)
}

/////////////////////////////// Carving functions //////////////////////////////

// Find the potential chunks
func findChunksOffsets(r io.ReadSeeker) (co chan int64) {
	co = make(chan int64, 42)
	realPrevOffset := evtxrec.BackupSeeker(r)
	go func() {
		defer close(co)
		rr := bufio.NewReader(r)
		for loc := chunkHeaderRE.FindReaderIndex(rr); loc != nil; loc = chunkHeaderRE.FindReaderIndex(rr) {
			realOffset := evtxrec.BackupSeeker(r)
			co <- realPrevOffset + int64(loc[0])
			realPrevOffset = realOffset - int64(rr.Buffered())
		}
	}()
	return
}

// return an evtxrec.Chunk object from a reader
func fetchChunkFromReader(r io.ReadSeeker, offset int64) (evtxrec.Chunk, error) {
	c := evtxrec.Chunk{Offset: offset}
	evtxrec.GoToSeeker(r, offset)
	c.Data = make([]byte, evtxrec.ChunkSize)
	if _, err := r.Read(c.Data); err != nil {
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

// main routine to carve a file
func carveFile(datafile string, offset int64, limit int, handle func(*evtxrec.RecordInfo)) {
	chunkCnt := 0
	dec := &evtxrec.BinXMLDecoder{}
	f, err := os.Open(datafile)
	if err != nil {
		log.LogErrorAndExit(err)
	}
	defer f.Close()
	f.Seek(offset, io.SeekStart)
	dup, err := os.Open(datafile)
	if err != nil {
		log.LogErrorAndExit(err)
	}
	defer dup.Close()
	dup.Seek(offset, io.SeekStart)

	for offset := range findChunksOffsets(f) {
		log.Infof("Parsing Chunk @ Offset: %d (0x%08[1]x)", offset)
		chunk, err := fetchChunkFromReader(dup, offset)
		if err != nil {
			log.LogError(err)
		}
		for ri := range chunk.Records(dec) {
			handle(ri)
		}
		chunkCnt++

		if limit > 0 && chunkCnt >= limit {
			break
		}
	}
}

// small routine that prints a record summary
func printRecord(ri *evtxrec.RecordInfo) {
	if ri == nil {
		return
	}
	t := time.Time(ri.CreationTime)

	// If before start we do not print
	if time.Time(start) != defaultTime && t.Before(time.Time(start)) {
		return
	}
	// If after stop we do not print
	if time.Time(stop) != defaultTime && t.After(time.Time(stop)) {
		return
	}

	if timestamp {
		fmt.Printf("%d: %s\n", t.UnixNano(), string(evtxrec.ToJSON(ri)))
	} else {
		fmt.Printf("%s\n", string(evtxrec.ToJSON(ri)))
	}
}

///////////////////////////////// Main /////////////////////////////////////////

func main() {
	var memprofile, cpuprofile string
	flag.BoolVar(&debug, "d", debug, "Enable debug mode")
	flag.BoolVar(&carve, "c", carve, "Carve records from file")
	flag.BoolVar(&version, "V", version, "Show version and exit")
	flag.BoolVar(&timestamp, "t", timestamp, "Prints record timestamp (as int) at the beginning of line to make sorting easier")
	flag.BoolVar(&statflag, "s", statflag, "Prints stats about records in files")
	flag.Int64Var(&offset, "o", offset, "Offset to start from (carving mode only)")
	flag.IntVar(&limit, "l", limit, "Limit the number of chunks to parse (carving mode only)")
	flag.Var(&start, "start", "Print records starting from start")
	flag.Var(&stop, "stop", "Print records before stop")

	flag.StringVar(&memprofile, "memprofile", "", "write memory profile to this file")
	flag.StringVar(&cpuprofile, "cpuprofile", "", "write cpu profile to this file")

	flag.StringVar(&outType, "type", "", "Type of remote log collector. JSON-over-HTTP, JSON-over-TCP, Kafka, Elastic")
	flag.StringVar(&outHttp, "http", "", "url for sending output to remote site over HTTP")
	flag.StringVar(&outTcp, "tcp", "", "tcp socket address for sending output to remote site over TCP")
	flag.StringVar(&brURL, "brURL", "", "Kafka Broker URL")
	flag.StringVar(&topic, "topic", "", "Kafka topic")
	flag.StringVar(&cID, "cID", "", "Kafka client ID")
	flag.StringVar(&tag, "tag", "", "special tag for matching purpose on remote collector")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s: %[1]s [OPTIONS] FILES...\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}

	flag.Parse()

	// Debug mode
	if debug {
		log.InitLogger(log.LDebug)
	}

	// version
	if version {
		fmt.Fprintf(os.Stderr, "%s\n%s\n%s\n", Version, Copyright, License)
		return
	}

	// Handle profiling functions
	if memprofile != "" {
		defer func() {
			f, err := os.Create(memprofile)
			if err != nil {
				log.LogErrorAndExit(err)
			}
			pprof.WriteHeapProfile(f)
			f.Close()
		}()
	}

	if cpuprofile != "" {
		f, err := os.Create(cpuprofile)
		if err != nil {
			log.LogErrorAndExit(err)
		}
		err = pprof.StartCPUProfile(f)
		if err != nil {
			log.LogErrorAndExit(err)
		}
		defer func() {
			pprof.StopCPUProfile()
			f.Close()
		}()
	}

	// init stats in case needed
	s := newStats()

	// init remote sender if needed
	var out output.Output
	switch outType {
	case "http":
		httpOut := &output.HttpJSON{
			Url: outHttp,
			Tag: tag,
		}
		if err := httpOut.Open(outHttp); err != nil {
			log.Errorf("Can't init http conn: %s", err)
		}
		out = httpOut
	case "tcp":
		tcpOut := &output.TcpJSON{
			Tag: tag,
		}
		if err := tcpOut.Open(outTcp); err != nil {
			log.Errorf("Can't init tcp conn: %s", err)
		}
		out = tcpOut
	case "kafka":
		kafkaOut := &output.Kafka{
			BrokerURLs: brURL,
			Topic:      topic,
			ClientID:   cID,
			Tag:        tag,
		}
		if err := kafkaOut.Open(brURL); err != nil {
			log.Errorf("Can't init Kafka conn: %s", err)
		}
		out = kafkaOut
	}

	handle := func(ri *evtxrec.RecordInfo) {
		switch {
		case statflag:
			s.update(ri)
		case outType != "":
			out.Request(ri)
		default:
			printRecord(ri)
		}
	}

	for _, evtxFile := range flag.Args() {
		if !carve {
			// Regular EVTX file
			ef, err := evtxrec.Open(evtxFile)
			if err != nil {
				log.Error(err)
				continue
			}
			for ri := range ef.FastRecords() {
				handle(ri)
			}
		} else {
			evtxrec.SetModeCarving(true)
			// We have to carve the file
			carveFile(evtxFile, offset, limit, handle)
		}
	}

	// We print the stats if needed
	if statflag {
		s.print()
	}
}
