/*
EVTX monitoring utility, it follows a live EVTX file and dumps the freshly
written event records as they get decoded.

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
	"compress/gzip"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"time"

	"github.com/0xrawsec/golang-utils/log"
	"github.com/forensicdev/golang-evtxrec/evtxrec"
)

const (
	// ExitSuccess RC
	ExitSuccess = 0
	// ExitFailure RC
	ExitFailure = 1
	Version     = "Evtxtail 1.0"
	Copyright   = "Evtxtail Copyright (C) 2019 forensicdev"
	License     = `License GPLv3: This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain
conditions;`
)

var (
	evtxfile        string
	version         bool
	statsFlag       bool
	debug           bool
	monitorExisting bool
	duration        DurationArg
	outFile         string
)

type DurationArg time.Duration

func (da *DurationArg) String() string {
	return time.Duration(*da).String()
}

func (da *DurationArg) Set(input string) error {
	tda, err := time.ParseDuration(input)
	if err == nil {
		*da = DurationArg(tda)
	}
	return err
}

func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

type Stats struct {
	sync.RWMutex
	Start          time.Time
	Stop           time.Time
	TimeLastRecord time.Time
	RecordCount    uint
	TokenCount     uint
}

func NewStats() (s Stats) {
	return
}

func (s *Stats) InitStart() {
	s.Start = time.Now()
}

func (s *Stats) Update(ri *evtxrec.RecordInfo) {
	s.Lock()
	defer s.Unlock()
	s.TimeLastRecord = time.Time(ri.CreationTime)
	s.RecordCount++
	s.TokenCount += uint(ri.TokenCount)
}

func (s *Stats) DisplayStats() {
	s.RLock()
	defer s.RUnlock()
	fmt.Fprintf(os.Stderr, "Start: %s ", FormatTime(s.Start))
	fmt.Fprintf(os.Stderr, "TimeLastRecord: %s ", FormatTime(s.TimeLastRecord))
	fmt.Fprintf(os.Stderr, "RecordCount: %d ", s.RecordCount)
	rps := float64(s.RecordCount) / time.Now().Sub(s.Start).Seconds()
	fmt.Fprintf(os.Stderr, "RPS: %.2f r/s\r", rps)
}

func (s *Stats) Summary() {
	s.RLock()
	defer s.RUnlock()
	s.Stop = time.Now()
	fmt.Printf("\n\n###### Summary #######\n\n")
	fmt.Printf("Start: %s\n", FormatTime(s.Start))
	fmt.Printf("Stop: %s\n", FormatTime(s.Stop))
	fmt.Printf("TimeLastRecord: %s\n", FormatTime(s.TimeLastRecord))
	fmt.Printf("Duration (stop - start): %s\n", s.Stop.Sub(s.Start))
	fmt.Printf("RecordCount: %d\n", s.RecordCount)
	fmt.Printf("TokenCount: %d\n", s.TokenCount)
	rps := float64(s.RecordCount) / s.Stop.Sub(s.Start).Seconds()
	fmt.Printf("Average RPS: %.2f r/s\n", rps)
}

func main() {
	var err error
	var ofile *os.File
	var writer *gzip.Writer

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] EVTX-FILE\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}

	flag.Var(&duration, "t", "Timeout for the monitoring")
	flag.BoolVar(&version, "V", version, "Show version information")
	flag.StringVar(&outFile, "w", outFile, "Write monitored records to output file")
	flag.BoolVar(&statsFlag, "s", statsFlag, "Outputs stats about records processed")
	flag.BoolVar(&debug, "d", debug, "Enable debug messages")
	flag.BoolVar(&monitorExisting, "e", monitorExisting, "Return also already existing records")

	flag.Parse()

	// set debug mode
	if debug {
		log.InitLogger(log.LDebug)
	}

	stats := NewStats()

	// Signal handler to catch interrupt
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, os.Kill)
	go func() {
		<-c
		if writer != nil {
			writer.Flush()
			writer.Close()
			ofile.Close()
		}
		if statsFlag {
			stats.Summary()
		}
		os.Exit(ExitFailure)
	}()

	// version
	if version {
		fmt.Fprintf(os.Stderr, "%s\n%s\n%s\n", Version, Copyright, License)
		return
	}

	evtxfile = flag.Arg(0)
	if outFile != "" {
		ofile, err = os.Create(outFile)
		if err != nil {
			log.LogErrorAndExit(err)
		}
		writer = gzip.NewWriter(ofile)

		defer writer.Flush()
		defer writer.Close()
		defer ofile.Close()
	}

	if evtxfile == "" {
		flag.Usage()
		os.Exit(ExitFailure)
	}

	stop := make(chan bool, 1)
	ef, err := evtxrec.Open(evtxfile)
	if err != nil {
		log.LogErrorAndExit(err)
	}

	if statsFlag {
		go func() {
			for {
				time.Sleep(100 * time.Millisecond)
				stats.DisplayStats()
			}
		}()
	}

	if duration > 0 {
		go func() {
			start := time.Now()
			for time.Now().Sub(start) < time.Duration(duration) {
				time.Sleep(time.Millisecond * 500)
			}
			if statsFlag {
				stats.Summary()
			}
			os.Exit(ExitSuccess)
		}()
	}

	stats.InitStart()
	if monitorExisting {
		ef.SetMonitorExisting(true)
	}
	for ri := range ef.MonitorRecords(stop) {
		if outFile != "" {
			writer.Write(evtxrec.ToJSON(ri))
			writer.Write([]byte("\n"))
			writer.Flush()
		}
		if statsFlag {
			stats.Update(ri)
		} else {
			log.Infof("RecordID: %d Time: %s Tokens: %d ChunkCount: %d", ri.RecordID, FormatTime(time.Time(ri.CreationTime)), ri.TokenCount, ef.Header.ChunkCount)
		}
	}
}
