package evtxrec

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

///////////////////////////// Utility Functions ////////////////////////////////

func ToJSON(data interface{}) []byte {
	b, err := json.Marshal(data)
	if err != nil {
		panic(err)
	}
	return b
}

func BackupSeeker(seeker io.Seeker) int64 {
	backup, err := seeker.Seek(0, io.SeekCurrent)
	if err != nil {
		panic(err)
	}
	return backup
}

func GoToSeeker(seeker io.Seeker, offset int64) {
	seeker.Seek(offset, io.SeekStart)
}

/////////////////////////////////// UTCTime ///////////////////////////////////

// UTCTime structure definition
type UTCTime time.Time

// MarshalJSON implements JSON serialization
func (u UTCTime) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("\"%s\"", time.Time(u).UTC().Format(time.RFC3339Nano))), nil
}

/////////////////////////////////// FileTime /////////////////////////////////

// FileTime is a Windows FILETIME timestamp, a count of 100ns ticks since
// 1601-01-01. It is carried around as the raw tick value, conversion to a
// calendar time is done on demand only.
type FileTime struct {
	Ticks uint64
}

// epoch difference between 1601-01-01 and 1970-01-01 in 100ns ticks
const unixEpochDelta = 11644473600 * 10000000

func (ft *FileTime) Convert() (sec int64, nsec int64) {
	unixTicks := int64(ft.Ticks) - unixEpochDelta
	sec = unixTicks / 10000000
	nsec = (unixTicks % 10000000) * 100
	return
}

func (ft *FileTime) Time() UTCTime {
	sec, nsec := ft.Convert()
	return UTCTime(time.Unix(sec, nsec))
}

func (ft FileTime) String() string {
	sec, nsec := ft.Convert()
	return time.Unix(sec, nsec).UTC().Format(time.RFC3339Nano)
}
