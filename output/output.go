package output

import "github.com/forensicdev/golang-evtxrec/evtxrec"

type Output interface {
	Open(url string) error
	Request(info *evtxrec.RecordInfo)
}

// envelope is the shape forwarded to every sink
type envelope struct {
	Tags   string              `json:"tags,omitempty"`
	Record *evtxrec.RecordInfo `json:"record"`
}
