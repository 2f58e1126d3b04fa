package output

import (
	"encoding/json"
	"fmt"
	"net"

	"github.com/forensicdev/golang-evtxrec/evtxrec"
)

type TcpJSON struct {
	out *json.Encoder
	Tag string
}

func (tj *TcpJSON) Open(url string) error {
	conn, err := net.Dial("tcp", url)
	if err != nil {
		return fmt.Errorf("can't connect to remote tcp log server %s: %w", url, err)
	}
	tj.out = json.NewEncoder(conn)
	return nil
}

func (tj *TcpJSON) Request(info *evtxrec.RecordInfo) {
	tj.out.Encode(envelope{Tags: tj.Tag, Record: info})
}
