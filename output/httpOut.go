package output

import (
	"bytes"
	"net/http"

	"github.com/0xrawsec/golang-utils/log"
	"github.com/forensicdev/golang-evtxrec/evtxrec"
)

type HttpJSON struct {
	client *http.Client
	Url    string
	Tag    string
}

func (hj *HttpJSON) Open(url string) error {
	hj.client = &http.Client{}
	return nil
}

func (hj *HttpJSON) Request(info *evtxrec.RecordInfo) {
	body := evtxrec.ToJSON(envelope{Tags: hj.Tag, Record: info})
	req, err := http.NewRequest("POST", hj.Url, bytes.NewBuffer(body))
	if err != nil {
		log.Error(err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := hj.client.Do(req)
	if err != nil {
		log.Errorf("Can't connect to remote http log server: %s", hj.Url)
		return
	}
	defer resp.Body.Close()
}
