package output

import (
	"context"
	"time"

	"github.com/0xrawsec/golang-utils/log"
	"github.com/forensicdev/golang-evtxrec/evtxrec"
	"github.com/olivere/elastic/v7"
)

type Elastic struct {
	EsClient  *elastic.Client
	IndexName string
	EsUrl     string
}

func (e *Elastic) Open(url string) (err error) {
	e.EsClient, err = elastic.NewClient(
		elastic.SetURL(e.EsUrl),
		elastic.SetSniff(false),
		elastic.SetHealthcheckInterval(10*time.Second),
		elastic.SetGzip(true),
	)
	return err
}

func (e *Elastic) Request(info *evtxrec.RecordInfo) {
	put, err := e.EsClient.Index().
		Index(e.IndexName).
		BodyJson(string(evtxrec.ToJSON(envelope{Record: info}))).
		Do(context.Background())
	if err != nil {
		log.Errorf("Can't connect to remote elastic log server: %s", e.EsUrl)
		return
	}
	log.Infof("Indexed record %d as %s in index %s", info.RecordID, put.Id, put.Index)
}
