// Package kafka provides the streaming intake and event emission for the
// pipeline.
package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Londondannyboy/quest-sub003/pkg/models"
)

// IncomingMessage is a raw Kafka message plus its parsed intake record.
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Timestamp time.Time
	Topic     string

	Record *models.RawRecord
}

// ParseRecord decodes the message value into an intake record.
func (m *IncomingMessage) ParseRecord() error {
	var record models.RawRecord
	if err := json.Unmarshal(m.Value, &record); err != nil {
		return fmt.Errorf("%w: %v", models.ErrMalformedRecord, err)
	}
	if record.Kind == "" {
		return fmt.Errorf("%w: missing kind", models.ErrMalformedRecord)
	}
	if record.Payload == nil {
		return fmt.Errorf("%w: missing payload", models.ErrMalformedRecord)
	}
	if record.ScrapedAt.IsZero() {
		record.ScrapedAt = m.Timestamp
	}
	m.Record = &record
	return nil
}
