package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// RecordErrors is a jsonb column of per-record failures.
type RecordErrors []RecordError

func (e *RecordErrors) Scan(src any) error {
	if src == nil {
		*e = nil
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("RecordErrors.Scan: expected []byte, got %T", src)
	}
	return json.Unmarshal(b, e)
}

func (e RecordErrors) Value() (driver.Value, error) {
	if e == nil {
		return json.Marshal([]RecordError{})
	}
	return json.Marshal(e)
}
