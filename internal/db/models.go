package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JSONB is a nullable JSON column: jsonb on Postgres, TEXT on SQLite.
type JSONB []byte

// MarshalJSONB encodes v for storage.
func MarshalJSONB(v interface{}) (JSONB, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return JSONB(b), nil
}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return string(j), nil
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append((*j)[:0], v...)
	case string:
		*j = JSONB(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
	return nil
}

// Decode unmarshals the column into v.
func (j JSONB) Decode(v interface{}) error {
	if len(j) == 0 {
		return fmt.Errorf("decode JSONB: column is null")
	}
	return json.Unmarshal(j, v)
}

// RunRecord is one research_runs row.
type RunRecord struct {
	ID        string    `db:"id"`
	Topic     string    `db:"topic"`
	Status    string    `db:"status"`
	Style     string    `db:"style"`
	Tone      string    `db:"tone"`
	Mode      string    `db:"mode"`
	Analysis  string    `db:"analysis"`
	Progress  float64   `db:"progress"`
	Message   string    `db:"message"`
	Report    JSONB     `db:"report"`
	Error     string    `db:"error"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// EventRecord is one research_events row.
type EventRecord struct {
	RunID     string    `db:"run_id"`
	Seq       int64     `db:"seq"`
	Type      string    `db:"type"`
	Progress  float64   `db:"progress"`
	Message   string    `db:"message"`
	CreatedAt time.Time `db:"created_at"`
}
