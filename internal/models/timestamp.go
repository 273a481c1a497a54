package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// TimestampLayout - фиксированная ширина, всегда UTC: строковое сравнение в SQL
// совпадает с хронологическим.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Timestamp хранится в БД как ISO-8601 строка
type Timestamp struct {
	time.Time
}

func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC().Truncate(time.Millisecond)}
}

func NewTimestampPtr(t time.Time) *Timestamp {
	ts := NewTimestamp(t)
	return &ts
}

func (t Timestamp) String() string {
	return t.UTC().Format(TimestampLayout)
}

func (t Timestamp) Value() (driver.Value, error) {
	return t.String(), nil
}

func (t *Timestamp) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	case time.Time:
		t.Time = v.UTC()
		return nil
	default:
		return fmt.Errorf("timestamp: unsupported type %T", value)
	}
}

func (t *Timestamp) parse(s string) error {
	parsed, err := time.Parse(TimestampLayout, s)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("timestamp: %w", err)
		}
	}
	t.Time = parsed.UTC()
	return nil
}
