package storage

import (
	"time"
)

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ID returns the record's "id" field.
func (r Record) ID() string { return r.String("id") }

// String returns the field as a string, or "" when absent or not a string.
func (r Record) String(field string) string {
	s, _ := r[field].(string)
	return s
}

// Bool returns the field as a bool, or false when absent.
func (r Record) Bool(field string) bool {
	switch v := r[field].(type) {
	case bool:
		return v
	case int64:
		return v != 0
	case float64:
		return v != 0
	}
	return false
}

// Time decodes a time field. Adapters that round-trip through JSON or SQL
// hand back RFC 3339 strings or *time.Time, so all forms are accepted.
func (r Record) Time(field string) time.Time {
	switch v := r[field].(type) {
	case time.Time:
		return v
	case *time.Time:
		if v != nil {
			return *v
		}
	case string:
		for _, layout := range []string{time.RFC3339Nano, sqlTimeLayout} {
			if t, err := time.Parse(layout, v); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}

// sqlTimeLayout is how SQLite drivers write DATETIME text.
const sqlTimeLayout = "2006-01-02 15:04:05.999999999-07:00"

// Merge copies every field of data into a clone of r.
func (r Record) Merge(data Record) Record {
	out := r.Clone()
	if out == nil {
		out = Record{}
	}
	for k, v := range data {
		out[k] = v
	}
	return out
}
