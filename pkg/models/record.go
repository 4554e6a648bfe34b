package models

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Record is one JSON document returned by the API. Field values are whatever
// encoding/json produces with UseNumber, plus *Blob for pending uploads.
type Record map[string]any

// Principal is the authenticated administrator as returned by login and /profile.
type Principal = Record

// ID returns the record's "id" field, or nil when absent.
func (r Record) ID() any {
	if r == nil {
		return nil
	}
	return r["id"]
}

// String returns the named field when it holds a non-empty string.
func (r Record) String(field string) (string, bool) {
	v, ok := r[field].(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// Has reports whether field is present and not null.
func (r Record) Has(field string) bool {
	v, ok := r[field]
	return ok && v != nil
}

// Clone returns a shallow copy. Nested maps and slices are shared.
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

// BlobFields returns the names of fields holding a pending upload.
func (r Record) BlobFields() []string {
	var names []string
	for k, v := range r {
		if IsBlob(v) {
			names = append(names, k)
		}
	}
	return names
}

// HasBlob reports whether any field holds a pending upload.
func (r Record) HasBlob() bool {
	for _, v := range r {
		if IsBlob(v) {
			return true
		}
	}
	return false
}

// AsRecord converts a decoded JSON value into a Record when it is an object.
func AsRecord(v any) (Record, bool) {
	switch m := v.(type) {
	case Record:
		return m, true
	case map[string]any:
		return Record(m), true
	default:
		return nil, false
	}
}

// DecodeJSON decodes a JSON document keeping numbers as json.Number so ids
// keep their exact textual form.
func DecodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
