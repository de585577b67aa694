package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
)

// Record is one stored object: field names to scalar values, plus the
// store-assigned id under FieldID.
type Record map[string]any

// ID returns the record's identifier, or 0 if it has none.
func (r Record) ID() int64 {
	id, _ := r[FieldID].(int64)
	return id
}

// Filename returns the attached file's base name, if any.
func (r Record) Filename() string {
	s, _ := r[FieldFilename].(string)
	return s
}

// FileID returns the blob reference, or "" for a metadata record.
func (r Record) FileID() string {
	s, _ := r[FieldFileID].(string)
	return s
}

// IsFile reports whether the record has an attached blob.
func (r Record) IsFile() bool { return r.FileID() != "" }

// Clone returns a shallow copy.
func (r Record) Clone() Record {
	return maps.Clone(r)
}

// Fields returns a copy without the id.
func (r Record) Fields() Record {
	out := r.Clone()
	if out == nil {
		out = Record{}
	}
	delete(out, FieldID)
	return out
}

// IsReserved reports whether key is managed by the store rather than the user.
func IsReserved(key string) bool {
	switch key {
	case FieldID, FieldFilename, FieldFileID, FieldFileHash:
		return true
	}
	return false
}

// encodeFields serializes a record's fields for the objects table. The id is
// never part of the stored document.
func encodeFields(fields Record) (string, error) {
	data, err := json.Marshal(fields.Fields())
	if err != nil {
		return "", fmt.Errorf("encode fields: %w", err)
	}
	return string(data), nil
}

// decodeFields parses a stored document and injects the id.
func decodeFields(id int64, doc string) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(doc)))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode record %d: %w", id, err)
	}
	rec := make(Record, len(raw)+1)
	for k, v := range raw {
		rec[k] = normalize(v)
	}
	rec[FieldID] = id
	return rec, nil
}

// normalize turns JSON numbers into int64 when integral, float64 otherwise.
func normalize(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		for k, e := range t {
			t[k] = normalize(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = normalize(e)
		}
		return t
	default:
		return v
	}
}

// Normalize round-trips fields through the stored representation, so callers
// can compare user input against what the store would return.
func Normalize(fields Record) (Record, error) {
	doc, err := encodeFields(fields)
	if err != nil {
		return nil, err
	}
	rec, err := decodeFields(0, doc)
	if err != nil {
		return nil, err
	}
	delete(rec, FieldID)
	return rec, nil
}
