package store

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ResultSet is a materialized query result. Column order follows the
// executed statement. An empty Rows slice means no matching data.
type ResultSet struct {
	Columns []string
	Rows    [][]any
}

func (r ResultSet) Len() int { return len(r.Rows) }

// Keys returns the row keys in column order. Repeated column names, as
// produced by joins selecting name twice, get a numeric suffix so that every
// key in a row is unique.
func (r ResultSet) Keys() []string {
	keys := make([]string, len(r.Columns))
	seen := make(map[string]int, len(r.Columns))
	for i, column := range r.Columns {
		seen[column]++
		key := column
		if n := seen[column]; n > 1 {
			key = fmt.Sprintf("%s_%d", column, n)
			for seen[key] > 0 {
				n++
				key = fmt.Sprintf("%s_%d", column, n)
			}
			seen[key]++
		}
		keys[i] = key
	}
	return keys
}

// Serialize renders the rows as a JSON array of objects whose keys keep
// column order. Every row carries every column, nulls included.
func (r ResultSet) Serialize() string {
	raw, _ := r.MarshalJSON()
	return string(raw)
}

func (r ResultSet) MarshalJSON() ([]byte, error) {
	keys := r.Keys()
	var buf bytes.Buffer
	buf.WriteByte('[')
	for rowIndex, row := range r.Rows {
		if rowIndex > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('{')
		for i, key := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeJSONValue(&buf, key)
			buf.WriteByte(':')
			var value any
			if i < len(row) {
				value = row[i]
			}
			writeJSONValue(&buf, value)
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func writeJSONValue(buf *bytes.Buffer, value any) {
	encoded, err := json.Marshal(value)
	if err != nil {
		encoded, _ = json.Marshal(fmt.Sprint(value))
	}
	buf.Write(encoded)
}
