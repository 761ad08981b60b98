package audit

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"
)

// Record is one archived pipeline run. Column names are stable; archived
// batches are read back by external tooling.
type Record struct {
	TraceID          string `parquet:"trace_id"`
	Principal        string `parquet:"principal"`
	Flow             string `parquet:"flow"`
	Question         string `parquet:"question"`
	SQL              string `parquet:"sql"`
	Outcome          string `parquet:"outcome"`
	Stage            string `parquet:"stage"`
	Message          string `parquet:"message"`
	Rows             int64  `parquet:"rows"`
	Degraded         bool   `parquet:"degraded"`
	DurationMs       int64  `parquet:"duration_ms"`
	RecordedAtUnixMs int64  `parquet:"recorded_at_unix_ms"`
}

func EncodeRecords(records []Record) ([]byte, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("records are required")
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[Record](buf)
	if _, err := writer.Write(records); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

func DecodeRecords(data []byte) ([]Record, error) {
	reader := parquet.NewGenericReader[Record](bytes.NewReader(data))
	defer func() { _ = reader.Close() }()

	records := make([]Record, reader.NumRows())
	count, err := reader.Read(records)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read parquet rows: %w", err)
	}
	return records[:count], nil
}
