// Package export writes collected events to Parquet files for offline
// analysis.
package export

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/SebastienMelki/pixel/internal/store"
)

// Sentinel errors for the export package.
var (
	ErrNoRows       = errors.New("export: no rows to write")
	ErrUnknownCodec = errors.New("export: unknown compression codec")
)

// Config holds Parquet writer configuration.
type Config struct {
	// Compression is the codec: snappy, gzip, zstd or none (default: snappy)
	Compression string `env:"PARQUET_COMPRESSION" envDefault:"snappy"`

	// RowGroupSize is the maximum number of rows per row group (default: 10000)
	RowGroupSize int64 `env:"PARQUET_ROW_GROUP_SIZE" envDefault:"10000"`
}

// Row is the flattened Parquet schema of one collected event. The partition
// columns come from the event's creation time.
type Row struct {
	Seq          int64  `parquet:"seq"`
	EventID      string `parquet:"event_id,snappy"`
	ClientID     string `parquet:"client_id,snappy,dict"`
	VisitorID    string `parquet:"visitor_id,snappy"`
	AlterationID string `parquet:"alteration_id,snappy,dict,optional"`
	Name         string `parquet:"name,snappy,dict"`
	PayloadJSON  string `parquet:"payload_json,snappy"`
	CreatedAtMS  int64  `parquet:"created_at_ms"`
	ReceivedAtMS int64  `parquet:"received_at_ms"`

	Year  int `parquet:"year,dict"`
	Month int `parquet:"month,dict"`
	Day   int `parquet:"day,dict"`
	Hour  int `parquet:"hour,dict"`
}

// RowFromStore flattens a stored event.
func RowFromStore(r store.Row) Row {
	created := r.CreatedAt.UTC()
	return Row{
		Seq:          r.Seq,
		EventID:      r.EventID,
		ClientID:     r.ClientID,
		VisitorID:    r.VisitorID,
		AlterationID: r.AlterationID,
		Name:         r.Name,
		PayloadJSON:  r.PayloadJSON,
		CreatedAtMS:  created.UnixMilli(),
		ReceivedAtMS: r.ReceivedAt.UnixMilli(),
		Year:         created.Year(),
		Month:        int(created.Month()),
		Day:          created.Day(),
		Hour:         created.Hour(),
	}
}

// Writer encodes stored events as Parquet.
type Writer struct {
	codec        compress.Codec
	rowGroupSize int64
}

// NewWriter validates cfg and returns a writer.
func NewWriter(cfg Config) (*Writer, error) {
	codec, err := codecFor(cfg.Compression)
	if err != nil {
		return nil, err
	}
	return &Writer{codec: codec, rowGroupSize: cfg.RowGroupSize}, nil
}

func codecFor(name string) (compress.Codec, error) {
	switch name {
	case "", "snappy":
		return &parquet.Snappy, nil
	case "gzip":
		return &parquet.Gzip, nil
	case "zstd":
		return &parquet.Zstd, nil
	case "none":
		return &parquet.Uncompressed, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

// Write encodes rows to w.
func (w *Writer) Write(out io.Writer, rows []store.Row) error {
	if len(rows) == 0 {
		return ErrNoRows
	}

	flat := make([]Row, len(rows))
	for i, r := range rows {
		flat[i] = RowFromStore(r)
	}

	opts := []parquet.WriterOption{
		parquet.Compression(w.codec),
		parquet.CreatedBy("pixel-collector", "1.0.0", ""),
	}
	if w.rowGroupSize > 0 {
		opts = append(opts, parquet.MaxRowsPerRowGroup(w.rowGroupSize))
	}

	pw := parquet.NewGenericWriter[Row](out, opts...)
	if _, err := pw.Write(flat); err != nil {
		return fmt.Errorf("export: write rows: %w", err)
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("export: close writer: %w", err)
	}
	return nil
}

// Bytes encodes rows into an in-memory Parquet file.
func (w *Writer) Bytes(rows []store.Row) ([]byte, error) {
	var buf bytes.Buffer
	if err := w.Write(&buf, rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile encodes rows into the file at path, replacing it. The file is
// written next to path first so readers never see a partial file.
func (w *Writer) WriteFile(path string, rows []store.Row) error {
	data, err := w.Bytes(rows)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("export: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("export: rename to %s: %w", path, err)
	}
	return nil
}
