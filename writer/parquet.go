// Package writer persists enriched events and the per-run sequence dataset
// as parquet, locally and optionally on S3.
package writer

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"
)

// memoryFile is a source.ParquetFile that keeps the encoded file in memory
// so the same bytes can go to disk and to S3.
type memoryFile struct {
	buffer *bytes.Buffer
}

func newMemoryFile() *memoryFile {
	return &memoryFile{buffer: &bytes.Buffer{}}
}

func (m *memoryFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memoryFile) Open(string) (source.ParquetFile, error)   { return m, nil }

// Seek reports the current size. The parquet writer only appends.
func (m *memoryFile) Seek(int64, int) (int64, error) {
	return int64(m.buffer.Len()), nil
}

func (m *memoryFile) Read(b []byte) (int, error)  { return m.buffer.Read(b) }
func (m *memoryFile) Write(b []byte) (int, error) { return m.buffer.Write(b) }
func (m *memoryFile) Close() error                { return nil }
func (m *memoryFile) Bytes() []byte               { return m.buffer.Bytes() }

// compressionCodec maps the configured compression name to a codec.
// Unknown names write uncompressed.
func compressionCodec(name string) parquet.CompressionCodec {
	switch strings.ToLower(name) {
	case "snappy":
		return parquet.CompressionCodec_SNAPPY
	case "gzip":
		return parquet.CompressionCodec_GZIP
	case "zstd":
		return parquet.CompressionCodec_ZSTD
	default:
		return parquet.CompressionCodec_UNCOMPRESSED
	}
}

// writeRows writes rows through a parquet writer built on pf using the
// schema of T.
func writeRows[T any](pf source.ParquetFile, rows []T, compression string) error {
	pw, err := writer.NewParquetWriter(pf, new(T), 4)
	if err != nil {
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = compressionCodec(compression)
	for i := range rows {
		if err := pw.Write(rows[i]); err != nil {
			pw.WriteStop()
			return fmt.Errorf("failed to write parquet record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("failed to finalize parquet writing: %w", err)
	}
	return nil
}

// encodeRows returns rows as an in-memory parquet file.
func encodeRows[T any](rows []T, compression string) ([]byte, error) {
	mf := newMemoryFile()
	if err := writeRows(mf, rows, compression); err != nil {
		return nil, err
	}
	return mf.Bytes(), nil
}
