package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	"github.com/wegman-software/speedtiles-go/internal/feature"
	"github.com/wegman-software/speedtiles-go/internal/wkb"
)

// DefaultBatchSize is the number of rows buffered per parquet record batch
const DefaultBatchSize = 10000

// ParquetSchema has one row per (tile, feature). A tile without features is
// a single row whose feature columns are null.
var ParquetSchema = arrow.NewSchema([]arrow.Field{
	{Name: "z", Type: arrow.PrimitiveTypes.Int32, Nullable: false},
	{Name: "x", Type: arrow.PrimitiveTypes.Int32, Nullable: false},
	{Name: "y", Type: arrow.PrimitiveTypes.Int32, Nullable: false},
	{Name: "fetched_at", Type: &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}, Nullable: false},
	{Name: "feature_index", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
	{Name: "id", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "highway", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "maxspeed", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "speed_mph", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
	{Name: "geom_wkb", Type: arrow.BinaryTypes.Binary, Nullable: true},
}, nil)

// Parquet writes tiles as rows of a single zstd-compressed parquet file.
// Each tile must be written once per run; the file is not rewritten.
type Parquet struct {
	file      *os.File
	writer    *pqarrow.FileWriter
	builder   *array.RecordBuilder
	encoder   *wkb.Encoder
	batchSize int
	count     int
}

// NewParquet creates a parquet sink writing to path
func NewParquet(path string, batchSize int) (*Parquet, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet file: %w", err)
	}

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Zstd),
		parquet.WithDictionaryDefault(false),
	)

	writer, err := pqarrow.NewFileWriter(ParquetSchema, f, writerProps, pqarrow.DefaultWriterProps())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	return &Parquet{
		file:      f,
		writer:    writer,
		builder:   array.NewRecordBuilder(memory.DefaultAllocator, ParquetSchema),
		encoder:   wkb.NewEncoder(256),
		batchSize: batchSize,
	}, nil
}

// WriteTile appends the tile's rows
func (p *Parquet) WriteTile(_ context.Context, doc *feature.Document) error {
	if len(doc.Features) == 0 {
		p.appendTile(doc)
		for i := 4; i < len(ParquetSchema.Fields()); i++ {
			p.builder.Field(i).AppendNull()
		}
		return p.advance()
	}

	for i, rec := range doc.Features {
		p.appendTile(doc)
		p.builder.Field(4).(*array.Int32Builder).Append(int32(i))
		appendString(p.builder.Field(5).(*array.StringBuilder), rawString(rec.ID))
		appendString(p.builder.Field(6).(*array.StringBuilder), rec.Highway)
		appendString(p.builder.Field(7).(*array.StringBuilder), rec.Maxspeed)
		if rec.SpeedMph != nil {
			p.builder.Field(8).(*array.Int32Builder).Append(int32(*rec.SpeedMph))
		} else {
			p.builder.Field(8).AppendNull()
		}
		p.builder.Field(9).(*array.BinaryBuilder).Append(p.encoder.Geometry(rec.Geometry))

		if err := p.advance(); err != nil {
			return err
		}
	}
	return nil
}

func (p *Parquet) appendTile(doc *feature.Document) {
	p.builder.Field(0).(*array.Int32Builder).Append(int32(doc.Z))
	p.builder.Field(1).(*array.Int32Builder).Append(int32(doc.X))
	p.builder.Field(2).(*array.Int32Builder).Append(int32(doc.Y))
	p.builder.Field(3).(*array.TimestampBuilder).Append(arrow.Timestamp(doc.FetchedAt.UnixMicro()))
}

func (p *Parquet) advance() error {
	p.count++
	if p.count >= p.batchSize {
		return p.flush()
	}
	return nil
}

func (p *Parquet) flush() error {
	if p.count == 0 {
		return nil
	}
	rec := p.builder.NewRecord()
	defer rec.Release()
	err := p.writer.Write(rec)
	p.count = 0
	if err != nil {
		return fmt.Errorf("failed to write parquet batch: %w", err)
	}
	return nil
}

// Close flushes pending rows and closes the file
func (p *Parquet) Close() error {
	defer p.builder.Release()
	if err := p.flush(); err != nil {
		p.writer.Close()
		return err
	}
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}
	if err := p.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}

// rawString renders a JSON identifier as text: strings unquoted, numbers as written
func rawString(raw []byte) *string {
	if raw == nil {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		s = string(raw)
	}
	return &s
}

func appendString(b *array.StringBuilder, s *string) {
	if s == nil {
		b.AppendNull()
		return
	}
	b.Append(*s)
}
