// Package sink writes sealed tile documents to their output target
package sink

import (
	"context"
	"fmt"
	"strings"

	"github.com/wegman-software/speedtiles-go/internal/feature"
)

// Sink is the output target of a run. A later write for the same key
// replaces the earlier document.
type Sink interface {
	WriteTile(ctx context.Context, doc *feature.Document) error
	Close() error
}

// Format selects the document encoding of the directory sink
type Format string

const (
	FormatJSON    Format = "json"
	FormatGeoJSON Format = "geojson"
)

// ParseFormat validates a format name
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatJSON, FormatGeoJSON:
		return f, nil
	}
	return "", fmt.Errorf("unknown output format %q (want json or geojson)", s)
}

// Kind identifies a sink implementation
type Kind string

const (
	KindDirectory Kind = "directory"
	KindPostgres  Kind = "postgres"
	KindParquet   Kind = "parquet"
)

// KindOf infers the sink kind from an output location
func KindOf(output string) Kind {
	lower := strings.ToLower(output)
	switch {
	case lower == "postgres", strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return KindPostgres
	case strings.HasSuffix(lower, ".parquet"):
		return KindParquet
	}
	return KindDirectory
}

// Options configures Open
type Options struct {
	Output      string
	Format      Format
	DatabaseURL string // used when Output is "postgres"
	Table       string
	BatchSize   int
}

// Open creates the sink for an output location
func Open(ctx context.Context, opts Options) (Sink, error) {
	switch KindOf(opts.Output) {
	case KindPostgres:
		url := opts.DatabaseURL
		if opts.Output != "postgres" {
			url = opts.Output
		}
		if url == "" {
			return nil, fmt.Errorf("postgres output requires a database URL")
		}
		return NewPostgres(ctx, url, opts.Table)
	case KindParquet:
		return NewParquet(opts.Output, opts.BatchSize)
	default:
		return NewDirectory(opts.Output, opts.Format)
	}
}
