package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/wegman-software/speedtiles-go/internal/feature"
	"github.com/wegman-software/speedtiles-go/internal/tile"
)

// Directory writes one file per tile at {root}/tiles/{z}/{x}/{y}.json
type Directory struct {
	root   string
	format Format
}

// NewDirectory creates a directory sink rooted at root
func NewDirectory(root string, format Format) (*Directory, error) {
	if format == "" {
		format = FormatJSON
	}
	if err := os.MkdirAll(filepath.Join(root, "tiles"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &Directory{root: root, format: format}, nil
}

// Path returns the file a tile is written to
func (d *Directory) Path(k tile.Key) string {
	return filepath.Join(d.root, "tiles",
		strconv.Itoa(k.Z), strconv.Itoa(k.X), strconv.Itoa(k.Y)+".json")
}

// WriteTile replaces the tile's file atomically
func (d *Directory) WriteTile(_ context.Context, doc *feature.Document) error {
	var body interface{} = doc
	if d.format == FormatGeoJSON {
		body = doc.FeatureCollection()
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode tile: %w", err)
	}

	path := d.Path(doc.Key())
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create tile directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tile-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to set tile permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write tile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write tile: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace tile: %w", err)
	}
	return nil
}

// Close is a no-op; every tile is complete once WriteTile returns
func (d *Directory) Close() error {
	return nil
}
