// Package accumulator collects normalized records per tile during a run.
//
// Every touched tile has a spill file holding one record per line. Records are
// appended as they arrive, so memory use is bounded by the number of open spill
// handles rather than by the size of the run.
package accumulator

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/wegman-software/speedtiles-go/internal/feature"
	"github.com/wegman-software/speedtiles-go/internal/logger"
	"github.com/wegman-software/speedtiles-go/internal/tile"
)

// DefaultMaxOpenFiles bounds the spill handles kept open at once
const DefaultMaxOpenFiles = 256

// TileWriter receives sealed tile documents
type TileWriter interface {
	WriteTile(ctx context.Context, doc *feature.Document) error
}

// Options configures an accumulator
type Options struct {
	Zoom         int
	SpillDir     string // parent for the run's spill directory, os.TempDir() when empty
	MaxOpenFiles int
}

// Accumulator maps tile keys to their pending feature sequences
type Accumulator struct {
	mu       sync.Mutex
	zoom     int
	dir      string
	handles  *lru.Cache[tile.Key, *os.File]
	counts   map[tile.Key]int
	closed   bool
	evictErr error
}

// New creates an accumulator with a fresh spill directory
func New(opts Options) (*Accumulator, error) {
	if opts.MaxOpenFiles <= 0 {
		opts.MaxOpenFiles = DefaultMaxOpenFiles
	}

	dir, err := os.MkdirTemp(opts.SpillDir, "speedtiles-spill-")
	if err != nil {
		return nil, fmt.Errorf("failed to create spill directory: %w", err)
	}

	a := &Accumulator{
		zoom:   opts.Zoom,
		dir:    dir,
		counts: make(map[tile.Key]int),
	}

	handles, err := lru.NewWithEvict[tile.Key, *os.File](opts.MaxOpenFiles, func(k tile.Key, f *os.File) {
		if err := f.Close(); err != nil && a.evictErr == nil {
			a.evictErr = fmt.Errorf("failed to close spill file for %s: %w", k, err)
		}
	})
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	a.handles = handles

	return a, nil
}

// Zoom returns the zoom level records are assigned at
func (a *Accumulator) Zoom() int {
	return a.zoom
}

// Add appends rec to every tile one of its vertices falls in.
// Vertices outside the Mercator tile grid are ignored. It returns the
// touched keys.
func (a *Accumulator) Add(rec *feature.Record) ([]tile.Key, error) {
	keys := tile.Touched(rec.Geometry, a.zoom)
	valid := keys[:0]
	for _, k := range keys {
		if k.Valid() {
			valid = append(valid, k)
		}
	}
	keys = valid
	if len(keys) == 0 {
		return nil, nil
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	line = append(line, '\n')

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, k := range keys {
		if err := a.appendLocked(k, line); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

// Append adds rec to a single tile regardless of its geometry.
// Callers ensure rec has a vertex inside k.
func (a *Accumulator) Append(k tile.Key, rec *feature.Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	line = append(line, '\n')

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.appendLocked(k, line)
}

// Touch registers a tile with no features, so it is sealed as an empty document
func (a *Accumulator) Touch(k tile.Key) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.counts[k]; !ok {
		a.counts[k] = 0
	}
}

func (a *Accumulator) appendLocked(k tile.Key, line []byte) error {
	if a.closed {
		return fmt.Errorf("accumulator closed")
	}

	f, ok := a.handles.Get(k)
	if !ok {
		var err error
		f, err = os.OpenFile(a.spillPath(k), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to open spill file for %s: %w", k, err)
		}
		a.handles.Add(k, f)
	}

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("failed to append to spill file for %s: %w", k, err)
	}
	a.counts[k]++
	return nil
}

func (a *Accumulator) spillPath(k tile.Key) string {
	return filepath.Join(a.dir, fmt.Sprintf("%d_%d_%d.ndjson", k.Z, k.X, k.Y))
}

// Count returns the number of touched tiles
func (a *Accumulator) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.counts)
}

// FeatureCount returns the number of pending features for a tile
func (a *Accumulator) FeatureCount(k tile.Key) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counts[k]
}

// Keys returns all touched tiles in (z, x, y) order
func (a *Accumulator) Keys() []tile.Key {
	a.mu.Lock()
	defer a.mu.Unlock()

	keys := make([]tile.Key, 0, len(a.counts))
	for k := range a.counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// FinalizeOptions controls how documents are sealed
type FinalizeOptions struct {
	At       time.Time
	WithBBox bool
}

// FinalizeStats reports what Finalize wrote
type FinalizeStats struct {
	Tiles    int
	Features int
}

// Finalize seals every touched tile into a document and hands it to w.
// Finalize does not stop on context cancellation: accumulated tiles are
// always written so a cancelled run still leaves complete documents.
func (a *Accumulator) Finalize(ctx context.Context, w TileWriter, opts FinalizeOptions) (FinalizeStats, error) {
	log := logger.Get()

	a.mu.Lock()
	a.handles.Purge()
	evictErr := a.evictErr
	a.mu.Unlock()
	if evictErr != nil {
		return FinalizeStats{}, evictErr
	}

	if opts.At.IsZero() {
		opts.At = time.Now()
	}

	var stats FinalizeStats
	for _, k := range a.Keys() {
		doc := feature.NewDocument(k, opts.WithBBox, opts.At)
		if err := a.load(k, doc); err != nil {
			return stats, err
		}
		if err := w.WriteTile(ctx, doc); err != nil {
			return stats, fmt.Errorf("failed to write tile %s: %w", k, err)
		}
		stats.Tiles++
		stats.Features += len(doc.Features)

		log.Debug("Sealed tile",
			zap.String("tile", k.String()),
			zap.Int("features", len(doc.Features)))
	}

	log.Info("Finalized tiles",
		zap.Int("tiles", stats.Tiles),
		zap.Int("features", stats.Features))

	return stats, nil
}

// load reads a tile's spill file into doc in append order
func (a *Accumulator) load(k tile.Key, doc *feature.Document) error {
	f, err := os.Open(a.spillPath(k))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open spill file for %s: %w", k, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		rec := &feature.Record{}
		if err := json.Unmarshal(scanner.Bytes(), rec); err != nil {
			return fmt.Errorf("corrupt spill file for %s: %w", k, err)
		}
		doc.Features = append(doc.Features, rec)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read spill file for %s: %w", k, err)
	}
	return nil
}

// Close releases open handles and removes the spill directory
func (a *Accumulator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.handles.Purge()
	return os.RemoveAll(a.dir)
}
