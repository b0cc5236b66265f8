// Package pbf converts OSM PBF extracts into the line-delimited GeoJSON
// stream read by the bulk extract strategy
package pbf

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"
	"go.uber.org/zap"

	"github.com/wegman-software/speedtiles-go/internal/logger"
	"github.com/wegman-software/speedtiles-go/internal/nodeindex"
)

// Stats holds conversion statistics
type Stats struct {
	Nodes          int64
	Ways           int64
	WaysEmitted    int64
	WaysUnresolved int64 // road ways with no resolvable node
	BytesRead      int64
}

// Options configures a Converter
type Options struct {
	Input     string
	IndexDir  string // directory for a memory-mapped node index; empty keeps nodes in memory
	MaxNodeID int64
	Workers   int
}

// Converter reads a PBF extract and writes one GeoJSON Feature per road way
type Converter struct {
	opts  Options
	stats Stats
}

// NewConverter creates a converter for opts.Input
func NewConverter(opts Options) *Converter {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	return &Converter{opts: opts}
}

// Convert streams features to w until the extract is exhausted or ctx is done.
// Nodes are indexed as they are read; sorted extracts list all nodes before
// the ways that reference them.
func (c *Converter) Convert(ctx context.Context, w io.Writer) (*Stats, error) {
	log := logger.Get()

	f, err := os.Open(c.opts.Input)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if info, err := f.Stat(); err == nil {
		c.stats.BytesRead = info.Size()
	}

	idx, err := c.openIndex()
	if err != nil {
		return nil, err
	}
	defer idx.Close()

	var nodes, ways, emitted atomic.Int64
	tickCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-tickCtx.Done():
				return
			case <-ticker.C:
				log.Debug("PBF conversion progress",
					zap.Int64("nodes", nodes.Load()),
					zap.Int64("ways", ways.Load()),
					zap.Int64("emitted", emitted.Load()))
			}
		}
	}()

	bw := bufio.NewWriterSize(w, 1<<20)
	scanner := osmpbf.New(ctx, f, c.opts.Workers)
	scanner.SkipRelations = true
	defer scanner.Close()

	start := time.Now()
	for scanner.Scan() {
		switch o := scanner.Object().(type) {
		case *osm.Node:
			idx.Put(int64(o.ID), o.Lat, o.Lon)
			nodes.Add(1)
		case *osm.Way:
			ways.Add(1)
			if !IsRoad(o.Tags) {
				continue
			}
			feat := WayFeature(o, idx)
			if feat == nil {
				c.stats.WaysUnresolved++
				continue
			}
			line, err := json.Marshal(feat)
			if err != nil {
				return nil, fmt.Errorf("failed to encode way %d: %w", o.ID, err)
			}
			line = append(line, '\n')
			if _, err := bw.Write(line); err != nil {
				return nil, fmt.Errorf("failed to write feature: %w", err)
			}
			emitted.Add(1)
		}
	}

	if err := scanner.Err(); err != nil && err != io.EOF {
		return nil, err
	}
	if err := bw.Flush(); err != nil {
		return nil, fmt.Errorf("failed to write feature: %w", err)
	}

	c.stats.Nodes = nodes.Load()
	c.stats.Ways = ways.Load()
	c.stats.WaysEmitted = emitted.Load()

	log.Info("PBF conversion complete",
		zap.Int64("nodes", c.stats.Nodes),
		zap.Int64("ways", c.stats.Ways),
		zap.Int64("emitted", c.stats.WaysEmitted),
		zap.Int64("unresolved", c.stats.WaysUnresolved),
		zap.Duration("duration", time.Since(start).Round(time.Second)))

	return &c.stats, nil
}

func (c *Converter) openIndex() (nodeindex.Index, error) {
	if c.opts.IndexDir == "" {
		return nodeindex.NewMemIndex(), nil
	}
	if err := os.MkdirAll(c.opts.IndexDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	return nodeindex.NewMmapIndex(filepath.Join(c.opts.IndexDir, "node_index.bin"), c.opts.MaxNodeID)
}

// IsRoad reports whether a way carries a highway or maxspeed tag
func IsRoad(tags osm.Tags) bool {
	return tags.Find("highway") != "" || tags.Find("maxspeed") != ""
}

// WayFeature builds the feature for a way. Nodes missing from the index are
// dropped; nil is returned when none resolve.
func WayFeature(way *osm.Way, idx nodeindex.Index) *geojson.Feature {
	ls := make(orb.LineString, 0, len(way.Nodes))
	for _, n := range way.Nodes {
		lat, lon, ok := idx.Get(int64(n.ID))
		if !ok {
			continue
		}
		ls = append(ls, orb.Point{lon, lat})
	}
	if len(ls) == 0 {
		return nil
	}

	feat := geojson.NewFeature(ls)
	feat.ID = int64(way.ID)
	for _, t := range way.Tags {
		feat.Properties[t.Key] = t.Value
	}
	feat.Properties["@id"] = fmt.Sprintf("way/%d", way.ID)
	return feat
}
