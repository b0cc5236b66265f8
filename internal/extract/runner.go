// Package extract runs the bulk strategy: it reads a line-delimited stream of
// GeoJSON features, normalizes each line and accumulates it into tiles.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/wegman-software/speedtiles-go/internal/accumulator"
	"github.com/wegman-software/speedtiles-go/internal/feature"
	"github.com/wegman-software/speedtiles-go/internal/logger"
	"github.com/wegman-software/speedtiles-go/internal/metrics"
	"github.com/wegman-software/speedtiles-go/internal/progress"
	"github.com/wegman-software/speedtiles-go/internal/tile"
)

const (
	// DefaultChunkSize is the read size used against the stream
	DefaultChunkSize = 64 * 1024

	defaultProgressEvery = 100_000
)

// Options configures a Runner
type Options struct {
	ChunkSize     int
	ProgressEvery int // log every N records; zero uses the default
}

// Runner feeds a record stream through the normalizer into the accumulator
type Runner struct {
	normalizer *feature.Normalizer
	simplifier *feature.Simplifier
	acc        *accumulator.Accumulator
	metrics    *metrics.Run
	opts       Options

	summary Summary
	seen    map[tile.Key]bool
	tracker *progress.Tracker
}

// NewRunner wires a runner. simplifier and run may be nil.
func NewRunner(normalizer *feature.Normalizer, simplifier *feature.Simplifier,
	acc *accumulator.Accumulator, run *metrics.Run, opts Options) *Runner {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = defaultProgressEvery
	}
	return &Runner{
		normalizer: normalizer,
		simplifier: simplifier,
		acc:        acc,
		metrics:    run,
		opts:       opts,
	}
}

// Run consumes src chunk by chunk. Malformed and rejected lines are counted
// and skipped. Cancelling ctx stops further reads; the partial trailing line
// is then discarded. Read errors and accumulator failures are returned.
func (r *Runner) Run(ctx context.Context, src io.Reader) (Summary, error) {
	log := logger.Get()

	r.summary = Summary{SampleTiles: []tile.Key{}}
	r.seen = make(map[tile.Key]bool)
	r.tracker = progress.NewTracker(0)

	splitter := NewLineSplitter(r.process)
	buf := make([]byte, r.opts.ChunkSize)

	for {
		if ctx.Err() != nil {
			r.summary.Interrupted = true
			log.Warn("Extract interrupted",
				zap.Int("records", r.summary.TotalRecords),
				zap.Int("pending_bytes", splitter.Pending()))
			break
		}

		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := splitter.Write(buf[:n]); werr != nil {
				return r.finish(), werr
			}
		}
		if errors.Is(err, io.EOF) {
			if ferr := splitter.Flush(); ferr != nil {
				return r.finish(), ferr
			}
			break
		}
		if err != nil {
			return r.finish(), fmt.Errorf("failed to read record stream: %w", err)
		}
	}

	summary := r.finish()
	log.Info("Extract complete",
		zap.Int("records", summary.TotalRecords),
		zap.Int("processed", summary.ProcessedRecords),
		zap.Int("no_geometry", summary.SkippedNoGeometry),
		zap.Int("bad_geometry", summary.SkippedBadGeometry),
		zap.Int("no_tags", summary.SkippedNoTags),
		zap.Int("malformed", summary.MalformedRecords),
		zap.Int("tiles", summary.TouchedTileCount))
	return summary, nil
}

func (r *Runner) finish() Summary {
	r.summary.TouchedTileCount = r.acc.Count()
	return r.summary
}

// process handles one complete line
func (r *Runner) process(line []byte) error {
	r.summary.TotalRecords++
	if n := r.tracker.Add(1); n%int64(r.opts.ProgressEvery) == 0 {
		snap := r.tracker.Snapshot()
		logger.Get().Info("Extract progress",
			zap.Int64("records", n),
			zap.String("rate", progress.FormatThroughput(snap.Throughput)),
			zap.Int("tiles", r.acc.Count()))
	}

	rec, err := r.normalizer.Normalize(line)
	if err != nil {
		r.skip(err)
		return nil
	}

	r.simplifier.Apply(rec)
	keys, err := r.acc.Add(rec)
	if err != nil {
		return err
	}

	r.summary.ProcessedRecords++
	r.metrics.Record("accepted")
	r.metrics.Features(len(keys))

	for _, k := range keys {
		if len(r.summary.SampleTiles) >= sampleSize {
			break
		}
		if !r.seen[k] {
			r.seen[k] = true
			r.summary.SampleTiles = append(r.summary.SampleTiles, k)
		}
	}
	return nil
}

func (r *Runner) skip(err error) {
	rej, ok := feature.AsRejection(err)
	if !ok {
		r.summary.MalformedRecords++
		r.metrics.Record("malformed")
		logger.Get().Debug("Skipping malformed record", zap.Error(err))
		return
	}

	switch rej.Reason {
	case feature.ReasonNoGeometry:
		r.summary.SkippedNoGeometry++
	case feature.ReasonBadGeometry:
		r.summary.SkippedBadGeometry++
	case feature.ReasonNoTags:
		r.summary.SkippedNoTags++
	}
	r.metrics.Record(string(rej.Reason))
}
