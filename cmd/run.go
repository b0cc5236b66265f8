package cmd

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wegman-software/speedtiles-go/internal/accumulator"
	"github.com/wegman-software/speedtiles-go/internal/feature"
	"github.com/wegman-software/speedtiles-go/internal/logger"
	"github.com/wegman-software/speedtiles-go/internal/metrics"
	"github.com/wegman-software/speedtiles-go/internal/sink"
	"github.com/wegman-software/speedtiles-go/internal/speed"
)

// tileRun holds the components shared by the fetch and extract commands
type tileRun struct {
	normalizer *feature.Normalizer
	simplifier *feature.Simplifier
	acc        *accumulator.Accumulator
	out        sink.Sink
	metrics    *metrics.Run

	script        *speed.Script
	stopCollector context.CancelFunc
	startedAt     time.Time
}

// newTileRun opens the output and builds the speed resolver, normalizer and
// accumulator from cfg, then starts resource sampling. The output is opened
// first so an unusable location fails before any query or read.
func newTileRun(ctx context.Context) (*tileRun, error) {
	log := logger.Get()
	r := &tileRun{
		metrics:   metrics.NewRun(),
		startedAt: time.Now(),
	}

	out, err := openSink(ctx)
	if err != nil {
		return nil, err
	}
	r.out = out

	resolver := speed.NewResolver()
	if cfg.SpeedProfile != "" {
		profile, err := speed.LoadProfile(cfg.SpeedProfile)
		if err != nil {
			r.close()
			return nil, err
		}
		resolver.WithProfile(profile)
		log.Info("Loaded speed profile",
			zap.String("path", cfg.SpeedProfile),
			zap.Int("classes", len(profile.Classes)))
	}
	if cfg.SpeedScript != "" {
		script, err := speed.LoadScript(cfg.SpeedScript)
		if err != nil {
			r.close()
			return nil, err
		}
		resolver.WithScript(script)
		r.script = script
		log.Info("Loaded speed script", zap.String("path", cfg.SpeedScript))
	}

	r.normalizer = feature.NewNormalizer(resolver)
	r.simplifier = feature.NewSimplifier(cfg.SimplifyTolerance)

	acc, err := accumulator.New(accumulator.Options{
		Zoom:         cfg.Zoom,
		SpillDir:     cfg.SpillDir,
		MaxOpenFiles: cfg.MaxOpenFiles,
	})
	if err != nil {
		r.close()
		return nil, err
	}
	r.acc = acc

	collectorCtx, cancel := context.WithCancel(ctx)
	r.stopCollector = cancel
	collector := metrics.NewCollector(cfg.MetricsInterval, log, r.metrics)
	go collector.Start(collectorCtx)

	return r, nil
}

// openSink opens the configured output location
func openSink(ctx context.Context) (sink.Sink, error) {
	format, err := sink.ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	out, err := sink.Open(ctx, sink.Options{
		Output:      cfg.Output,
		Format:      format,
		DatabaseURL: cfg.DatabaseURL,
		Table:       cfg.Table,
		BatchSize:   cfg.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open output: %w", err)
	}
	return out, nil
}

// finalize seals every accumulated tile into the output and closes it. It
// runs to completion even when ctx has been cancelled.
func (r *tileRun) finalize(ctx context.Context) (accumulator.FinalizeStats, error) {
	ctx = context.WithoutCancel(ctx)

	out := r.out
	if out == nil {
		return accumulator.FinalizeStats{}, fmt.Errorf("output already closed")
	}
	r.out = nil

	stats, err := r.acc.Finalize(ctx, out, accumulator.FinalizeOptions{
		At:       time.Now().UTC(),
		WithBBox: cfg.IncludeBBox,
	})
	if cerr := out.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("failed to close output: %w", cerr)
	}
	return stats, err
}

// writeMetrics writes the run counters when a metrics file was requested
func (r *tileRun) writeMetrics() {
	if cfg.MetricsFile == "" {
		return
	}
	if err := r.metrics.WriteTextfile(cfg.MetricsFile); err != nil {
		logger.Get().Warn("Failed to write metrics file", zap.Error(err))
	}
}

func (r *tileRun) close() {
	if r.stopCollector != nil {
		r.stopCollector()
	}
	if r.acc != nil {
		if err := r.acc.Close(); err != nil {
			logger.Get().Warn("Failed to remove spill directory", zap.Error(err))
		}
	}
	if r.script != nil {
		r.script.Close()
	}
	if r.out != nil {
		if err := r.out.Close(); err != nil {
			logger.Get().Warn("Failed to close output", zap.Error(err))
		}
		r.out = nil
	}
}
