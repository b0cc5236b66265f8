package overpass

import (
	"context"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/speedtiles-go/internal/accumulator"
	"github.com/wegman-software/speedtiles-go/internal/feature"
	"github.com/wegman-software/speedtiles-go/internal/logger"
	"github.com/wegman-software/speedtiles-go/internal/metrics"
	"github.com/wegman-software/speedtiles-go/internal/progress"
	"github.com/wegman-software/speedtiles-go/internal/tile"
)

// Querier issues one Overpass query
type Querier interface {
	Query(ctx context.Context, query string) (*Response, error)
}

// Options configures the per-tile query policy
type Options struct {
	Retries      int           // attempts per tile, each trying every tier
	BaseDelay    time.Duration // sleep before attempt n+1 is BaseDelay*n
	PairDelay    time.Duration // sleep between tiers within an attempt
	Throttle     time.Duration // gap between one tile finishing and the next starting
	Workers      int
	QueryTimeout time.Duration // server-side [timeout:] setting
}

// DefaultOptions returns the sequential, polite defaults
func DefaultOptions() Options {
	return Options{
		Retries:      3,
		BaseDelay:    5 * time.Second,
		PairDelay:    time.Second,
		Throttle:     2 * time.Second,
		Workers:      1,
		QueryTimeout: 25 * time.Second,
	}
}

// Outcome is the final state of one tile
type Outcome string

const (
	OutcomeFeatures    Outcome = "features"
	OutcomeEmpty       Outcome = "empty"
	OutcomeInterrupted Outcome = "interrupted"
)

// Summary reports what a remote run did
type Summary struct {
	TilesRequested    int `json:"tilesRequested"`
	TilesWithFeatures int `json:"tilesWithFeatures"`
	TilesEmpty        int `json:"tilesEmpty"`
	TilesInterrupted  int `json:"tilesInterrupted"`
	QueriesIssued     int `json:"queriesIssued"`
	QueriesFailed     int `json:"queriesFailed"`
	FeaturesWritten   int `json:"featuresWritten"`
}

// Strategy fetches tiles through the primary/fallback query ladder and
// appends the accepted records to the accumulator
type Strategy struct {
	client     Querier
	normalizer *feature.Normalizer
	simplifier *feature.Simplifier
	acc        *accumulator.Accumulator
	pacer      *Pacer
	metrics    *metrics.Run
	opts       Options

	// sleep is replaced in tests
	sleep func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	summary Summary
}

// NewStrategy wires a strategy. simplifier and run may be nil.
func NewStrategy(client Querier, normalizer *feature.Normalizer, simplifier *feature.Simplifier,
	acc *accumulator.Accumulator, run *metrics.Run, opts Options) *Strategy {
	if opts.Retries < 1 {
		opts.Retries = 1
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Strategy{
		client:     client,
		normalizer: normalizer,
		simplifier: simplifier,
		acc:        acc,
		pacer:      NewPacer(opts.Throttle),
		metrics:    run,
		opts:       opts,
		sleep:      sleepCtx,
	}
}

// Run processes keys in order. Duplicate keys are processed once.
// Cancelling ctx stops new queries; tiles already fetched stay in the
// accumulator. The returned error is non-nil only for accumulator failures.
func (s *Strategy) Run(ctx context.Context, keys []tile.Key) (Summary, error) {
	log := logger.Get()
	keys = Dedupe(keys)

	s.mu.Lock()
	s.summary = Summary{TilesRequested: len(keys)}
	s.mu.Unlock()

	tracker := progress.NewTracker(int64(len(keys)))
	g := new(errgroup.Group)
	g.SetLimit(s.opts.Workers)

	dispatched := 0
	for _, k := range keys {
		if ctx.Err() != nil {
			break
		}
		dispatched++

		k := k
		g.Go(func() error {
			if err := s.pacer.Wait(ctx); err != nil {
				s.mu.Lock()
				s.summary.TilesInterrupted++
				s.mu.Unlock()
				return nil
			}
			defer s.pacer.Done()

			outcome, n, err := s.processTile(ctx, k)
			if err != nil {
				return err
			}

			done := tracker.Add(1)
			snap := tracker.Snapshot()
			log.Info("Tile finished",
				zap.String("tile", k.String()),
				zap.String("outcome", string(outcome)),
				zap.Int("features", n),
				zap.Int64("done", done),
				zap.Int("total", len(keys)),
				zap.String("eta", progress.FormatETA(snap.ETA)))
			return nil
		})
	}

	err := g.Wait()

	s.mu.Lock()
	s.summary.TilesInterrupted += len(keys) - dispatched
	summary := s.summary
	s.mu.Unlock()

	if ctx.Err() != nil {
		log.Warn("Run interrupted",
			zap.Int("dispatched", dispatched),
			zap.Int("not_dispatched", len(keys)-dispatched))
	}

	return summary, err
}

// processTile runs the query ladder for one tile and stores the result
func (s *Strategy) processTile(ctx context.Context, k tile.Key) (Outcome, int, error) {
	recs, outcome := s.fetchTile(ctx, k)

	switch outcome {
	case OutcomeFeatures:
		for _, rec := range recs {
			if err := s.acc.Append(k, rec); err != nil {
				return outcome, 0, err
			}
		}
	case OutcomeEmpty:
		s.acc.Touch(k)
	}

	s.mu.Lock()
	switch outcome {
	case OutcomeFeatures:
		s.summary.TilesWithFeatures++
		s.summary.FeaturesWritten += len(recs)
	case OutcomeEmpty:
		s.summary.TilesEmpty++
	case OutcomeInterrupted:
		s.summary.TilesInterrupted++
	}
	s.mu.Unlock()

	s.metrics.TileFinished(string(outcome), len(recs))
	return outcome, len(recs), nil
}

// fetchTile walks the tier ladder up to Retries times. It returns as soon as
// a tier yields features, and gives up early when every tier of an attempt
// succeeded with nothing to offer.
func (s *Strategy) fetchTile(ctx context.Context, k tile.Key) ([]*feature.Record, Outcome) {
	log := logger.Get()

	// In-flight requests finish even if ctx is cancelled mid-request
	reqCtx := context.WithoutCancel(ctx)

	for attempt := 1; attempt <= s.opts.Retries; attempt++ {
		if attempt > 1 {
			delay := s.opts.BaseDelay * time.Duration(attempt-1)
			log.Debug("Retrying tile",
				zap.String("tile", k.String()),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))
			if err := s.sleep(ctx, delay); err != nil {
				return nil, OutcomeInterrupted
			}
		}

		failed := false
		for i, tier := range Tiers {
			if i > 0 {
				if err := s.sleep(ctx, s.opts.PairDelay); err != nil {
					return nil, OutcomeInterrupted
				}
			}
			if ctx.Err() != nil {
				return nil, OutcomeInterrupted
			}

			recs, err := s.query(reqCtx, k, tier)
			if err != nil {
				failed = true
				log.Warn("Query failed",
					zap.String("tile", k.String()),
					zap.String("tier", tier.String()),
					zap.Int("attempt", attempt),
					zap.Error(err))
				continue
			}
			if len(recs) > 0 {
				return recs, OutcomeFeatures
			}
			log.Debug("Query returned no features",
				zap.String("tile", k.String()),
				zap.String("tier", tier.String()))
		}

		if !failed {
			return nil, OutcomeEmpty
		}
	}

	log.Warn("Retries exhausted, writing empty tile",
		zap.String("tile", k.String()),
		zap.Int("attempts", s.opts.Retries))
	return nil, OutcomeEmpty
}

// query issues one tier for a tile and returns the accepted records that
// have at least one vertex inside the tile
func (s *Strategy) query(ctx context.Context, k tile.Key, tier Tier) ([]*feature.Record, error) {
	log := logger.Get()
	q := BuildQuery(tier, k.Bound(), s.opts.QueryTimeout)

	start := time.Now()
	resp, err := s.client.Query(ctx, q)
	s.metrics.ObserveQuery(tier.String(), time.Since(start), err)

	s.mu.Lock()
	s.summary.QueriesIssued++
	if err != nil {
		s.summary.QueriesFailed++
	}
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}

	var recs []*feature.Record
	for _, el := range resp.Elements {
		rec, err := s.normalizer.Normalize(el)
		if err != nil {
			reason := "malformed"
			if rej, ok := feature.AsRejection(err); ok {
				reason = string(rej.Reason)
			}
			s.metrics.Record(reason)
			log.Debug("Skipping element", zap.String("tile", k.String()), zap.Error(err))
			continue
		}
		s.simplifier.Apply(rec)
		if !touches(rec.Geometry, k) {
			s.metrics.Record("outside-tile")
			continue
		}
		s.metrics.Record("accepted")
		recs = append(recs, rec)
	}
	return recs, nil
}

func touches(ls orb.LineString, k tile.Key) bool {
	for _, p := range ls {
		if k.Contains(p) {
			return true
		}
	}
	return false
}

// Dedupe drops repeated keys, keeping first occurrences in order
func Dedupe(keys []tile.Key) []tile.Key {
	seen := make(map[tile.Key]bool, len(keys))
	out := make([]tile.Key, 0, len(keys))
	for _, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
