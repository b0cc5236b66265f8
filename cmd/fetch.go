package cmd

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wegman-software/speedtiles-go/internal/logger"
	"github.com/wegman-software/speedtiles-go/internal/overpass"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch [tile-list]",
	Short: "Fetch tiles from an Overpass endpoint",
	Long: `Query an Overpass endpoint for every listed tile and write one document per tile.

Each tile is tried with a primary query (ways with highway and maxspeed) and a
fallback query (any highway). An attempt that fails is retried with a growing
delay; a tile that exhausts its retries is written with no features. Tiles are
spaced by --throttle to stay polite to public endpoints.

The tile list is a JSON array of {z,x,y} objects or one z/x/y per line ("-"
reads stdin). Alternatively select tiles with --bbox or --route.

Interrupting a run (Ctrl-C) stops new queries and writes the tiles fetched so far.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	addOutputFlags(fetchCmd)
	addSelectionFlags(fetchCmd)

	f := fetchCmd.Flags()
	f.BoolVar(&cfg.ForceZoom, "force-zoom", cfg.ForceZoom, "Replace the zoom of listed tiles with --zoom")
	f.StringVar(&cfg.Endpoint, "endpoint", cfg.Endpoint, "Overpass interpreter URL")
	f.DurationVar(&cfg.Throttle, "throttle", cfg.Throttle, "Pause between consecutive tiles")
	f.IntVar(&cfg.Retries, "retries", cfg.Retries, "Attempts per tile")
	f.DurationVar(&cfg.BaseDelay, "base-delay", cfg.BaseDelay, "Retry backoff unit: attempt n+1 waits n times this")
	f.DurationVar(&cfg.PairDelay, "pair-delay", cfg.PairDelay, "Pause between the primary and fallback query")
	f.DurationVar(&cfg.HTTPTimeout, "http-timeout", cfg.HTTPTimeout, "HTTP client timeout per query")
	f.DurationVar(&cfg.QueryTimeout, "query-timeout", cfg.QueryTimeout, "Server-side query timeout")
	f.IntVarP(&cfg.Workers, "workers", "j", cfg.Workers, "Tiles fetched concurrently (pacing is shared)")
	f.StringVar(&cfg.CacheURL, "cache", cfg.CacheURL, "Response cache: redis:// URL or directory")
	f.DurationVar(&cfg.CacheTTL, "cache-ttl", cfg.CacheTTL, "Response cache entry lifetime")
}

func runFetch(cmd *cobra.Command, args []string) {
	log := logger.Get()

	if err := cfg.Validate(); err != nil {
		exitWithError("invalid configuration", err)
	}

	listPath := ""
	if len(args) == 1 {
		listPath = args[0]
	}
	keys, err := selectTiles(listPath)
	if err != nil {
		exitWithError("invalid tile list", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cache, err := overpass.OpenCache(cfg.CacheURL, cfg.CacheTTL)
	if err != nil {
		exitWithError("failed to open response cache", err)
	}
	if cache != nil {
		defer cache.Close()
	}

	run, err := newTileRun(ctx)
	if err != nil {
		exitWithError("failed to set up run", err)
	}
	defer run.close()

	log.Info("Starting fetch",
		zap.String("endpoint", cfg.Endpoint),
		zap.Int("tiles", len(keys)),
		zap.Int("zoom", cfg.Zoom),
		zap.Int("workers", cfg.Workers),
		zap.Int("retries", cfg.Retries),
		zap.Duration("throttle", cfg.Throttle),
		zap.String("output", cfg.Output),
		zap.Bool("cache", cache != nil))

	client := overpass.NewClient(cfg.Endpoint, cfg.HTTPTimeout, cache)
	strategy := overpass.NewStrategy(client, run.normalizer, run.simplifier, run.acc, run.metrics, overpass.Options{
		Retries:      cfg.Retries,
		BaseDelay:    cfg.BaseDelay,
		PairDelay:    cfg.PairDelay,
		Throttle:     cfg.Throttle,
		Workers:      cfg.Workers,
		QueryTimeout: cfg.QueryTimeout,
	})

	summary, err := strategy.Run(ctx, keys)
	if err != nil {
		exitWithError("fetch failed", err)
	}

	stats, err := run.finalize(ctx)
	if err != nil {
		exitWithError("failed to write tiles", err)
	}

	if cfg.SummaryFile != "" {
		if err := writeJSONFile(cfg.SummaryFile, summary); err != nil {
			log.Warn("Failed to write summary", zap.Error(err))
		}
	}
	run.writeMetrics()

	log.Info("Fetch complete",
		zap.Int("requested", summary.TilesRequested),
		zap.Int("with_features", summary.TilesWithFeatures),
		zap.Int("empty", summary.TilesEmpty),
		zap.Int("interrupted", summary.TilesInterrupted),
		zap.Int("queries", summary.QueriesIssued),
		zap.Int("queries_failed", summary.QueriesFailed),
		zap.Int("tiles_written", stats.Tiles),
		zap.Int("features_written", stats.Features),
		zap.Duration("duration", time.Since(run.startedAt).Round(time.Millisecond)))
}

func writeJSONFile(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}
