package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wegman-software/speedtiles-go/internal/extract"
	"github.com/wegman-software/speedtiles-go/internal/logger"
	"github.com/wegman-software/speedtiles-go/internal/nodeindex"
	"github.com/wegman-software/speedtiles-go/internal/pbf"
)

var (
	extractWorkers int
	maxNodeID      int64
)

var extractCmd = &cobra.Command{
	Use:   "extract <input.osm.pbf | input.ndjson | ->",
	Short: "Build tiles from a local extract",
	Long: `Stream road features from a local extract into tiles.

Inputs:
  - *.osm.pbf: converted in-process (or by --converter, e.g. "osmium export -f geojsonseq")
  - any other file, or "-" for stdin: read as line-delimited GeoJSON features

Records are processed as they are read. Malformed lines and features without
usable geometry or road tags are skipped and counted in the summary.`,
	Args: cobra.ExactArgs(1),
	Run:  runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)
	addOutputFlags(extractCmd)

	f := extractCmd.Flags()
	f.StringVar(&cfg.ConverterCommand, "converter", cfg.ConverterCommand, "External PBF converter writing GeoJSON lines to stdout ({} is the input path)")
	f.IntVar(&cfg.ChunkSize, "chunk-size", cfg.ChunkSize, "Read size in bytes")
	f.StringVar(&cfg.IndexDir, "index-dir", cfg.IndexDir, "Directory for a memory-mapped node index (default: in memory)")
	f.Int64Var(&maxNodeID, "max-node-id", nodeindex.DefaultMaxNodeID, "Largest node id the memory-mapped index can hold")
	f.IntVarP(&extractWorkers, "workers", "j", 0, "PBF decoder goroutines (default: number of CPUs)")
}

func runExtract(cmd *cobra.Command, args []string) {
	input := args[0]
	log := logger.Get()

	if err := cfg.Validate(); err != nil {
		exitWithError("invalid configuration", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	isPBF := strings.HasSuffix(strings.ToLower(input), ".pbf")

	var (
		stream *extract.Stream
		err    error
		source string
	)
	switch {
	case isPBF && cfg.ConverterCommand != "":
		source = "command"
		stream, err = extract.OpenCommand(ctx, cfg.ConverterCommand, input)
	case isPBF:
		source = "pbf"
		stream, err = extract.OpenPBF(ctx, pbf.Options{
			Input:     input,
			IndexDir:  cfg.IndexDir,
			MaxNodeID: maxNodeID,
			Workers:   extractWorkers,
		})
	default:
		source = "ndjson"
		stream, err = extract.OpenFile(input)
	}
	if err != nil {
		exitWithError("failed to open input", err)
	}

	run, err := newTileRun(ctx)
	if err != nil {
		stream.Close()
		exitWithError("failed to set up run", err)
	}
	defer run.close()

	log.Info("Starting extract",
		zap.String("input", input),
		zap.String("source", source),
		zap.Int("zoom", cfg.Zoom),
		zap.String("output", cfg.Output))

	runner := extract.NewRunner(run.normalizer, run.simplifier, run.acc, run.metrics, extract.Options{
		ChunkSize: cfg.ChunkSize,
	})
	summary, runErr := runner.Run(ctx, stream)
	if err := stream.Close(); err != nil {
		exitWithError("converter failed", err)
	}
	if runErr != nil {
		exitWithError("extract failed", runErr)
	}

	stats, err := run.finalize(ctx)
	if err != nil {
		exitWithError("failed to write tiles", err)
	}

	if cfg.SummaryFile != "" {
		if err := summary.WriteFile(cfg.SummaryFile); err != nil {
			log.Warn("Failed to write summary", zap.Error(err))
		}
	}
	run.writeMetrics()

	log.Info("Extract finished",
		zap.Int("records", summary.TotalRecords),
		zap.Int("processed", summary.ProcessedRecords),
		zap.Int("skipped", summary.Skipped()),
		zap.Int("tiles_written", stats.Tiles),
		zap.Int("features_written", stats.Features),
		zap.Bool("interrupted", summary.Interrupted),
		zap.Duration("duration", time.Since(run.startedAt).Round(time.Millisecond)))
}
