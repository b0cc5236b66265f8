package cmd

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wegman-software/speedtiles-go/internal/config"
	"github.com/wegman-software/speedtiles-go/internal/logger"
)

var cfg = config.DefaultConfig()

var rootCmd = &cobra.Command{
	Use:   "speedtiles-go",
	Short: "Build slippy-map tiles of road speed limits from OpenStreetMap",
	Long: `speedtiles-go converts OpenStreetMap road data into per-tile JSON documents
carrying speed-limit metadata.

Strategies:
  - fetch:   query an Overpass endpoint tile by tile, with fallback and retries
  - extract: stream a local PBF extract (or converted NDJSON) into tiles
  - tiles:   list the tiles covering a bounding box or a route corridor

Environment variables prefixed SPEEDTILES_ (also read from .env) provide
defaults for the matching flags.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.Init(logger.Options{Verbose: cfg.Verbose, File: cfg.LogFile})
	},
}

// Execute loads .env and SPEEDTILES_* defaults, then runs the command line
func Execute() error {
	// A missing .env is normal
	_ = godotenv.Load()

	// Flag variables already hold the defaults, so env values applied here
	// are only replaced by flags given explicitly
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		exitWithError("invalid environment", err)
	}

	defer logger.Sync()
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&cfg.Verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().IntVarP(&cfg.Zoom, "zoom", "z", cfg.Zoom, "Tile zoom level")

	// Logging and metrics flags
	rootCmd.PersistentFlags().StringVar(&cfg.LogFile, "log-file", "", "Path to log file for persistent logging (JSON format)")
	rootCmd.PersistentFlags().StringVar(&cfg.MetricsFile, "metrics-file", "", "Write run counters to this Prometheus textfile")
	rootCmd.PersistentFlags().DurationVar(&cfg.MetricsInterval, "metrics-interval", cfg.MetricsInterval, "Interval for system metrics logging (e.g., 10s, 1m)")
}

// addOutputFlags registers the flags shared by commands that write tiles
func addOutputFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&cfg.Output, "output", "o", cfg.Output, "Output directory, .parquet file, postgres:// URL, or \"postgres\"")
	f.StringVar(&cfg.Format, "format", cfg.Format, "Directory document format: json or geojson")
	f.BoolVar(&cfg.IncludeBBox, "include-bbox", cfg.IncludeBBox, "Include tile_bbox in documents")
	f.StringVar(&cfg.Table, "table", cfg.Table, "PostgreSQL table for postgres output")
	f.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Rows per Parquet row group")
	f.StringVar(&cfg.SpillDir, "spill-dir", cfg.SpillDir, "Parent directory for per-tile spill files (default: system temp)")
	f.IntVar(&cfg.MaxOpenFiles, "max-open-files", cfg.MaxOpenFiles, "Spill files kept open at once")
	f.Float64Var(&cfg.SimplifyTolerance, "simplify", cfg.SimplifyTolerance, "Douglas-Peucker tolerance in metres (0 disables)")
	f.StringVar(&cfg.SpeedProfile, "speed-profile", cfg.SpeedProfile, "YAML file overriding the road class speed table")
	f.StringVar(&cfg.SpeedScript, "speed-script", cfg.SpeedScript, "Lua file defining infer_speed(highway, maxspeed)")
	f.StringVar(&cfg.SummaryFile, "summary", cfg.SummaryFile, "Write the run summary JSON to this file")
}

func exitWithError(msg string, err error) {
	log := logger.Get()
	if err != nil {
		log.Error(msg, zap.Error(err))
	} else {
		log.Error(msg)
	}
	logger.Sync()
	os.Exit(1)
}
