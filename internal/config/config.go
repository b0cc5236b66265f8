package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wegman-software/speedtiles-go/internal/tile"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv
const EnvPrefix = "SPEEDTILES_"

// ParseBBox parses a bbox string in format "minlon,minlat,maxlon,maxlat"
func ParseBBox(s string) (tile.BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return tile.BBox{}, fmt.Errorf("bbox must have 4 values: minlon,minlat,maxlon,maxlat")
	}

	var coords [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return tile.BBox{}, fmt.Errorf("invalid bbox coordinate %q: %w", p, err)
		}
		coords[i] = v
	}

	bbox := tile.BBox{
		West:  coords[0],
		South: coords[1],
		East:  coords[2],
		North: coords[3],
	}

	// Validate
	if bbox.West > bbox.East {
		return tile.BBox{}, fmt.Errorf("minlon (%f) must be <= maxlon (%f)", bbox.West, bbox.East)
	}
	if bbox.South > bbox.North {
		return tile.BBox{}, fmt.Errorf("minlat (%f) must be <= maxlat (%f)", bbox.South, bbox.North)
	}
	if !bbox.IsValid() {
		return tile.BBox{}, fmt.Errorf("bbox %s is outside lon/lat range", s)
	}

	return bbox, nil
}

// Config holds the settings of one tiling run
type Config struct {
	// Tiling
	Zoom      int
	ForceZoom bool // override z of listed tiles with Zoom

	// Remote query service
	Endpoint     string
	Throttle     time.Duration // gap between consecutive tiles
	Retries      int
	BaseDelay    time.Duration
	PairDelay    time.Duration
	HTTPTimeout  time.Duration
	QueryTimeout time.Duration // server-side [timeout:] of each query
	Workers      int
	CacheURL     string // redis:// URL or directory; empty disables the cache
	CacheTTL     time.Duration

	// Output
	Output      string // directory, .parquet file, or "postgres"
	Format      string // json or geojson
	IncludeBBox bool
	DatabaseURL string
	Table       string
	BatchSize   int

	// Accumulation
	SpillDir          string
	MaxOpenFiles      int
	SimplifyTolerance float64 // metres, 0 disables simplification

	// Speed inference
	SpeedProfile string // YAML class table
	SpeedScript  string // Lua infer_speed

	// Bulk extract
	ConverterCommand string // external converter; empty uses the built-in one
	ChunkSize        int
	IndexDir         string // node index for the built-in converter; empty keeps nodes in memory

	// Reporting
	SummaryFile string

	// Logging and metrics
	Verbose         bool
	LogFile         string        // Path to log file (empty = no file logging)
	MetricsFile     string        // node-exporter textfile written at the end of a run
	MetricsInterval time.Duration // Interval for system metrics logging
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Zoom:            13,
		Endpoint:        "https://overpass-api.de/api/interpreter",
		Throttle:        2 * time.Second,
		Retries:         3,
		BaseDelay:       5 * time.Second,
		PairDelay:       time.Second,
		HTTPTimeout:     60 * time.Second,
		QueryTimeout:    25 * time.Second,
		Workers:         1,
		CacheTTL:        24 * time.Hour,
		Output:          "./out",
		Format:          "json",
		IncludeBBox:     true,
		Table:           "speed_tiles",
		BatchSize:       10000,
		MaxOpenFiles:    256,
		ChunkSize:       64 * 1024,
		MetricsInterval: 30 * time.Second, // Log system metrics every 30 seconds
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Zoom < 0 || c.Zoom > 22 {
		return fmt.Errorf("zoom must be between 0 and 22, got %d", c.Zoom)
	}
	if c.Retries < 1 {
		return fmt.Errorf("retries must be at least 1")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.Throttle < 0 || c.BaseDelay < 0 || c.PairDelay < 0 {
		return fmt.Errorf("delays must not be negative")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http timeout must be positive")
	}
	if c.Output == "" {
		return fmt.Errorf("output is required")
	}
	switch strings.ToLower(c.Format) {
	case "json", "geojson":
	default:
		return fmt.Errorf("format must be json or geojson, got %q", c.Format)
	}
	if c.Output == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("%sDATABASE_URL is required for postgres output", EnvPrefix)
	}
	if c.SimplifyTolerance < 0 {
		return fmt.Errorf("simplify tolerance must not be negative")
	}
	if c.ChunkSize < 1 {
		return fmt.Errorf("chunk size must be positive")
	}
	if c.MaxOpenFiles < 1 {
		return fmt.Errorf("max open files must be positive")
	}
	return nil
}

// ApplyEnv overrides fields from SPEEDTILES_* variables. lookup is normally
// os.LookupEnv. Flags set explicitly on the command line are applied after
// this and win.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s %q: %w", EnvPrefix, name, v, err)
		}
		*dst = n
		return nil
	}
	dur := func(name string, dst *time.Duration) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return nil
		}
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s %q: %w", EnvPrefix, name, v, err)
		}
		*dst = d
		return nil
	}

	str("ENDPOINT", &c.Endpoint)
	str("OUTPUT", &c.Output)
	str("DATABASE_URL", &c.DatabaseURL)
	str("TABLE", &c.Table)
	str("CACHE_URL", &c.CacheURL)
	str("SPILL_DIR", &c.SpillDir)
	str("CONVERTER", &c.ConverterCommand)
	str("LOG_FILE", &c.LogFile)

	for _, f := range []struct {
		name string
		dst  *int
	}{
		{"ZOOM", &c.Zoom},
		{"RETRIES", &c.Retries},
		{"WORKERS", &c.Workers},
	} {
		if err := num(f.name, f.dst); err != nil {
			return err
		}
	}

	for _, f := range []struct {
		name string
		dst  *time.Duration
	}{
		{"THROTTLE", &c.Throttle},
		{"BASE_DELAY", &c.BaseDelay},
		{"PAIR_DELAY", &c.PairDelay},
		{"HTTP_TIMEOUT", &c.HTTPTimeout},
		{"CACHE_TTL", &c.CacheTTL},
	} {
		if err := dur(f.name, f.dst); err != nil {
			return err
		}
	}
	return nil
}

// parseDuration accepts Go durations and bare milliseconds
func parseDuration(s string) (time.Duration, error) {
	if ms, err := strconv.Atoi(s); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(s)
}
