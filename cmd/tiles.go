package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wegman-software/speedtiles-go/internal/config"
	"github.com/wegman-software/speedtiles-go/internal/logger"
	"github.com/wegman-software/speedtiles-go/internal/tile"
)

var (
	bboxStr     string
	routeFile   string
	bufferM     float64
	tilesAsJSON bool
)

var tilesCmd = &cobra.Command{
	Use:   "tiles",
	Short: "List the tiles covering a bounding box or route corridor",
	Long: `Print tile keys at the configured zoom, one z/x/y per line (or a JSON
array with --json). The output can be passed to fetch as a tile list.

  speedtiles-go tiles --bbox -0.2,51.4,0.1,51.6 -z 13
  speedtiles-go tiles --route route.geojson --buffer 500 --json`,
	Args: cobra.NoArgs,
	Run:  runTiles,
}

func init() {
	rootCmd.AddCommand(tilesCmd)
	addSelectionFlags(tilesCmd)
	tilesCmd.Flags().BoolVar(&tilesAsJSON, "json", false, "Print a JSON array of {z,x,y}")
}

// addSelectionFlags registers the ways of choosing tiles other than a list file
func addSelectionFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&bboxStr, "bbox", "b", "", "Bounding box: minlon,minlat,maxlon,maxlat")
	cmd.Flags().StringVar(&routeFile, "route", "", "GeoJSON file with a LineString route")
	cmd.Flags().Float64Var(&bufferM, "buffer", 1000, "Corridor half-width around --route in metres")
}

func runTiles(cmd *cobra.Command, args []string) {
	if bboxStr == "" && routeFile == "" {
		exitWithError("one of --bbox or --route is required", nil)
	}

	keys, err := selectTiles("")
	if err != nil {
		exitWithError("failed to select tiles", err)
	}

	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()
	if err := writeTileList(w, keys, tilesAsJSON); err != nil {
		exitWithError("failed to write tile list", err)
	}
}

// selectTiles resolves the tile set from a list file ("-" for stdin), a bbox
// or a route, in that order of precedence
func selectTiles(listPath string) ([]tile.Key, error) {
	log := logger.Get()
	zoomOverride := -1
	if cfg.ForceZoom {
		zoomOverride = cfg.Zoom
	}

	switch {
	case listPath == "-":
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read tile list: %w", err)
		}
		return tile.ParseList(data, zoomOverride)

	case listPath != "":
		return tile.ReadList(listPath, zoomOverride)

	case bboxStr != "":
		bbox, err := config.ParseBBox(bboxStr)
		if err != nil {
			return nil, err
		}
		r := tile.RangeForBBox(bbox, cfg.Zoom)
		log.Info("Tiles for bbox",
			zap.String("bbox", bboxStr),
			zap.Int("zoom", cfg.Zoom),
			zap.Int("tiles", r.Count()))
		return r.Keys(), nil

	case routeFile != "":
		route, err := loadRoute(routeFile)
		if err != nil {
			return nil, err
		}
		keys := tile.RouteBuffer(route, bufferM, cfg.Zoom)
		log.Info("Tiles for route",
			zap.Int("vertices", len(route)),
			zap.Float64("buffer_m", bufferM),
			zap.Int("zoom", cfg.Zoom),
			zap.Int("tiles", len(keys)))
		return keys, nil
	}

	return nil, fmt.Errorf("no tiles selected: pass a tile list, --bbox or --route")
}

// loadRoute reads the first LineString from a GeoJSON geometry, feature or
// feature collection. MultiLineString parts are joined.
func loadRoute(path string) (orb.LineString, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read route: %w", err)
	}

	var geoms []orb.Geometry
	if fc, err := geojson.UnmarshalFeatureCollection(data); err == nil && len(fc.Features) > 0 {
		for _, f := range fc.Features {
			geoms = append(geoms, f.Geometry)
		}
	} else if f, err := geojson.UnmarshalFeature(data); err == nil && f.Geometry != nil {
		geoms = append(geoms, f.Geometry)
	} else if g, err := geojson.UnmarshalGeometry(data); err == nil {
		geoms = append(geoms, g.Geometry())
	}

	for _, g := range geoms {
		switch g := g.(type) {
		case orb.LineString:
			if len(g) > 0 {
				return g, nil
			}
		case orb.MultiLineString:
			var joined orb.LineString
			for _, part := range g {
				joined = append(joined, part...)
			}
			if len(joined) > 0 {
				return joined, nil
			}
		}
	}
	return nil, fmt.Errorf("route %s contains no LineString", path)
}

func writeTileList(w io.Writer, keys []tile.Key, asJSON bool) error {
	if asJSON {
		if keys == nil {
			keys = []tile.Key{}
		}
		return json.NewEncoder(w).Encode(keys)
	}
	for _, k := range keys {
		if _, err := fmt.Fprintln(w, k.String()); err != nil {
			return err
		}
	}
	return nil
}
