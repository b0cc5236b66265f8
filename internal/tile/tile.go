package tile

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// EarthCircumference is the equatorial circumference in meters (WGS84)
const EarthCircumference = 40075016.686

// Key identifies a slippy-map tile at a specific zoom level
type Key struct {
	Z int `json:"z"`
	X int `json:"x"`
	Y int `json:"y"`
}

// String returns the tile in z/x/y format
func (k Key) String() string {
	return fmt.Sprintf("%d/%d/%d", k.Z, k.X, k.Y)
}

// Valid reports whether x and y are inside the tile grid for the zoom level
func (k Key) Valid() bool {
	if k.Z < 0 || k.Z > 30 {
		return false
	}
	n := 1 << k.Z
	return k.X >= 0 && k.X < n && k.Y >= 0 && k.Y < n
}

// Bound returns the geographic bounding box of the tile
func (k Key) Bound() BBox {
	return TileToBBox(k.X, k.Y, k.Z)
}

// Contains reports whether the point maps into this tile
func (k Key) Contains(p orb.Point) bool {
	x, y := LonLatToTile(p.Lon(), p.Lat(), k.Z)
	return x == k.X && y == k.Y
}

// Less orders keys by zoom, then x, then y
func (k Key) Less(o Key) bool {
	if k.Z != o.Z {
		return k.Z < o.Z
	}
	if k.X != o.X {
		return k.X < o.X
	}
	return k.Y < o.Y
}

// ParseKey parses a tile in z/x/y format
func ParseKey(s string) (Key, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 3 {
		return Key{}, fmt.Errorf("tile must be z/x/y, got %q", s)
	}

	var vals [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Key{}, fmt.Errorf("invalid tile component %q: %w", p, err)
		}
		vals[i] = v
	}

	k := Key{Z: vals[0], X: vals[1], Y: vals[2]}
	if !k.Valid() {
		return Key{}, fmt.Errorf("tile %s is outside the grid", k)
	}
	return k, nil
}

// BBox represents a geographic bounding box in degrees
type BBox struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// IsValid checks if the bounding box is valid
func (b BBox) IsValid() bool {
	return b.West <= b.East && b.South <= b.North &&
		b.West >= -180 && b.East <= 180 &&
		b.South >= -90 && b.North <= 90
}

// Center returns the midpoint of the box as (lon, lat)
func (b BBox) Center() orb.Point {
	return orb.Point{(b.West + b.East) / 2, (b.South + b.North) / 2}
}

// Web Mercator constants
const (
	// Maximum latitude for Web Mercator (approximately 85.051129°)
	MaxMercatorLat = 85.0511287798
	// Minimum latitude for Web Mercator
	MinMercatorLat = -85.0511287798
)

// LonLatToTile converts longitude/latitude to tile coordinates at a given zoom.
// Values are floored without clamping; callers keep lat inside the Mercator range.
func LonLatToTile(lon, lat float64, zoom int) (x, y int) {
	n := math.Exp2(float64(zoom))
	latRad := lat * math.Pi / 180.0

	fx := (lon + 180.0) / 360.0 * n
	fy := (1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * n

	return int(math.Floor(fx)), int(math.Floor(fy))
}

// FromLonLat returns the key of the tile containing the point
func FromLonLat(lon, lat float64, zoom int) Key {
	x, y := LonLatToTile(lon, lat, zoom)
	return Key{Z: zoom, X: x, Y: y}
}

// TileToBBox returns the bounding box of tile x/y at the given zoom
func TileToBBox(x, y, zoom int) BBox {
	n := math.Exp2(float64(zoom))
	return BBox{
		West:  float64(x)/n*360.0 - 180.0,
		East:  float64(x+1)/n*360.0 - 180.0,
		North: tileLat(float64(y), n),
		South: tileLat(float64(y+1), n),
	}
}

func tileLat(y, n float64) float64 {
	return math.Atan(math.Sinh(math.Pi*(1-2*y/n))) * 180.0 / math.Pi
}

// MetersPerTileEdge approximates the edge length of a tile at the given latitude
func MetersPerTileEdge(lat float64, zoom int) float64 {
	return EarthCircumference * math.Cos(lat*math.Pi/180.0) / math.Exp2(float64(zoom))
}

// Touched returns the distinct tiles containing at least one vertex of the line,
// in the order the vertices first reach them. Segments crossing a tile without a
// vertex inside it do not touch that tile.
func Touched(ls orb.LineString, zoom int) []Key {
	seen := make(map[Key]struct{}, 4)
	keys := make([]Key, 0, 4)
	for _, p := range ls {
		k := FromLonLat(p.Lon(), p.Lat(), zoom)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}

// Range represents a range of tiles at a specific zoom level
type Range struct {
	Z          int
	MinX, MaxX int
	MinY, MaxY int
}

// RangeForBBox converts a bounding box to a range of tiles at a given zoom level
func RangeForBBox(b BBox, zoom int) Range {
	// Y increases downward (north to south)
	minX, minY := LonLatToTile(b.West, clampLat(b.North), zoom)
	maxX, maxY := LonLatToTile(b.East, clampLat(b.South), zoom)

	last := (1 << zoom) - 1
	if maxX > last {
		maxX = last
	}
	if maxY > last {
		maxY = last
	}

	return Range{Z: zoom, MinX: minX, MaxX: maxX, MinY: minY, MaxY: maxY}
}

func clampLat(lat float64) float64 {
	return math.Max(MinMercatorLat, math.Min(MaxMercatorLat, lat))
}

// Count returns the number of tiles in the range
func (r Range) Count() int {
	if r.MaxX < r.MinX || r.MaxY < r.MinY {
		return 0
	}
	return (r.MaxX - r.MinX + 1) * (r.MaxY - r.MinY + 1)
}

// Keys returns all tiles in the range, row by row
func (r Range) Keys() []Key {
	keys := make([]Key, 0, r.Count())
	for y := r.MinY; y <= r.MaxY; y++ {
		for x := r.MinX; x <= r.MaxX; x++ {
			keys = append(keys, Key{Z: r.Z, X: x, Y: y})
		}
	}
	return keys
}
