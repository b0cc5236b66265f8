package tile

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

func TestLonLatToTile(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
		zoom     int
		wantX    int
		wantY    int
	}{
		{
			name:  "London at zoom 10",
			lat:   51.5074,
			lon:   -0.1278,
			zoom:  10,
			wantX: 511,
			wantY: 340,
		},
		{
			name:  "Monaco at zoom 12",
			lat:   43.7384,
			lon:   7.4246,
			zoom:  12,
			wantX: 2132,
			wantY: 1493,
		},
		{
			name:  "New York at zoom 10",
			lat:   40.7128,
			lon:   -74.0060,
			zoom:  10,
			wantX: 301,
			wantY: 385,
		},
		{
			name:  "Origin at zoom 0",
			lat:   0,
			lon:   0,
			zoom:  0,
			wantX: 0,
			wantY: 0,
		},
		{
			name:  "Origin at zoom 1",
			lat:   0,
			lon:   0,
			zoom:  1,
			wantX: 1,
			wantY: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, y := LonLatToTile(tt.lon, tt.lat, tt.zoom)
			if x != tt.wantX || y != tt.wantY {
				t.Errorf("LonLatToTile(%f, %f, %d) = (%d, %d), want (%d, %d)",
					tt.lon, tt.lat, tt.zoom, x, y, tt.wantX, tt.wantY)
			}
		})
	}
}

func TestTileCenterRoundTrip(t *testing.T) {
	for z := 0; z <= 6; z++ {
		n := 1 << z
		for x := 0; x < n; x++ {
			for y := 0; y < n; y++ {
				c := TileToBBox(x, y, z).Center()
				gx, gy := LonLatToTile(c.Lon(), c.Lat(), z)
				if gx != x || gy != y {
					t.Fatalf("center of %d/%d/%d maps to (%d, %d)", z, x, y, gx, gy)
				}
			}
		}
	}

	// Spot-check deep zooms
	for _, k := range []Key{{13, 100, 200}, {13, 8191, 0}, {18, 131072, 87000}, {22, 1, 4194303}} {
		c := k.Bound().Center()
		if got := FromLonLat(c.Lon(), c.Lat(), k.Z); got != k {
			t.Errorf("round trip of %s = %s", k, got)
		}
	}
}

func TestTileToBBoxMatchesMaptile(t *testing.T) {
	for _, k := range []Key{{0, 0, 0}, {5, 3, 17}, {13, 4093, 2724}} {
		b := k.Bound()
		want := maptile.New(uint32(k.X), uint32(k.Y), maptile.Zoom(k.Z)).Bound()

		if math.Abs(b.West-want.Min.Lon()) > 1e-9 || math.Abs(b.East-want.Max.Lon()) > 1e-9 {
			t.Errorf("%s lon range = [%f, %f], want [%f, %f]", k, b.West, b.East, want.Min.Lon(), want.Max.Lon())
		}
		if math.Abs(b.South-want.Min.Lat()) > 1e-9 || math.Abs(b.North-want.Max.Lat()) > 1e-9 {
			t.Errorf("%s lat range = [%f, %f], want [%f, %f]", k, b.South, b.North, want.Min.Lat(), want.Max.Lat())
		}
	}
}

func TestTileToBBoxWholeWorld(t *testing.T) {
	b := TileToBBox(0, 0, 0)
	if b.West != -180 || b.East != 180 {
		t.Errorf("zoom 0 lon range = [%f, %f]", b.West, b.East)
	}
	if math.Abs(b.North-MaxMercatorLat) > 1e-6 || math.Abs(b.South-MinMercatorLat) > 1e-6 {
		t.Errorf("zoom 0 lat range = [%f, %f]", b.South, b.North)
	}
	if !(b.South < b.North && b.West < b.East) {
		t.Error("bbox must be ordered")
	}
}

func TestMetersPerTileEdge(t *testing.T) {
	if got := MetersPerTileEdge(0, 0); got != EarthCircumference {
		t.Errorf("zoom 0 equator = %f, want %f", got, EarthCircumference)
	}

	eq := MetersPerTileEdge(0, 13)
	if math.Abs(eq-4891.97) > 0.1 {
		t.Errorf("zoom 13 equator = %f, want ~4891.97", eq)
	}

	at60 := MetersPerTileEdge(60, 13)
	if math.Abs(at60-eq/2) > 1e-6 {
		t.Errorf("zoom 13 at 60deg = %f, want %f", at60, eq/2)
	}
}

func TestTouched(t *testing.T) {
	a := TileToBBox(100, 200, 13).Center()
	b := TileToBBox(101, 200, 13).Center()

	ls := orb.LineString{a, a, b, a}
	keys := Touched(ls, 13)

	want := []Key{{13, 100, 200}, {13, 101, 200}}
	if len(keys) != len(want) {
		t.Fatalf("Touched returned %d keys, want %d", len(keys), len(want))
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %s, want %s", i, keys[i], want[i])
		}
	}
}

func TestTouchedSkipsCrossedTiles(t *testing.T) {
	// A straight segment from tile 100 to tile 102 crosses 101 without a vertex in it
	a := TileToBBox(100, 200, 13).Center()
	b := TileToBBox(102, 200, 13).Center()

	keys := Touched(orb.LineString{a, b}, 13)
	for _, k := range keys {
		if k.X == 101 {
			t.Errorf("tile %s should not be touched by point sampling", k)
		}
	}
	if len(keys) != 2 {
		t.Errorf("expected 2 keys, got %d", len(keys))
	}
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		input   string
		want    Key
		wantErr bool
	}{
		{input: "13/100/200", want: Key{13, 100, 200}},
		{input: " 0/0/0 ", want: Key{0, 0, 0}},
		{input: "1/2/0", wantErr: true},
		{input: "13/100", wantErr: true},
		{input: "a/b/c", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseKey(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseKey(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestKeyString(t *testing.T) {
	k := Key{Z: 12, X: 2144, Y: 1501}
	if k.String() != "12/2144/1501" {
		t.Errorf("expected 12/2144/1501, got %s", k.String())
	}
}

func TestRangeForBBox(t *testing.T) {
	// Monaco bounding box
	bbox := BBox{West: 7.409, South: 43.724, East: 7.440, North: 43.752}

	r := RangeForBBox(bbox, 14)
	if r.Count() < 1 || r.Count() > 100 {
		t.Errorf("unexpected tile count %d", r.Count())
	}
	if r.Z != 14 {
		t.Errorf("expected zoom 14, got %d", r.Z)
	}

	keys := r.Keys()
	if len(keys) != r.Count() {
		t.Errorf("Keys returned %d, Count %d", len(keys), r.Count())
	}
	for _, k := range keys {
		if !k.Valid() {
			t.Errorf("invalid key %s", k)
		}
	}
}

func TestRouteBuffer(t *testing.T) {
	start := TileToBBox(100, 200, 13).Center()
	end := TileToBBox(105, 200, 13).Center()

	keys := RouteBuffer(orb.LineString{start, end}, 0, 13)
	if len(keys) != 6 {
		t.Fatalf("expected 6 tiles along the route, got %d", len(keys))
	}
	for i, k := range keys {
		if k.X != 100+i || k.Y != 200 {
			t.Errorf("keys[%d] = %s", i, k)
		}
	}

	// One edge length of buffer adds a ring around every sample
	edge := MetersPerTileEdge(start.Lat(), 13)
	buffered := RouteBuffer(orb.LineString{start}, edge*0.5, 13)
	if len(buffered) != 9 {
		t.Errorf("expected 3x3 tiles for half-edge buffer, got %d", len(buffered))
	}
}
