package tile

import (
	"math"

	"github.com/paulmach/orb"
)

// RouteBuffer returns the tiles within bufferMeters of a route, in the order the
// route reaches them. The route is densified in tile space so consecutive samples
// are never more than one tile apart, and every sample contributes a square of
// ceil(bufferMeters / MetersPerTileEdge) tiles around it.
func RouteBuffer(route orb.LineString, bufferMeters float64, zoom int) []Key {
	if len(route) == 0 {
		return nil
	}

	seen := make(map[Key]struct{})
	var keys []Key
	add := func(p orb.Point) {
		center := FromLonLat(p.Lon(), p.Lat(), zoom)
		radius := 0
		if bufferMeters > 0 {
			radius = int(math.Ceil(bufferMeters / MetersPerTileEdge(p.Lat(), zoom)))
		}
		last := (1 << zoom) - 1
		for dy := -radius; dy <= radius; dy++ {
			for dx := -radius; dx <= radius; dx++ {
				k := Key{Z: zoom, X: center.X + dx, Y: center.Y + dy}
				if k.X < 0 || k.Y < 0 || k.X > last || k.Y > last {
					continue
				}
				if _, ok := seen[k]; ok {
					continue
				}
				seen[k] = struct{}{}
				keys = append(keys, k)
			}
		}
	}

	add(route[0])
	for i := 1; i < len(route); i++ {
		a, b := route[i-1], route[i]
		steps := segmentSteps(a, b, zoom)
		for s := 1; s <= steps; s++ {
			t := float64(s) / float64(steps)
			add(orb.Point{
				a.Lon() + (b.Lon()-a.Lon())*t,
				a.Lat() + (b.Lat()-a.Lat())*t,
			})
		}
	}

	return keys
}

// segmentSteps is the number of samples needed so no step spans more than one tile
func segmentSteps(a, b orb.Point, zoom int) int {
	ax, ay := LonLatToTile(a.Lon(), a.Lat(), zoom)
	bx, by := LonLatToTile(b.Lon(), b.Lat(), zoom)
	dx := math.Abs(float64(bx - ax))
	dy := math.Abs(float64(by - ay))
	steps := int(math.Max(dx, dy)) + 1
	return steps
}
