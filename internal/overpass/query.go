package overpass

import (
	"fmt"
	"strconv"
	"time"

	"github.com/wegman-software/speedtiles-go/internal/tile"
)

// Tier is one rung of the per-tile query ladder
type Tier int

const (
	// TierPrimary asks for ways carrying both highway and maxspeed
	TierPrimary Tier = iota
	// TierFallback asks for every highway way
	TierFallback
)

func (t Tier) String() string {
	switch t {
	case TierPrimary:
		return "primary"
	case TierFallback:
		return "fallback"
	}
	return "tier" + strconv.Itoa(int(t))
}

// Tiers lists the query ladder in the order it is tried
var Tiers = []Tier{TierPrimary, TierFallback}

// BuildQuery returns the Overpass QL for a tier and bounding box.
// timeout is the server-side budget; zero omits the setting.
func BuildQuery(t Tier, b tile.BBox, timeout time.Duration) string {
	filter := `["highway"]`
	if t == TierPrimary {
		filter = `["highway"]["maxspeed"]`
	}

	settings := "[out:json]"
	if secs := int(timeout.Seconds()); secs > 0 {
		settings += fmt.Sprintf("[timeout:%d]", secs)
	}

	return fmt.Sprintf("%s;way%s(%s,%s,%s,%s);out geom;",
		settings, filter,
		formatCoord(b.South), formatCoord(b.West), formatCoord(b.North), formatCoord(b.East))
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 7, 64)
}
