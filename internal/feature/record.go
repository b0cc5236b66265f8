package feature

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/wegman-software/speedtiles-go/internal/tile"
)

// Record is the canonical roadway feature stored in tile documents.
// Geometry keeps orb's (lon, lat) point order internally and is written out
// as [lat, lon] pairs.
type Record struct {
	ID       json.RawMessage // opaque upstream identifier, nil when absent
	SpeedMph *int
	Highway  *string
	Maxspeed *string // raw maxspeed tag as found upstream
	Geometry orb.LineString
}

type recordJSON struct {
	ID      json.RawMessage `json:"id"`
	Speed   *int            `json:"speed"`
	Highway *string         `json:"highway"`
	Tags    recordTags      `json:"tags"`
	Coords  [][2]float64    `json:"coords"`
}

type recordTags struct {
	Maxspeed *string `json:"maxspeed"`
}

// MarshalJSON writes {id, speed, highway, tags:{maxspeed}, coords:[[lat,lon],...]}
func (r *Record) MarshalJSON() ([]byte, error) {
	coords := make([][2]float64, len(r.Geometry))
	for i, p := range r.Geometry {
		coords[i] = [2]float64{p.Lat(), p.Lon()}
	}
	return json.Marshal(recordJSON{
		ID:      r.ID,
		Speed:   r.SpeedMph,
		Highway: r.Highway,
		Tags:    recordTags{Maxspeed: r.Maxspeed},
		Coords:  coords,
	})
}

// UnmarshalJSON reads the format written by MarshalJSON
func (r *Record) UnmarshalJSON(data []byte) error {
	var rj recordJSON
	if err := json.Unmarshal(data, &rj); err != nil {
		return err
	}

	r.ID = nil
	if len(rj.ID) > 0 && !bytes.Equal(rj.ID, []byte("null")) {
		r.ID = rj.ID
	}
	r.SpeedMph = rj.Speed
	r.Highway = rj.Highway
	r.Maxspeed = rj.Tags.Maxspeed
	r.Geometry = make(orb.LineString, len(rj.Coords))
	for i, c := range rj.Coords {
		r.Geometry[i] = orb.Point{c[1], c[0]}
	}
	return nil
}

// GeoJSON converts the record to a GeoJSON feature with (lon, lat) coordinates
func (r *Record) GeoJSON() *geojson.Feature {
	f := geojson.NewFeature(r.Geometry)
	if r.ID != nil {
		var id interface{}
		if err := json.Unmarshal(r.ID, &id); err == nil {
			f.ID = id
			f.Properties["id"] = id
		}
	}
	f.Properties["highway"] = r.Highway
	f.Properties["maxspeed_raw"] = r.Maxspeed
	f.Properties["maxspeed_mph"] = r.SpeedMph
	return f
}

// Document is the sealed output for one tile
type Document struct {
	Z         int        `json:"z"`
	X         int        `json:"x"`
	Y         int        `json:"y"`
	BBox      *tile.BBox `json:"tile_bbox"`
	FetchedAt time.Time  `json:"fetched_at"`
	Features  []*Record  `json:"features"`
}

// NewDocument creates an empty document for a tile
func NewDocument(k tile.Key, withBBox bool, at time.Time) *Document {
	d := &Document{
		Z:         k.Z,
		X:         k.X,
		Y:         k.Y,
		FetchedAt: at.UTC(),
		Features:  []*Record{},
	}
	if withBBox {
		b := k.Bound()
		d.BBox = &b
	}
	return d
}

// Key returns the tile key of the document
func (d *Document) Key() tile.Key {
	return tile.Key{Z: d.Z, X: d.X, Y: d.Y}
}

// FeatureCollection converts the document to a GeoJSON feature collection
func (d *Document) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, r := range d.Features {
		fc.Append(r.GeoJSON())
	}
	fc.ExtraMembers = geojson.Properties{
		"tile":       d.Key().String(),
		"fetched_at": d.FetchedAt,
	}
	if d.BBox != nil {
		fc.BBox = geojson.BBox{d.BBox.West, d.BBox.South, d.BBox.East, d.BBox.North}
	}
	return fc
}
