package feature

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
)

// envelope holds the top-level members shared by all supported upstream shapes
type envelope struct {
	Type       string          `json:"type"`
	ID         json.RawMessage `json:"id"`
	Tags       json.RawMessage `json:"tags"`
	Properties json.RawMessage `json:"properties"`
	Geometry   json.RawMessage `json:"geometry"`

	props map[string]json.RawMessage
}

// TagShape extracts a tag mapping from one upstream layout.
// ok is false when the record does not use this layout.
type TagShape interface {
	Name() string
	Tags(env *envelope) (tags map[string]string, ok bool)
}

// GeometryShape extracts an ordered vertex sequence from one geometry layout.
// ok is false when the geometry does not use this layout; err reports a
// geometry that uses the layout but cannot be read.
type GeometryShape interface {
	Name() string
	Geometry(raw json.RawMessage) (ex Extraction, ok bool, err error)
}

// Extraction is the vertex sequence read from a geometry, in (lon, lat) order
type Extraction struct {
	Line    orb.LineString
	Dropped int // vertices skipped for missing or non-finite components
}

// merge appends a part, counting an unreadable part as one dropped vertex
func (e *Extraction) merge(part Extraction, err error) {
	if err != nil {
		e.Dropped++
		return
	}
	e.Line = append(e.Line, part.Line...)
	e.Dropped += part.Dropped
}

// DefaultTagShapes lists tag layouts in detection order
func DefaultTagShapes() []TagShape {
	return []TagShape{
		elementTags{},
		nestedPropertyTags{},
		flatPropertyTags{},
	}
}

// DefaultGeometryShapes lists geometry layouts in detection order
func DefaultGeometryShapes() []GeometryShape {
	return []GeometryShape{
		elementGeometry{},
		lineStringGeometry{},
		multiLineStringGeometry{},
		collectionGeometry{},
	}
}

// elementTags reads the query-service layout: {"tags": {...}}
type elementTags struct{}

func (elementTags) Name() string { return "element" }

func (elementTags) Tags(env *envelope) (map[string]string, bool) {
	return objectTags(env.Tags)
}

// nestedPropertyTags reads {"properties": {"tags": {...}}} or properties.tag
type nestedPropertyTags struct{}

func (nestedPropertyTags) Name() string { return "properties.tags" }

func (nestedPropertyTags) Tags(env *envelope) (map[string]string, bool) {
	if env.props == nil {
		return nil, false
	}
	for _, key := range []string{"tags", "tag"} {
		if tags, ok := objectTags(env.props[key]); ok {
			return tags, true
		}
	}
	return nil, false
}

// reservedProperties are identity members never treated as tags
var reservedProperties = map[string]bool{
	"id":        true,
	"@id":       true,
	"type":      true,
	"timestamp": true,
	"version":   true,
	"osm":       true,
}

// flatPropertyTags synthesizes tags from primitive members of properties
type flatPropertyTags struct{}

func (flatPropertyTags) Name() string { return "properties" }

func (flatPropertyTags) Tags(env *envelope) (map[string]string, bool) {
	if env.props == nil {
		return nil, false
	}
	tags := make(map[string]string, len(env.props))
	for k, v := range env.props {
		if reservedProperties[k] {
			continue
		}
		if s, ok := primitive(v); ok {
			tags[k] = s
		}
	}
	return tags, true
}

// objectTags decodes a JSON object into string tags, keeping primitive values
func objectTags(raw json.RawMessage) (map[string]string, bool) {
	if !isObject(raw) {
		return nil, false
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false
	}
	tags := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := primitive(v); ok {
			tags[k] = s
		}
	}
	return tags, true
}

// primitive renders a string, number or boolean JSON value as a tag value
func primitive(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", false
	}
	switch c := raw[0]; {
	case c == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return s, true
	case c == 't' || c == 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return "", false
		}
		if b {
			return "true", true
		}
		return "false", true
	case c == '-' || (c >= '0' && c <= '9'):
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", false
		}
		return n.String(), true
	}
	return "", false
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

func isArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '['
}

// elementGeometry reads the query-service layout: [{"lat":..,"lon":..}, ...]
type elementGeometry struct{}

func (elementGeometry) Name() string { return "element" }

func (elementGeometry) Geometry(raw json.RawMessage) (Extraction, bool, error) {
	if !isArray(raw) {
		return Extraction{}, false, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return Extraction{}, true, fmt.Errorf("element geometry: %w", err)
	}

	ex := Extraction{Line: make(orb.LineString, 0, len(items))}
	for _, item := range items {
		var v struct {
			Lat *float64 `json:"lat"`
			Lon *float64 `json:"lon"`
		}
		if err := json.Unmarshal(item, &v); err != nil ||
			v.Lat == nil || v.Lon == nil || !finite(*v.Lat) || !finite(*v.Lon) {
			ex.Dropped++
			continue
		}
		ex.Line = append(ex.Line, orb.Point{*v.Lon, *v.Lat})
	}
	return ex, true, nil
}

// geoJSONGeometry is the subset of a GeoJSON geometry object we read
type geoJSONGeometry struct {
	Type        string            `json:"type"`
	Coordinates json.RawMessage   `json:"coordinates"`
	Geometries  []json.RawMessage `json:"geometries"`
}

// geoJSONType returns the decoded geometry when raw is an object of the given type
func geoJSONType(raw json.RawMessage, typ string) (*geoJSONGeometry, bool) {
	if !isObject(raw) {
		return nil, false
	}
	var g geoJSONGeometry
	if err := json.Unmarshal(raw, &g); err != nil || g.Type != typ {
		return nil, false
	}
	return &g, true
}

// lineStringGeometry reads a GeoJSON LineString
type lineStringGeometry struct{}

func (lineStringGeometry) Name() string { return "LineString" }

func (lineStringGeometry) Geometry(raw json.RawMessage) (Extraction, bool, error) {
	g, ok := geoJSONType(raw, "LineString")
	if !ok {
		return Extraction{}, false, nil
	}
	ex, err := positions(g.Coordinates)
	return ex, true, err
}

// multiLineStringGeometry concatenates the component lines of a MultiLineString
type multiLineStringGeometry struct{}

func (multiLineStringGeometry) Name() string { return "MultiLineString" }

func (multiLineStringGeometry) Geometry(raw json.RawMessage) (Extraction, bool, error) {
	g, ok := geoJSONType(raw, "MultiLineString")
	if !ok {
		return Extraction{}, false, nil
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(g.Coordinates, &parts); err != nil {
		return Extraction{}, true, fmt.Errorf("MultiLineString coordinates: %w", err)
	}
	var ex Extraction
	for _, part := range parts {
		ex.merge(positions(part))
	}
	return ex, true, nil
}

// collectionGeometry concatenates the LineString members of a GeometryCollection.
// Other member types are ignored.
type collectionGeometry struct{}

func (collectionGeometry) Name() string { return "GeometryCollection" }

func (collectionGeometry) Geometry(raw json.RawMessage) (Extraction, bool, error) {
	g, ok := geoJSONType(raw, "GeometryCollection")
	if !ok {
		return Extraction{}, false, nil
	}
	var ex Extraction
	for _, member := range g.Geometries {
		part, ok, err := (lineStringGeometry{}).Geometry(member)
		if !ok {
			continue
		}
		ex.merge(part, err)
	}
	return ex, true, nil
}

// positions decodes a GeoJSON position array, dropping unusable vertices
func positions(raw json.RawMessage) (Extraction, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return Extraction{}, fmt.Errorf("coordinates: %w", err)
	}
	ex := Extraction{Line: make(orb.LineString, 0, len(items))}
	for _, item := range items {
		var pos []*float64
		if err := json.Unmarshal(item, &pos); err != nil ||
			len(pos) < 2 || pos[0] == nil || pos[1] == nil || !finite(*pos[0]) || !finite(*pos[1]) {
			ex.Dropped++
			continue
		}
		ex.Line = append(ex.Line, orb.Point{*pos[0], *pos[1]})
	}
	return ex, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// hasTag reports whether the key is present with a non-blank value
func hasTag(tags map[string]string, key string) bool {
	return strings.TrimSpace(tags[key]) != ""
}
