// Package feature normalizes roadway records from every supported upstream
// shape (query-service elements and GeoJSON export variants) into Record.
package feature

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wegman-software/speedtiles-go/internal/speed"
)

// Reason classifies why a record was not emitted
type Reason string

const (
	ReasonNoGeometry  Reason = "no-geometry"
	ReasonBadGeometry Reason = "bad-geometry"
	ReasonNoTags      Reason = "no-tags"
)

// Rejection is returned for records that are skipped rather than failed
type Rejection struct {
	Reason Reason
	Detail string
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return string(r.Reason)
	}
	return fmt.Sprintf("%s: %s", r.Reason, r.Detail)
}

func reject(reason Reason, format string, args ...interface{}) *Rejection {
	return &Rejection{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// ErrMalformed wraps records that are not valid JSON objects
var ErrMalformed = errors.New("malformed record")

// AsRejection extracts a rejection from err
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

// Normalizer converts raw upstream records into canonical records
type Normalizer struct {
	resolver   *speed.Resolver
	tagShapes  []TagShape
	geomShapes []GeometryShape
}

// NewNormalizer creates a normalizer with the default shape lists
func NewNormalizer(resolver *speed.Resolver) *Normalizer {
	if resolver == nil {
		resolver = speed.NewResolver()
	}
	return &Normalizer{
		resolver:   resolver,
		tagShapes:  DefaultTagShapes(),
		geomShapes: DefaultGeometryShapes(),
	}
}

// Normalize converts one raw JSON record.
// It returns a *Rejection for records that are skipped and an error wrapping
// ErrMalformed for records that cannot be decoded at all.
func (n *Normalizer) Normalize(raw []byte) (*Record, error) {
	env, err := decodeEnvelope(raw)
	if err != nil {
		return nil, err
	}

	tags := n.tags(env)
	if !hasTag(tags, "highway") && !hasTag(tags, "maxspeed") {
		return nil, reject(ReasonNoTags, "neither highway nor maxspeed present")
	}

	ex, rej := n.geometry(env.Geometry)
	if rej != nil {
		return nil, rej
	}

	rec := &Record{
		ID:       identifier(env),
		Highway:  optional(tags, "highway"),
		Maxspeed: optional(tags, "maxspeed"),
		Geometry: ex.Line,
	}
	rec.SpeedMph = n.resolver.Resolve(rec.Maxspeed, rec.Highway)
	return rec, nil
}

func decodeEnvelope(raw []byte) (*envelope, error) {
	raw = bytes.TrimSpace(raw)
	if !isObject(raw) {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformed)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if isObject(env.Properties) {
		if err := json.Unmarshal(env.Properties, &env.props); err != nil {
			return nil, fmt.Errorf("%w: properties: %v", ErrMalformed, err)
		}
	}
	return &env, nil
}

// tags returns the first tag layout that matches, or nil
func (n *Normalizer) tags(env *envelope) map[string]string {
	for _, shape := range n.tagShapes {
		if tags, ok := shape.Tags(env); ok {
			return tags
		}
	}
	return nil
}

// geometry returns the first geometry layout that matches
func (n *Normalizer) geometry(raw json.RawMessage) (Extraction, *Rejection) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Extraction{}, reject(ReasonNoGeometry, "geometry missing")
	}

	for _, shape := range n.geomShapes {
		ex, ok, err := shape.Geometry(raw)
		if !ok {
			continue
		}
		if err != nil {
			return Extraction{}, reject(ReasonBadGeometry, "%s: %v", shape.Name(), err)
		}
		if len(ex.Line) == 0 {
			if ex.Dropped > 0 {
				return Extraction{}, reject(ReasonBadGeometry, "%s: all %d vertices unusable", shape.Name(), ex.Dropped)
			}
			return Extraction{}, reject(ReasonNoGeometry, "%s: no vertices", shape.Name())
		}
		return ex, nil
	}

	return Extraction{}, reject(ReasonBadGeometry, "unsupported geometry")
}

// identifier picks the element id, then properties.@id, then properties.id
func identifier(env *envelope) json.RawMessage {
	candidates := []json.RawMessage{env.ID}
	if env.props != nil {
		candidates = append(candidates, env.props["@id"], env.props["id"])
	}
	for _, c := range candidates {
		c = bytes.TrimSpace(c)
		if len(c) > 0 && !bytes.Equal(c, []byte("null")) {
			return append(json.RawMessage(nil), c...)
		}
	}
	return nil
}

func optional(tags map[string]string, key string) *string {
	v, ok := tags[key]
	if !ok || v == "" {
		return nil
	}
	return &v
}
