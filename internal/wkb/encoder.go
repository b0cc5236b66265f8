// Package wkb writes road geometries as PostGIS extended WKB
package wkb

import (
	"encoding/binary"
	"math"

	"github.com/paulmach/orb"
)

const (
	typePoint      = 1
	typeLineString = 2

	// sridFlag marks an EWKB header that carries an SRID
	sridFlag = 0x20000000
)

// SRID4326 is WGS84, the only reference system road records use
const SRID4326 = 4326

// Encoder appends little-endian EWKB into a reusable buffer.
// The returned slices alias the buffer and are valid until the next call.
type Encoder struct {
	buf  []byte
	srid uint32
}

// NewEncoder creates an encoder for SRID 4326
func NewEncoder(initialSize int) *Encoder {
	return &Encoder{
		buf:  make([]byte, 0, initialSize),
		srid: SRID4326,
	}
}

// Geometry encodes a road geometry.
// A single vertex is written as a Point because a one-vertex LineString is
// not valid in PostGIS.
func (e *Encoder) Geometry(ls orb.LineString) []byte {
	if len(ls) == 1 {
		return e.Point(ls[0])
	}
	return e.LineString(ls)
}

// Point encodes a point as EWKB
func (e *Encoder) Point(p orb.Point) []byte {
	e.header(typePoint, 25)
	e.appendFloat64(p.Lon())
	e.appendFloat64(p.Lat())
	return e.buf
}

// LineString encodes a linestring as EWKB with (lon, lat) ordinates
func (e *Encoder) LineString(ls orb.LineString) []byte {
	e.header(typeLineString, 13+len(ls)*16)
	e.appendUint32(uint32(len(ls)))
	for _, p := range ls {
		e.appendFloat64(p.Lon())
		e.appendFloat64(p.Lat())
	}
	return e.buf
}

// header resets the buffer and writes byte order, flagged type and SRID
func (e *Encoder) header(typ uint32, size int) {
	if cap(e.buf) < size {
		e.buf = make([]byte, 0, size)
	}
	e.buf = e.buf[:0]
	e.buf = append(e.buf, 0x01)
	e.appendUint32(typ | sridFlag)
	e.appendUint32(e.srid)
}

func (e *Encoder) appendUint32(v uint32) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
}

func (e *Encoder) appendFloat64(v float64) {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, math.Float64bits(v))
}
