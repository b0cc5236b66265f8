package feature

import (
	"testing"

	"github.com/paulmach/orb"
)

func TestSimplifier(t *testing.T) {
	// Middle vertex sits about 1 m off the straight line
	line := orb.LineString{{0, 0}, {0.005, 0.000009}, {0.01, 0}}

	rec := &Record{Geometry: line.Clone()}
	NewSimplifier(5).Apply(rec)
	want := orb.LineString{{0, 0}, {0.01, 0}}
	if !rec.Geometry.Equal(want) {
		t.Errorf("5 m tolerance: Geometry = %v, want %v", rec.Geometry, want)
	}

	rec = &Record{Geometry: line.Clone()}
	NewSimplifier(0.1).Apply(rec)
	if !rec.Geometry.Equal(line) {
		t.Errorf("0.1 m tolerance: Geometry = %v, want %v", rec.Geometry, line)
	}
}

func TestNilSimplifier(t *testing.T) {
	s := NewSimplifier(0)
	if s != nil {
		t.Fatal("zero tolerance should disable simplification")
	}

	line := orb.LineString{{0, 0}, {1, 1}, {2, 0}}
	rec := &Record{Geometry: line.Clone()}
	s.Apply(rec)
	if !rec.Geometry.Equal(line) {
		t.Errorf("Geometry = %v, want %v", rec.Geometry, line)
	}
}
