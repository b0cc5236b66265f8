package accumulator

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"github.com/wegman-software/speedtiles-go/internal/feature"
	"github.com/wegman-software/speedtiles-go/internal/tile"
)

type memWriter struct {
	docs map[tile.Key]*feature.Document
	keys []tile.Key
}

func (w *memWriter) WriteTile(_ context.Context, doc *feature.Document) error {
	if w.docs == nil {
		w.docs = make(map[tile.Key]*feature.Document)
	}
	w.docs[doc.Key()] = doc
	w.keys = append(w.keys, doc.Key())
	return nil
}

func newAccumulator(t *testing.T, zoom, maxOpen int) *Accumulator {
	t.Helper()
	a, err := New(Options{Zoom: zoom, SpillDir: t.TempDir(), MaxOpenFiles: maxOpen})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func center(x, y, z int) orb.Point {
	return tile.TileToBBox(x, y, z).Center()
}

func record(id string, pts ...orb.Point) *feature.Record {
	hw := "residential"
	mph := 30
	return &feature.Record{
		ID:       json.RawMessage(`"` + id + `"`),
		SpeedMph: &mph,
		Highway:  &hw,
		Geometry: orb.LineString(pts),
	}
}

func TestAddAssignsToEveryTouchedTile(t *testing.T) {
	a := newAccumulator(t, 13, 0)

	rec := record("w1", center(100, 200, 13), center(101, 200, 13))
	keys, err := a.Add(rec)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 touched tiles, got %v", keys)
	}

	w := &memWriter{}
	stats, err := a.Finalize(context.Background(), w, FinalizeOptions{})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if stats.Tiles != 2 || stats.Features != 2 {
		t.Errorf("stats = %+v, want 2 tiles 2 features", stats)
	}

	a1 := w.docs[tile.Key{Z: 13, X: 100, Y: 200}]
	a2 := w.docs[tile.Key{Z: 13, X: 101, Y: 200}]
	if a1 == nil || a2 == nil {
		t.Fatalf("missing documents: %v", w.keys)
	}
	if len(a1.Features) != 1 || len(a2.Features) != 1 {
		t.Fatalf("features = %d/%d, want 1/1", len(a1.Features), len(a2.Features))
	}

	b1, _ := json.Marshal(a1.Features[0])
	b2, _ := json.Marshal(a2.Features[0])
	if string(b1) != string(b2) {
		t.Errorf("records differ:\n%s\n%s", b1, b2)
	}
}

func TestAddDoesNotDeduplicate(t *testing.T) {
	a := newAccumulator(t, 13, 0)
	rec := record("w1", center(100, 200, 13))

	for i := 0; i < 2; i++ {
		if _, err := a.Add(rec); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if got := a.FeatureCount(tile.Key{Z: 13, X: 100, Y: 200}); got != 2 {
		t.Errorf("FeatureCount = %d, want 2", got)
	}
}

func TestFinalizePreservesAppendOrder(t *testing.T) {
	// A single open handle forces every append after the first to reopen
	a := newAccumulator(t, 10, 1)

	k1 := tile.Key{Z: 10, X: 3, Y: 4}
	k2 := tile.Key{Z: 10, X: 5, Y: 6}
	ids := []string{"a", "b", "c", "d", "e", "f"}
	for i, id := range ids {
		k := k1
		if i%2 == 1 {
			k = k2
		}
		if _, err := a.Add(record(id, center(k.X, k.Y, k.Z))); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	w := &memWriter{}
	if _, err := a.Finalize(context.Background(), w, FinalizeOptions{}); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	want := map[tile.Key][]string{
		k1: {`"a"`, `"c"`, `"e"`},
		k2: {`"b"`, `"d"`, `"f"`},
	}
	for k, ids := range want {
		doc := w.docs[k]
		if doc == nil {
			t.Fatalf("missing document for %s", k)
		}
		if len(doc.Features) != len(ids) {
			t.Fatalf("%s has %d features, want %d", k, len(doc.Features), len(ids))
		}
		for i, id := range ids {
			if string(doc.Features[i].ID) != id {
				t.Errorf("%s feature %d = %s, want %s", k, i, doc.Features[i].ID, id)
			}
		}
	}
}

func TestTouchProducesEmptyDocument(t *testing.T) {
	a := newAccumulator(t, 12, 0)
	k := tile.Key{Z: 12, X: 1, Y: 2}
	a.Touch(k)

	w := &memWriter{}
	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	if _, err := a.Finalize(context.Background(), w, FinalizeOptions{At: at, WithBBox: true}); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	doc := w.docs[k]
	if doc == nil {
		t.Fatal("empty tile should still be written")
	}
	if doc.Features == nil || len(doc.Features) != 0 {
		t.Errorf("Features = %v, want empty", doc.Features)
	}
	if doc.BBox == nil {
		t.Error("BBox should be set")
	}
	if !doc.FetchedAt.Equal(at) {
		t.Errorf("FetchedAt = %v, want %v", doc.FetchedAt, at)
	}
}

func TestKeysSorted(t *testing.T) {
	a := newAccumulator(t, 5, 0)
	for _, k := range []tile.Key{{Z: 5, X: 3, Y: 1}, {Z: 5, X: 1, Y: 9}, {Z: 5, X: 1, Y: 2}} {
		a.Touch(k)
	}

	keys := a.Keys()
	want := []tile.Key{{Z: 5, X: 1, Y: 2}, {Z: 5, X: 1, Y: 9}, {Z: 5, X: 3, Y: 1}}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("Keys()[%d] = %s, want %s", i, keys[i], want[i])
		}
	}
}

func TestCloseRemovesSpillDirectory(t *testing.T) {
	a, err := New(Options{Zoom: 10, SpillDir: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := a.Add(record("w1", orb.Point{1, 1})); err != nil {
		t.Fatalf("Add: %v", err)
	}

	dir := a.dir
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("spill directory still exists: %v", err)
	}
	if _, err := a.Add(record("w2", orb.Point{1, 1})); err == nil {
		t.Error("Add after Close should fail")
	}
}

func TestAddIgnoresVerticesOffGrid(t *testing.T) {
	a := newAccumulator(t, 4, 0)

	keys, err := a.Add(record("polar", orb.Point{10, 89.9}, orb.Point{180, 10}))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if len(keys) != 0 || a.Count() != 0 {
		t.Errorf("off-grid vertices touched %v", keys)
	}
}
