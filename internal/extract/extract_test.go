package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wegman-software/speedtiles-go/internal/accumulator"
	"github.com/wegman-software/speedtiles-go/internal/feature"
	"github.com/wegman-software/speedtiles-go/internal/tile"
)

type memWriter struct {
	docs map[tile.Key][]byte
}

func (w *memWriter) WriteTile(_ context.Context, doc *feature.Document) error {
	if w.docs == nil {
		w.docs = make(map[tile.Key][]byte)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	w.docs[doc.Key()] = data
	return nil
}

func roadLine(id int, lon, lat float64) string {
	return fmt.Sprintf(`{"type":"Feature","id":"way/%d","properties":{"highway":"primary","maxspeed":"30 mph"},`+
		`"geometry":{"type":"LineString","coordinates":[[%f,%f],[%f,%f]]}}`,
		id, lon, lat, lon+0.01, lat+0.01)
}

func runExtract(t *testing.T, input string, chunkSize int) (Summary, map[tile.Key][]byte) {
	t.Helper()
	acc, err := accumulator.New(accumulator.Options{Zoom: 12, SpillDir: t.TempDir()})
	if err != nil {
		t.Fatalf("accumulator.New: %v", err)
	}
	defer acc.Close()

	r := NewRunner(feature.NewNormalizer(nil), nil, acc, nil, Options{ChunkSize: chunkSize})
	summary, err := r.Run(context.Background(), strings.NewReader(input))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	w := &memWriter{}
	at := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	if _, err := acc.Finalize(context.Background(), w, accumulator.FinalizeOptions{At: at}); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	return summary, w.docs
}

func TestLineSplitter(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		want   []string
	}{
		{"single chunk", []string{"a\nb\n"}, []string{"a", "b"}},
		{"split line", []string{"ab", "c\nd", "e\n"}, []string{"abc", "de"}},
		{"crlf", []string{"a\r\nb\r", "\n"}, []string{"a", "b"}},
		{"blank lines", []string{"\n\na\n  \n"}, []string{"a"}},
		{"unterminated", []string{"a\nb"}, []string{"a", "b"}},
		{"byte at a time", strings.Split("xy\nz", ""), []string{"xy", "z"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			s := NewLineSplitter(func(line []byte) error {
				got = append(got, string(line))
				return nil
			})
			for _, c := range tt.chunks {
				if _, err := s.Write([]byte(c)); err != nil {
					t.Fatalf("Write: %v", err)
				}
			}
			if err := s.Flush(); err != nil {
				t.Fatalf("Flush: %v", err)
			}
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("lines = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRunIsIndependentOfChunking(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 20; i++ {
		b.WriteString(roadLine(i, -0.1+float64(i)*0.03, 51.5))
		if i%3 == 0 {
			b.WriteString("\r\n")
		} else {
			b.WriteString("\n")
		}
	}
	b.WriteString("{broken\n")
	b.WriteString(roadLine(99, 2.35, 48.85)) // no trailing newline
	input := b.String()

	baseSummary, baseDocs := runExtract(t, input, len(input)+1)
	if baseSummary.ProcessedRecords != 21 || baseSummary.MalformedRecords != 1 {
		t.Fatalf("summary = %+v", baseSummary)
	}

	for _, size := range []int{1, 2, 7, 64, 1000} {
		t.Run(fmt.Sprintf("chunk %d", size), func(t *testing.T) {
			summary, docs := runExtract(t, input, size)
			if summary.ProcessedRecords != baseSummary.ProcessedRecords ||
				summary.TouchedTileCount != baseSummary.TouchedTileCount {
				t.Errorf("summary = %+v, want %+v", summary, baseSummary)
			}
			if len(docs) != len(baseDocs) {
				t.Fatalf("got %d tiles, want %d", len(docs), len(baseDocs))
			}
			for k, want := range baseDocs {
				if !bytes.Equal(docs[k], want) {
					t.Errorf("tile %s differs:\n%s\n%s", k, docs[k], want)
				}
			}
		})
	}
}

func TestRunCountsRejections(t *testing.T) {
	var lines []string
	for i := 0; i < 5; i++ {
		lines = append(lines, roadLine(i, 13.4, 52.5))
	}
	for i := 0; i < 3; i++ {
		lines = append(lines, fmt.Sprintf(`{"type":"Feature","id":"way/%d","properties":{"highway":"primary"}}`, 10+i))
	}
	lines = append(lines, `{"type":"Feature",`, `not json at all`)

	summary, docs := runExtract(t, strings.Join(lines, "\n")+"\n", 16)

	if summary.TotalRecords != 10 {
		t.Errorf("TotalRecords = %d, want 10", summary.TotalRecords)
	}
	if summary.ProcessedRecords != 5 {
		t.Errorf("ProcessedRecords = %d, want 5", summary.ProcessedRecords)
	}
	if summary.SkippedNoGeometry != 3 {
		t.Errorf("SkippedNoGeometry = %d, want 3", summary.SkippedNoGeometry)
	}
	if summary.MalformedRecords != 2 {
		t.Errorf("MalformedRecords = %d, want 2", summary.MalformedRecords)
	}
	if summary.Skipped() != 5 {
		t.Errorf("Skipped() = %d, want 5", summary.Skipped())
	}
	if summary.TouchedTileCount != len(docs) {
		t.Errorf("TouchedTileCount = %d, want %d", summary.TouchedTileCount, len(docs))
	}
	if len(summary.SampleTiles) == 0 || len(summary.SampleTiles) > sampleSize {
		t.Errorf("SampleTiles = %v", summary.SampleTiles)
	}
}

func TestRunSampleTilesBounded(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString(roadLine(i, -120+float64(i)*5, 10))
		b.WriteString("\n")
	}
	summary, _ := runExtract(t, b.String(), 0)
	if len(summary.SampleTiles) != sampleSize {
		t.Errorf("len(SampleTiles) = %d, want %d", len(summary.SampleTiles), sampleSize)
	}
	seen := make(map[tile.Key]bool)
	for _, k := range summary.SampleTiles {
		if seen[k] {
			t.Errorf("duplicate sample tile %s", k)
		}
		seen[k] = true
	}
}

func TestRunStopsWhenCancelled(t *testing.T) {
	acc, err := accumulator.New(accumulator.Options{Zoom: 12, SpillDir: t.TempDir()})
	if err != nil {
		t.Fatalf("accumulator.New: %v", err)
	}
	defer acc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRunner(feature.NewNormalizer(nil), nil, acc, nil, Options{})
	summary, err := r.Run(ctx, strings.NewReader(roadLine(1, 0, 0)+"\n"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !summary.Interrupted || summary.TotalRecords != 0 {
		t.Errorf("summary = %+v, want interrupted with no records", summary)
	}
}

func TestSummaryWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.json")
	s := Summary{TotalRecords: 3, ProcessedRecords: 2, MalformedRecords: 1,
		SampleTiles: []tile.Key{{Z: 12, X: 1, Y: 2}}}
	if err := s.WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]interface{}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("invalid summary JSON: %v", err)
	}
	for _, key := range []string{"totalRecords", "processedRecords", "skippedNoGeometry",
		"skippedBadGeometry", "skippedNoTags", "malformedRecords", "touchedTileCount", "sampleTiles"} {
		if _, ok := got[key]; !ok {
			t.Errorf("summary missing %q", key)
		}
	}
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.ndjson")
	if err := os.WriteFile(path, []byte(roadLine(1, 0, 0)+"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	s, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}

	if _, err := OpenFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing input")
	}
}

func TestOpenCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.ndjson")
	input := roadLine(1, 0, 0) + "\n" + roadLine(2, 0.5, 0.5) + "\n"
	if err := os.WriteFile(path, []byte(input), 0644); err != nil {
		t.Fatal(err)
	}

	t.Run("streams stdout", func(t *testing.T) {
		s, err := OpenCommand(context.Background(), "cat", path)
		if err != nil {
			t.Fatalf("OpenCommand: %v", err)
		}
		var out bytes.Buffer
		if _, err := out.ReadFrom(s); err != nil {
			t.Fatalf("read: %v", err)
		}
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
		if out.String() != input {
			t.Errorf("output = %q, want %q", out.String(), input)
		}
	})

	t.Run("non-zero exit", func(t *testing.T) {
		s, err := OpenCommand(context.Background(), "false", path)
		if err != nil {
			t.Fatalf("OpenCommand: %v", err)
		}
		if err := s.Close(); err == nil {
			t.Error("expected error for failing converter")
		}
	})

	t.Run("empty command", func(t *testing.T) {
		if _, err := OpenCommand(context.Background(), "  ", path); err == nil {
			t.Error("expected error for empty command")
		}
	})
}
