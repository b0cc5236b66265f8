package extract

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/wegman-software/speedtiles-go/internal/tile"
)

// sampleSize is the number of touched tiles listed in a summary
const sampleSize = 10

// Summary is the diagnostic document of a bulk run
type Summary struct {
	TotalRecords       int        `json:"totalRecords"`
	ProcessedRecords   int        `json:"processedRecords"`
	SkippedNoGeometry  int        `json:"skippedNoGeometry"`
	SkippedBadGeometry int        `json:"skippedBadGeometry"`
	SkippedNoTags      int        `json:"skippedNoTags"`
	MalformedRecords   int        `json:"malformedRecords"`
	TouchedTileCount   int        `json:"touchedTileCount"`
	SampleTiles        []tile.Key `json:"sampleTiles"`
	Interrupted        bool       `json:"interrupted"`
}

// Skipped returns the number of records that were not accumulated
func (s *Summary) Skipped() int {
	return s.SkippedNoGeometry + s.SkippedBadGeometry + s.SkippedNoTags + s.MalformedRecords
}

// WriteFile writes the summary as indented JSON
func (s *Summary) WriteFile(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}
