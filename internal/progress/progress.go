// Package progress computes rates and ETAs for run progress logging
package progress

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Tracker counts completed units of work against an optional total
type Tracker struct {
	total     int64
	done      atomic.Int64
	startTime time.Time
}

// NewTracker creates a tracker; total may be zero when unknown
func NewTracker(total int64) *Tracker {
	return &Tracker{
		total:     total,
		startTime: time.Now(),
	}
}

// Add records n completed units and returns the new count
func (t *Tracker) Add(n int64) int64 {
	return t.done.Add(n)
}

// Snapshot holds current progress information
type Snapshot struct {
	Current    int64
	Total      int64
	Percentage float64
	Elapsed    time.Duration
	ETA        time.Duration
	Throughput float64 // units per second
}

// Snapshot returns the current progress metrics
func (t *Tracker) Snapshot() Snapshot {
	current := t.done.Load()
	elapsed := time.Since(t.startTime)

	var percentage float64
	var eta time.Duration
	if t.total > 0 && current > 0 {
		percentage = float64(current) / float64(t.total) * 100
		if percentage < 100 {
			perUnit := elapsed / time.Duration(current)
			eta = perUnit * time.Duration(t.total-current)
		}
	}

	var throughput float64
	if elapsed.Seconds() > 0 {
		throughput = float64(current) / elapsed.Seconds()
	}

	return Snapshot{
		Current:    current,
		Total:      t.total,
		Percentage: percentage,
		Elapsed:    elapsed.Round(time.Second),
		ETA:        eta.Round(time.Second),
		Throughput: throughput,
	}
}

// FormatETA formats the ETA duration in a human-readable format
func FormatETA(d time.Duration) string {
	if d <= 0 {
		return "calculating..."
	}

	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// FormatThroughput formats throughput as human-readable items per second
func FormatThroughput(itemsPerSec float64) string {
	if itemsPerSec >= 1_000_000 {
		return fmt.Sprintf("%.1fM/s", itemsPerSec/1_000_000)
	}
	if itemsPerSec >= 1_000 {
		return fmt.Sprintf("%.1fK/s", itemsPerSec/1_000)
	}
	return fmt.Sprintf("%.0f/s", itemsPerSec)
}

// FormatBytes formats bytes in a human-readable format
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
