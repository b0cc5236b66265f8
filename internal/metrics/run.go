package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Run holds the counters of one tiling run. All methods are safe on a nil
// receiver so callers need not check whether metrics are enabled.
type Run struct {
	reg           *prometheus.Registry
	queries       *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec
	tiles         *prometheus.CounterVec
	records       *prometheus.CounterVec
	features      prometheus.Counter
}

// NewRun creates run counters in a private registry
func NewRun() *Run {
	r := &Run{
		reg: prometheus.NewRegistry(),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "speedtiles_queries_total",
			Help: "Overpass queries issued, by tier and result",
		}, []string{"tier", "result"}),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "speedtiles_query_duration_ms",
			Help:    "Overpass query latency in milliseconds",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		}, []string{"tier"}),
		tiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "speedtiles_tiles_total",
			Help: "Tiles finished, by outcome",
		}, []string{"outcome"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "speedtiles_records_total",
			Help: "Input records seen, by outcome",
		}, []string{"outcome"}),
		features: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "speedtiles_features_written_total",
			Help: "Features appended to tiles",
		}),
	}
	r.reg.MustRegister(r.queries, r.queryDuration, r.tiles, r.records, r.features)
	return r
}

// Registry exposes the underlying registry
func (r *Run) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.reg
}

// ObserveQuery records one upstream query
func (r *Run) ObserveQuery(tier string, d time.Duration, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.queries.WithLabelValues(tier, result).Inc()
	r.queryDuration.WithLabelValues(tier).Observe(float64(d.Milliseconds()))
}

// TileFinished records a tile outcome and the features it received
func (r *Run) TileFinished(outcome string, features int) {
	if r == nil {
		return
	}
	r.tiles.WithLabelValues(outcome).Inc()
	r.features.Add(float64(features))
}

// Record counts one input record by outcome ("accepted" or a rejection reason)
func (r *Run) Record(outcome string) {
	if r == nil {
		return
	}
	r.records.WithLabelValues(outcome).Inc()
}

// Features counts features appended outside of TileFinished
func (r *Run) Features(n int) {
	if r == nil {
		return
	}
	r.features.Add(float64(n))
}

// WriteTextfile writes all counters in the node-exporter textfile format
func (r *Run) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.reg)
}
