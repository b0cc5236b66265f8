package metrics

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"

	"github.com/wegman-software/speedtiles-go/internal/progress"
)

// DefaultInterval is used when a collector is created with a shorter interval
const DefaultInterval = 30 * time.Second

// Sample is one reading of host and process resource usage
type Sample struct {
	SystemCPU   float64 // 0-100
	ProcessCPU  float64 // per core, can exceed 100 on multi-core hosts
	MemPercent  float64
	MemUsed     uint64
	MemTotal    uint64
	ProcessRSS  uint64
	OpenFiles   int // -1 when the platform does not report it
	CollectedAt time.Time
}

// Collector samples resource usage while a run is in progress. Spill files
// and the node index make RSS and open descriptors the numbers worth watching.
type Collector struct {
	interval time.Duration
	logger   *zap.Logger
	proc     *process.Process

	rss       prometheus.Gauge
	sysCPU    prometheus.Gauge
	openFiles prometheus.Gauge

	mu   sync.RWMutex
	last *Sample
}

// NewCollector creates a collector. When run is non-nil the latest sample is
// also exported as gauges in its registry.
func NewCollector(interval time.Duration, logger *zap.Logger, run *Run) *Collector {
	if interval < time.Second {
		interval = DefaultInterval
	}

	proc, _ := process.NewProcess(int32(os.Getpid()))

	c := &Collector{
		interval: interval,
		logger:   logger,
		proc:     proc,
		rss: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "speedtiles_process_resident_bytes",
			Help: "Resident set size at the last sample",
		}),
		sysCPU: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "speedtiles_system_cpu_percent",
			Help: "System-wide CPU usage at the last sample",
		}),
		openFiles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "speedtiles_process_open_files",
			Help: "Open file descriptors at the last sample",
		}),
	}
	if reg := run.Registry(); reg != nil {
		reg.MustRegister(c.rss, c.sysCPU, c.openFiles)
	}
	return c
}

// Start samples every interval until ctx is cancelled
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.log(c.Collect())

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("Resource sampling stopped")
			return
		case <-ticker.C:
			c.log(c.Collect())
		}
	}
}

// Last returns the most recent sample, or nil before the first one
func (c *Collector) Last() *Sample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// Collect takes a sample now. Readings the platform refuses are left zero.
func (c *Collector) Collect() *Sample {
	s := &Sample{CollectedAt: time.Now(), OpenFiles: -1}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		s.SystemCPU = pct[0]
	}
	if vmem, err := mem.VirtualMemory(); err == nil {
		s.MemPercent = vmem.UsedPercent
		s.MemUsed = vmem.Used
		s.MemTotal = vmem.Total
	}
	if c.proc != nil {
		if pct, err := c.proc.Percent(0); err == nil {
			s.ProcessCPU = pct
		}
		if info, err := c.proc.MemoryInfo(); err == nil {
			s.ProcessRSS = info.RSS
		}
		if n, err := c.proc.NumFDs(); err == nil {
			s.OpenFiles = int(n)
		}
	}

	c.rss.Set(float64(s.ProcessRSS))
	c.sysCPU.Set(s.SystemCPU)
	if s.OpenFiles >= 0 {
		c.openFiles.Set(float64(s.OpenFiles))
	}

	c.mu.Lock()
	c.last = s
	c.mu.Unlock()
	return s
}

func (c *Collector) log(s *Sample) {
	c.logger.Info("Resource usage",
		zap.Float64("sys_cpu", s.SystemCPU),
		zap.Float64("proc_cpu", s.ProcessCPU),
		zap.Float64("mem_pct", s.MemPercent),
		zap.String("mem_used", progress.FormatBytes(int64(s.MemUsed))),
		zap.String("rss", progress.FormatBytes(int64(s.ProcessRSS))),
		zap.Int("open_files", s.OpenFiles),
	)
}
