// Package profiler - Periodic runtime and detection reports for long-running
// processes such as the HTTP service and the webcam demo.
package profiler

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// MetricsCollector supplies named gauges sampled on every report.
type MetricsCollector interface {
	CollectMetrics() map[string]float64
}

// Options configures the profiler.
type Options struct {
	// ReportInterval is how often a report is logged. Defaults to 30s.
	ReportInterval time.Duration
	// Logger receives the reports. Nil uses the logrus standard logger.
	Logger logrus.FieldLogger
}

// OperationStats summarizes the timings of one named operation.
type OperationStats struct {
	Count int64
	Total time.Duration
	Min   time.Duration
	Max   time.Duration
}

// Average returns the mean duration, zero when nothing was recorded.
func (s OperationStats) Average() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Count)
}

// RuntimeProfiler tracks operation timings and logs periodic reports with
// memory, goroutine and collector figures. It is safe for concurrent use.
type RuntimeProfiler struct {
	interval time.Duration
	logger   logrus.FieldLogger

	mu         sync.RWMutex
	operations map[string]*OperationStats
	collectors []MetricsCollector
	lastGC     uint32
	started    time.Time
}

// NewRuntimeProfiler creates a profiler.
//
// Arguments:
//   - opts: The report interval and logger.
//
// Returns:
//   - *RuntimeProfiler: The profiler. Call Run to start reporting.
func NewRuntimeProfiler(opts Options) *RuntimeProfiler {
	if opts.ReportInterval <= 0 {
		opts.ReportInterval = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &RuntimeProfiler{
		interval:   opts.ReportInterval,
		logger:     opts.Logger,
		operations: make(map[string]*OperationStats),
		started:    time.Now(),
	}
}

// AddMetricsCollector registers a collector sampled on every report.
func (p *RuntimeProfiler) AddMetricsCollector(c MetricsCollector) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.collectors = append(p.collectors, c)
}

// StartOperation begins timing an operation.
//
// Arguments:
//   - name: The operation name.
//
// Returns:
//   - func(): Records the elapsed time when called.
func (p *RuntimeProfiler) StartOperation(name string) func() {
	start := time.Now()
	return func() { p.Record(name, time.Since(start)) }
}

// Record adds one timing of the named operation.
func (p *RuntimeProfiler) Record(name string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.operations[name]
	if !ok {
		s = &OperationStats{Min: d, Max: d}
		p.operations[name] = s
	}
	s.Count++
	s.Total += d
	if d < s.Min {
		s.Min = d
	}
	if d > s.Max {
		s.Max = d
	}
}

// Operation returns the statistics of the named operation.
func (p *RuntimeProfiler) Operation(name string) (OperationStats, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.operations[name]
	if !ok {
		return OperationStats{}, false
	}
	return *s, true
}

// Run logs a report every interval until ctx is done, then logs a final one.
func (p *RuntimeProfiler) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.Report()
			return
		case <-ticker.C:
			p.Report()
		}
	}
}

// Report logs one status report.
func (p *RuntimeProfiler) Report() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	p.mu.Lock()
	newGC := mem.NumGC - p.lastGC
	p.lastGC = mem.NumGC
	collectors := append([]MetricsCollector(nil), p.collectors...)
	names := make([]string, 0, len(p.operations))
	for name := range p.operations {
		names = append(names, name)
	}
	sort.Strings(names)
	ops := make([]OperationStats, len(names))
	for i, name := range names {
		ops[i] = *p.operations[name]
	}
	p.mu.Unlock()

	fields := logrus.Fields{
		"uptime":       time.Since(p.started).Truncate(time.Second).String(),
		"goroutines":   runtime.NumGoroutine(),
		"heap_alloc":   mem.HeapAlloc,
		"heap_objects": mem.HeapObjects,
		"gc_cycles":    newGC,
	}
	for _, c := range collectors {
		for name, v := range c.CollectMetrics() {
			fields[name] = v
		}
	}
	p.logger.WithFields(fields).Info("runtime report")

	for i, name := range names {
		p.logger.WithFields(logrus.Fields{
			"operation": name,
			"count":     ops[i].Count,
			"avg":       ops[i].Average().Truncate(time.Microsecond).String(),
			"min":       ops[i].Min.Truncate(time.Microsecond).String(),
			"max":       ops[i].Max.Truncate(time.Microsecond).String(),
		}).Info("operation timings")
	}
}
