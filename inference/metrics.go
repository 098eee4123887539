package inference

import (
	"sync"
	"time"
)

// Metrics tracks detection counts and latency of an engine. It is safe for
// concurrent use.
type Metrics struct {
	mu        sync.RWMutex
	images    int64
	failures  int64
	faces     int64
	totalTime time.Duration
}

// MetricsSnapshot is a point-in-time copy of the engine metrics.
type MetricsSnapshot struct {
	Images        int64   `json:"images"`
	Failures      int64   `json:"failures"`
	Faces         int64   `json:"faces"`
	TotalTimeMS   float64 `json:"total_time_ms"`
	AverageTimeMS float64 `json:"average_time_ms,omitempty"`
	ThroughputFPS float64 `json:"throughput_fps,omitempty"`
}

// observe records one detection call.
//
// Arguments:
//   - elapsed: Wall time spent on the image, preprocessing included.
//   - faces: The number of detections returned.
//   - err: The error of the call, if any.
func (m *Metrics) observe(elapsed time.Duration, faces int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.images++
	m.totalTime += elapsed
	if err != nil {
		m.failures++
		return
	}
	m.faces += int64(faces)
}

// Snapshot returns the current counters with derived averages.
//
// Returns:
//   - MetricsSnapshot: The counters. Averages are zero until an image is seen.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := MetricsSnapshot{
		Images:      m.images,
		Failures:    m.failures,
		Faces:       m.faces,
		TotalTimeMS: float64(m.totalTime.Nanoseconds()) / 1e6,
	}
	if m.images > 0 && m.totalTime > 0 {
		s.AverageTimeMS = s.TotalTimeMS / float64(m.images)
		s.ThroughputFPS = 1000.0 / s.AverageTimeMS
	}
	return s
}

// Reset clears all counters.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.images, m.failures, m.faces = 0, 0, 0
	m.totalTime = 0
}

// CollectMetrics returns the snapshot as named gauges for periodic reports.
func (m *Metrics) CollectMetrics() map[string]float64 {
	s := m.Snapshot()
	return map[string]float64{
		"images":          float64(s.Images),
		"failures":        float64(s.Failures),
		"faces":           float64(s.Faces),
		"average_time_ms": s.AverageTimeMS,
	}
}
