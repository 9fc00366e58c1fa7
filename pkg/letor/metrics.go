package letor

import "sync"

// ScalarMetric is a named weighted scalar: Sum accumulates value*weight,
// Count accumulates weights, Mean reports the weighted mean. Used for both
// training diagnostics (loss, accuracy) and validation measures.
type ScalarMetric struct {
	Key   string  `json:"key"`
	Sum   float64 `json:"sum"`
	Count float64 `json:"count"`
}

// Mean returns the weighted mean, or 0 for an empty metric.
func (m ScalarMetric) Mean() float64 {
	if m.Count == 0 {
		return 0
	}
	return m.Sum / m.Count
}

// Metrics aggregates scalar metrics by key, preserving first-seen order.
// Safe for concurrent readers (the monitor endpoint) alongside the single
// training writer.
type Metrics struct {
	mu    sync.RWMutex
	order []string
	items map[string]*ScalarMetric
}

// NewMetrics returns an empty aggregator.
func NewMetrics() *Metrics {
	return &Metrics{items: make(map[string]*ScalarMetric)}
}

// Add accumulates value with the given weight under key.
func (ms *Metrics) Add(key string, value, weight float64) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	m, ok := ms.items[key]
	if !ok {
		m = &ScalarMetric{Key: key}
		ms.items[key] = m
		ms.order = append(ms.order, key)
	}
	m.Sum += value * weight
	m.Count += weight
}

// Mean returns the weighted mean for key.
func (ms *Metrics) Mean(key string) (float64, bool) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	m, ok := ms.items[key]
	if !ok {
		return 0, false
	}
	return m.Mean(), true
}

// Snapshot returns copies of all metrics in first-seen order.
func (ms *Metrics) Snapshot() []ScalarMetric {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	out := make([]ScalarMetric, 0, len(ms.order))
	for _, key := range ms.order {
		out = append(out, *ms.items[key])
	}
	return out
}

// Reset clears all accumulated metrics.
func (ms *Metrics) Reset() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.order = ms.order[:0]
	ms.items = make(map[string]*ScalarMetric)
}
