package metrics

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tabgate/tabgate/types"
	"github.com/tabgate/tabgate/utils"
)

// MemoryMetrics keeps all series in process memory. It is the default backend
// for single-instance deployments where nothing scrapes the gateway; the
// admin /metrics endpoint serves the JSON snapshot from GetMetrics.
type MemoryMetrics struct {
	ctx        context.Context
	logger     types.Logger
	counters   map[string]*memoryCounter
	gauges     map[string]*memoryGauge
	histograms map[string]*memoryHistogram
	mu         sync.RWMutex
	running    int32
}

func NewMemoryMetrics(ctx context.Context, logger types.Logger, config *types.MetricsConfig) (types.MetricsManager, error) {
	return &MemoryMetrics{
		ctx:        ctx,
		logger:     logger,
		counters:   make(map[string]*memoryCounter),
		gauges:     make(map[string]*memoryGauge),
		histograms: make(map[string]*memoryHistogram),
	}, nil
}

func (m *MemoryMetrics) Start() error {
	if !atomic.CompareAndSwapInt32(&m.running, 0, 1) {
		return types.ErrComponentAlreadyRunning
	}

	m.logger.Info("Memory metrics started")
	return nil
}

func (m *MemoryMetrics) Stop() error {
	if !atomic.CompareAndSwapInt32(&m.running, 1, 0) {
		return types.ErrComponentNotRunning
	}

	m.logger.Info("Memory metrics stopped")
	return nil
}

func (m *MemoryMetrics) IsRunning() bool {
	return atomic.LoadInt32(&m.running) == 1
}

func (m *MemoryMetrics) Counter(name string, labels map[string]string) types.Counter {
	key := seriesKey(name, labels)

	m.mu.RLock()
	counter, exists := m.counters[key]
	m.mu.RUnlock()
	if exists {
		return counter
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if counter, exists = m.counters[key]; exists {
		return counter
	}

	counter = &memoryCounter{name: name, labels: copyLabels(labels)}
	m.counters[key] = counter
	return counter
}

func (m *MemoryMetrics) Gauge(name string, labels map[string]string) types.Gauge {
	key := seriesKey(name, labels)

	m.mu.RLock()
	gauge, exists := m.gauges[key]
	m.mu.RUnlock()
	if exists {
		return gauge
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if gauge, exists = m.gauges[key]; exists {
		return gauge
	}

	gauge = &memoryGauge{name: name, labels: copyLabels(labels)}
	m.gauges[key] = gauge
	return gauge
}

func (m *MemoryMetrics) Histogram(name string, buckets []float64, labels map[string]string) types.Histogram {
	key := seriesKey(name, labels)

	m.mu.RLock()
	histogram, exists := m.histograms[key]
	m.mu.RUnlock()
	if exists {
		return histogram
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if histogram, exists = m.histograms[key]; exists {
		return histogram
	}

	histogram = &memoryHistogram{name: name, labels: copyLabels(labels)}
	m.histograms[key] = histogram
	return histogram
}

func (m *MemoryMetrics) GetMetrics() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	metrics := make([]types.MetricValue, 0, len(m.counters)+len(m.gauges)+len(m.histograms))

	for _, counter := range m.counters {
		metrics = append(metrics, types.MetricValue{
			Name:      counter.name,
			Type:      "counter",
			Value:     counter.Get(),
			Labels:    counter.labels,
			Timestamp: now,
		})
	}
	for _, gauge := range m.gauges {
		metrics = append(metrics, types.MetricValue{
			Name:      gauge.name,
			Type:      "gauge",
			Value:     gauge.Get(),
			Labels:    gauge.labels,
			Timestamp: now,
		})
	}
	for _, histogram := range m.histograms {
		metrics = append(metrics, types.MetricValue{
			Name:      histogram.name,
			Type:      "histogram",
			Value:     histogram.GetSum(),
			Labels:    histogram.labels,
			Timestamp: now,
		})
	}

	sort.Slice(metrics, func(i, j int) bool { return metrics[i].Name < metrics[j].Name })

	return utils.Marshal(metrics)
}

func (m *MemoryMetrics) GetStats() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := types.MetricsStats{
		TotalMetrics:     len(m.counters) + len(m.gauges) + len(m.histograms),
		CounterMetrics:   len(m.counters),
		GaugeMetrics:     len(m.gauges),
		HistogramMetrics: len(m.histograms),
		LastUpdate:       time.Now(),
	}

	return utils.Marshal(stats)
}

func seriesKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(name)
	for _, k := range keys {
		sb.WriteByte('{')
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(labels[k])
		sb.WriteByte('}')
	}
	return sb.String()
}

func copyLabels(labels map[string]string) map[string]string {
	if labels == nil {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

type memoryCounter struct {
	name   string
	labels map[string]string
	value  float64
	mu     sync.Mutex
}

func (c *memoryCounter) Inc() {
	c.Add(1)
}

func (c *memoryCounter) Add(value float64) {
	if value < 0 {
		return
	}
	c.mu.Lock()
	c.value += value
	c.mu.Unlock()
}

func (c *memoryCounter) Get() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

type memoryGauge struct {
	name   string
	labels map[string]string
	value  float64
	mu     sync.Mutex
}

func (g *memoryGauge) Set(value float64) {
	g.mu.Lock()
	g.value = value
	g.mu.Unlock()
}

func (g *memoryGauge) Inc() { g.Add(1) }
func (g *memoryGauge) Dec() { g.Sub(1) }

func (g *memoryGauge) Add(value float64) {
	g.mu.Lock()
	g.value += value
	g.mu.Unlock()
}

func (g *memoryGauge) Sub(value float64) {
	g.mu.Lock()
	g.value -= value
	g.mu.Unlock()
}

func (g *memoryGauge) Get() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

type memoryHistogram struct {
	name   string
	labels map[string]string
	count  uint64
	sum    float64
	mu     sync.Mutex
}

func (h *memoryHistogram) Observe(value float64) {
	h.mu.Lock()
	h.count++
	h.sum += value
	h.mu.Unlock()
}

func (h *memoryHistogram) ObserveDuration(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

func (h *memoryHistogram) GetCount() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func (h *memoryHistogram) GetSum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}
