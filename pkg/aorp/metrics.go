package aorp

// MetricView exposes bucketed per-neighbor metrics. Neighbors without a
// recorded tag are treated as TagMedium.
type MetricView interface {
	LatencyOf(id NeighborID) Tag
	BandwidthOf(id NeighborID) Tag
}

// staticMetrics is a map-backed MetricView.
type staticMetrics struct {
	latency   map[NeighborID]Tag
	bandwidth map[NeighborID]Tag
}

func (m *staticMetrics) LatencyOf(id NeighborID) Tag {
	if t, ok := m.latency[id]; ok {
		return t
	}
	return TagMedium
}

func (m *staticMetrics) BandwidthOf(id NeighborID) Tag {
	if t, ok := m.bandwidth[id]; ok {
		return t
	}
	return TagMedium
}

// MetricsBuilder assembles a static MetricView.
type MetricsBuilder struct {
	m staticMetrics
}

// NewMetrics starts an empty metrics builder; Build on an empty builder
// yields a view that reports TagMedium for everything.
func NewMetrics() *MetricsBuilder {
	return &MetricsBuilder{m: staticMetrics{
		latency:   make(map[NeighborID]Tag),
		bandwidth: make(map[NeighborID]Tag),
	}}
}

// Latency records a latency tag for a neighbor.
func (b *MetricsBuilder) Latency(id NeighborID, t Tag) *MetricsBuilder {
	b.m.latency[id] = t
	return b
}

// Bandwidth records a bandwidth tag for a neighbor.
func (b *MetricsBuilder) Bandwidth(id NeighborID, t Tag) *MetricsBuilder {
	b.m.bandwidth[id] = t
	return b
}

// Build returns the immutable view.
func (b *MetricsBuilder) Build() MetricView {
	return &staticMetrics{latency: b.m.latency, bandwidth: b.m.bandwidth}
}
