package models

import "go.uber.org/atomic"

// Metrics stores cache and queue statistics.
type Metrics struct {
	Hits          *atomic.Int64
	StaleHits     *atomic.Int64
	Misses        *atomic.Int64
	Evictions     *atomic.Int64
	NetworkErrors *atomic.Int64
	Queued        *atomic.Int64
	Drained       *atomic.Int64
	DeadLettered  *atomic.Int64
}

func NewMetrics() *Metrics {
	return &Metrics{
		Hits:          atomic.NewInt64(0),
		StaleHits:     atomic.NewInt64(0),
		Misses:        atomic.NewInt64(0),
		Evictions:     atomic.NewInt64(0),
		NetworkErrors: atomic.NewInt64(0),
		Queued:        atomic.NewInt64(0),
		Drained:       atomic.NewInt64(0),
		DeadLettered:  atomic.NewInt64(0),
	}
}

// Stats is a point-in-time snapshot of Metrics.
type Stats struct {
	Hits          int64 `json:"hits"`
	StaleHits     int64 `json:"stale_hits"`
	Misses        int64 `json:"misses"`
	Evictions     int64 `json:"evictions"`
	NetworkErrors int64 `json:"network_errors"`
	Queued        int64 `json:"queued"`
	Drained       int64 `json:"drained"`
	DeadLettered  int64 `json:"dead_lettered"`
}

// Snapshot copies the current counter values.
func (m *Metrics) Snapshot() Stats {
	return Stats{
		Hits:          m.Hits.Load(),
		StaleHits:     m.StaleHits.Load(),
		Misses:        m.Misses.Load(),
		Evictions:     m.Evictions.Load(),
		NetworkErrors: m.NetworkErrors.Load(),
		Queued:        m.Queued.Load(),
		Drained:       m.Drained.Load(),
		DeadLettered:  m.DeadLettered.Load(),
	}
}
