// Package stats owns the process-wide counter surface (spec §3's Counters
// and Health state) and the two periodic observability loops that read it
// (C7). Counters live for the process lifetime and are updated from any
// flow goroutine through atomic operations — never module-level plain
// variables, per the design's "global mutable counters" note.
package stats

import "go.uber.org/atomic"

// Counters is the single owned statistics object every flow and every
// reporter shares. Zero value is ready to use.
type Counters struct {
	// Reset each report window (C7 traffic reporter).
	TrafficUp   atomic.Uint64
	TrafficDown atomic.Uint64

	// Never reset. ActiveConnections rises and falls with admitted flows;
	// the others only grow.
	ActiveConnections  atomic.Int64
	SuccessConnections atomic.Uint64
	FailedConnections  atomic.Uint64
	TimeoutConnections atomic.Uint64
	BufferOverflows    atomic.Uint64
	DrainOperations    atomic.Uint64

	// Lifetime totals, never reset, backing the "total_bytes" derived
	// counter independently of the windowed traffic_up/traffic_down.
	TotalUp   atomic.Uint64
	TotalDown atomic.Uint64

	// Derived, written only by the traffic reporter goroutine.
	PeakSpeedKBps atomic.Float64
	AvgSpeedKBps  atomic.Float64

	// Health state (spec §3/§4.7). HealthFailures has a single writer (the
	// health monitor); Degraded is read by many, written by one.
	HealthFailures atomic.Int64
	Degraded       atomic.Bool
}

// AddUp records n bytes relayed client->server (upstream direction).
func (c *Counters) AddUp(n int) {
	c.TrafficUp.Add(uint64(n))
	c.TotalUp.Add(uint64(n))
}

// AddDown records n bytes relayed server->client (downstream direction).
func (c *Counters) AddDown(n int) {
	c.TrafficDown.Add(uint64(n))
	c.TotalDown.Add(uint64(n))
}

// TotalBytes is the derived lifetime byte count across both directions.
func (c *Counters) TotalBytes() uint64 {
	return c.TotalUp.Load() + c.TotalDown.Load()
}

// Snapshot is a point-in-time, plain-data copy of the counters, suitable for
// JSON rendering or a single log line.
type Snapshot struct {
	TrafficUp          uint64  `json:"traffic_up"`
	TrafficDown        uint64  `json:"traffic_down"`
	ActiveConnections  int64   `json:"active_connections"`
	SuccessConnections uint64  `json:"success_connections"`
	FailedConnections  uint64  `json:"failed_connections"`
	TimeoutConnections uint64  `json:"timeout_connections"`
	BufferOverflows    uint64  `json:"buffer_overflows"`
	DrainOperations    uint64  `json:"drain_operations"`
	TotalBytes         uint64  `json:"total_bytes"`
	PeakSpeedKBps      float64 `json:"peak_speed_kbps"`
	AvgSpeedKBps       float64 `json:"avg_speed_kbps"`
	HealthFailures     int64   `json:"health_failures"`
	Degraded           bool    `json:"degraded_mode"`
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		TrafficUp:          c.TrafficUp.Load(),
		TrafficDown:        c.TrafficDown.Load(),
		ActiveConnections:  c.ActiveConnections.Load(),
		SuccessConnections: c.SuccessConnections.Load(),
		FailedConnections:  c.FailedConnections.Load(),
		TimeoutConnections: c.TimeoutConnections.Load(),
		BufferOverflows:    c.BufferOverflows.Load(),
		DrainOperations:    c.DrainOperations.Load(),
		TotalBytes:         c.TotalBytes(),
		PeakSpeedKBps:      c.PeakSpeedKBps.Load(),
		AvgSpeedKBps:       c.AvgSpeedKBps.Load(),
		HealthFailures:     c.HealthFailures.Load(),
		Degraded:           c.Degraded.Load(),
	}
}
