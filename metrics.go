package opmux

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the completion-latency histogram buckets in
// nanoseconds, from submit to Complete.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks operation multiplexer activity across all connections
// sharing an instance.
type Metrics struct {
	Submits      atomic.Uint64 // Operations submitted
	Completes    atomic.Uint64 // Operations completed with a result
	Timeouts     atomic.Uint64 // Operations that fired their timeout
	Overflows    atomic.Uint64 // Responses exceeding the submitter's buffer
	ProtocolBads atomic.Uint64 // Incoming requests with no registered handler
	Cancels      atomic.Uint64 // Operations cancelled before completion

	ResultCounts [256]atomic.Uint64 // completions by result byte

	TotalLatencyNs atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance with StartTime set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

func (m *Metrics) recordSubmit() {
	m.Submits.Add(1)
}

func (m *Metrics) recordComplete(resultCode uint8, latencyNs uint64) {
	m.Completes.Add(1)
	m.ResultCounts[resultCode].Add(1)
	m.TotalLatencyNs.Add(latencyNs)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

func (m *Metrics) recordTimeout()     { m.Timeouts.Add(1) }
func (m *Metrics) recordOverflow()    { m.Overflows.Add(1) }
func (m *Metrics) recordProtocolBad() { m.ProtocolBads.Add(1) }
func (m *Metrics) recordCancel()      { m.Cancels.Add(1) }

// Stop marks the metrics instance as stopped, freezing uptime calculations.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time, race-free copy of Metrics.
type MetricsSnapshot struct {
	Submits      uint64
	Completes    uint64
	Timeouts     uint64
	Overflows    uint64
	ProtocolBads uint64
	Cancels      uint64

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyHistogram [numLatencyBuckets]uint64
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Submits:      m.Submits.Load(),
		Completes:    m.Completes.Load(),
		Timeouts:     m.Timeouts.Load(),
		Overflows:    m.Overflows.Load(),
		ProtocolBads: m.ProtocolBads.Load(),
		Cancels:      m.Cancels.Load(),
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	if snap.Completes > 0 {
		snap.AvgLatencyNs = totalLatencyNs / snap.Completes
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	return snap
}

// Reset zeroes all counters, useful between test cases.
func (m *Metrics) Reset() {
	m.Submits.Store(0)
	m.Completes.Store(0)
	m.Timeouts.Store(0)
	m.Overflows.Store(0)
	m.ProtocolBads.Store(0)
	m.Cancels.Store(0)
	for i := range m.ResultCounts {
		m.ResultCounts[i].Store(0)
	}
	m.TotalLatencyNs.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// NoOpObserver discards all observations.
type NoOpObserver struct{}

func (NoOpObserver) ObserveSubmit() {}
func (NoOpObserver) ObserveComplete(resultCode uint8, _ uint64) {}
func (NoOpObserver) ObserveTimeout() {}
func (NoOpObserver) ObserveOverflow() {}
func (NoOpObserver) ObserveProtocolBad() {}
func (NoOpObserver) ObserveCancel() {}

// MetricsObserver adapts *Metrics to the Observer interface.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an Observer that records into m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveSubmit() { o.metrics.recordSubmit() }

func (o *MetricsObserver) ObserveComplete(resultCode uint8, latencyNs uint64) {
	o.metrics.recordComplete(resultCode, latencyNs)
}

func (o *MetricsObserver) ObserveTimeout()     { o.metrics.recordTimeout() }
func (o *MetricsObserver) ObserveOverflow()    { o.metrics.recordOverflow() }
func (o *MetricsObserver) ObserveProtocolBad() { o.metrics.recordProtocolBad() }
func (o *MetricsObserver) ObserveCancel()      { o.metrics.recordCancel() }

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
