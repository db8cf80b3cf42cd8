package rost

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets are the histogram boundaries, in nanoseconds, used to
// bucket rendezvous wait time: how long a blocked sender or receiver
// waited before attempt_transmission woke it.
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

// Metrics tracks per-domain scheduler and communication statistics. A
// Domain owns exactly one Metrics; nothing here is shared across domains,
// matching the no-global-state design note.
type Metrics struct {
	// Scheduler activity.
	TasksSpawned  atomic.Uint64
	TasksKilled   atomic.Uint64
	TasksExited   atomic.Uint64
	ContextSwitch atomic.Uint64 // sched() calls that picked a runnable task
	IdleSchedules atomic.Uint64 // sched() calls that found nothing runnable

	// Communication activity.
	MessagesSent     atomic.Uint64
	MessagesReceived atomic.Uint64
	SendBlocked      atomic.Uint64 // sends that had to block on a token
	RecvBlocked      atomic.Uint64 // receives that had to block on a port

	// Crate cache activity.
	CacheHits   atomic.Uint64
	CacheMisses atomic.Uint64

	// Rendezvous wait-time histogram (cumulative counts, bucket[i] holds
	// waits <= LatencyBuckets[i]).
	TotalWaitNs     atomic.Uint64
	WaitSampleCount atomic.Uint64
	WaitHistogram   [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a Metrics instance whose uptime starts counting now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordSchedule records the outcome of one sched() call.
func (m *Metrics) RecordSchedule(ranSomething bool) {
	if ranSomething {
		m.ContextSwitch.Add(1)
	} else {
		m.IdleSchedules.Add(1)
	}
}

// RecordSpawn records a newly created task.
func (m *Metrics) RecordSpawn() { m.TasksSpawned.Add(1) }

// RecordKill records a task forced dead via Kill or Fail.
func (m *Metrics) RecordKill() { m.TasksKilled.Add(1) }

// RecordExit records a task that died by returning/exiting normally.
func (m *Metrics) RecordExit() { m.TasksExited.Add(1) }

// RecordSend records a message send, and whether the sender had to block
// waiting for a reader.
func (m *Metrics) RecordSend(blocked bool) {
	m.MessagesSent.Add(1)
	if blocked {
		m.SendBlocked.Add(1)
	}
}

// RecordRecv records a message receive, and whether the receiver had to
// block waiting for a writer.
func (m *Metrics) RecordRecv(blocked bool) {
	m.MessagesReceived.Add(1)
	if blocked {
		m.RecvBlocked.Add(1)
	}
}

// RecordCacheLookup records a crate cache resolution, hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if hit {
		m.CacheHits.Add(1)
	} else {
		m.CacheMisses.Add(1)
	}
}

// RecordWait records how long a task sat blocked before a rendezvous
// woke it, feeding both the running average and the histogram.
func (m *Metrics) RecordWait(waitNs uint64) {
	m.TotalWaitNs.Add(waitNs)
	m.WaitSampleCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if waitNs <= bucket {
			m.WaitHistogram[i].Add(1)
		}
	}
}

// Stop marks the domain as having finished running.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time copy of Metrics with derived rates.
type MetricsSnapshot struct {
	TasksSpawned  uint64
	TasksKilled   uint64
	TasksExited   uint64
	ContextSwitch uint64
	IdleSchedules uint64

	MessagesSent     uint64
	MessagesReceived uint64
	SendBlocked      uint64
	RecvBlocked      uint64

	CacheHits   uint64
	CacheMisses uint64
	CacheHitPct float64

	AvgWaitNs       uint64
	WaitHistogram   [numLatencyBuckets]uint64
	WaitP50Ns       uint64
	WaitP99Ns       uint64

	UptimeNs uint64
}

// Snapshot builds a MetricsSnapshot from the current counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		TasksSpawned:     m.TasksSpawned.Load(),
		TasksKilled:      m.TasksKilled.Load(),
		TasksExited:      m.TasksExited.Load(),
		ContextSwitch:    m.ContextSwitch.Load(),
		IdleSchedules:    m.IdleSchedules.Load(),
		MessagesSent:     m.MessagesSent.Load(),
		MessagesReceived: m.MessagesReceived.Load(),
		SendBlocked:      m.SendBlocked.Load(),
		RecvBlocked:      m.RecvBlocked.Load(),
		CacheHits:        m.CacheHits.Load(),
		CacheMisses:      m.CacheMisses.Load(),
	}

	if total := snap.CacheHits + snap.CacheMisses; total > 0 {
		snap.CacheHitPct = float64(snap.CacheHits) / float64(total) * 100.0
	}

	totalWait := m.TotalWaitNs.Load()
	waitCount := m.WaitSampleCount.Load()
	if waitCount > 0 {
		snap.AvgWaitNs = totalWait / waitCount
		snap.WaitP50Ns = m.calculatePercentile(waitCount, 0.50)
		snap.WaitP99Ns = m.calculatePercentile(waitCount, 0.99)
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.WaitHistogram[i] = m.WaitHistogram[i].Load()
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	return snap
}

// calculatePercentile estimates the wait time at the given percentile
// using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(totalOps uint64, percentile float64) uint64 {
	if totalOps == 0 {
		return 0
	}
	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.WaitHistogram[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.WaitHistogram[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}
	return LatencyBuckets[numLatencyBuckets-1]
}

// Observer allows pluggable collection of domain events, e.g. forwarding
// into a process-wide metrics registry kept by the host service.
type Observer interface {
	ObserveSchedule(ranSomething bool)
	ObserveSpawn()
	ObserveKill()
	ObserveExit()
	ObserveSend(blocked bool)
	ObserveRecv(blocked bool)
	ObserveCacheLookup(hit bool)
	ObserveWait(waitNs uint64)
}

// NoOpObserver discards every event.
type NoOpObserver struct{}

func (NoOpObserver) ObserveSchedule(bool)     {}
func (NoOpObserver) ObserveSpawn()            {}
func (NoOpObserver) ObserveKill()             {}
func (NoOpObserver) ObserveExit()             {}
func (NoOpObserver) ObserveSend(bool)         {}
func (NoOpObserver) ObserveRecv(bool)         {}
func (NoOpObserver) ObserveCacheLookup(bool)  {}
func (NoOpObserver) ObserveWait(uint64)       {}

// MetricsObserver implements Observer by recording into a Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an Observer that records into m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveSchedule(ranSomething bool) { o.metrics.RecordSchedule(ranSomething) }
func (o *MetricsObserver) ObserveSpawn()                     { o.metrics.RecordSpawn() }
func (o *MetricsObserver) ObserveKill()                      { o.metrics.RecordKill() }
func (o *MetricsObserver) ObserveExit()                      { o.metrics.RecordExit() }
func (o *MetricsObserver) ObserveSend(blocked bool)          { o.metrics.RecordSend(blocked) }
func (o *MetricsObserver) ObserveRecv(blocked bool)          { o.metrics.RecordRecv(blocked) }
func (o *MetricsObserver) ObserveCacheLookup(hit bool)       { o.metrics.RecordCacheLookup(hit) }
func (o *MetricsObserver) ObserveWait(waitNs uint64)         { o.metrics.RecordWait(waitNs) }

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
