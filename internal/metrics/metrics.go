// Package metrics collects request statistics for the host dispatcher.
package metrics

import (
	"sort"
	"sync"
	"time"
)

// Metrics tracks per-operation request counts, failures, latency and
// payload volume. It is safe for concurrent use.
type Metrics struct {
	mu sync.RWMutex

	ops map[string]*opStats

	bytesRead     int64
	bytesWritten  int64
	notifications int64
	dropped       int64

	startTime     time.Time
	lastErrorTime time.Time
}

type opStats struct {
	requests     int64
	errors       int64
	totalLatency time.Duration
	maxLatency   time.Duration
}

// New creates an empty Metrics.
func New() *Metrics {
	return &Metrics{
		ops:       make(map[string]*opStats),
		startTime: time.Now(),
	}
}

func (m *Metrics) op(name string) *opStats {
	s, ok := m.ops[name]
	if !ok {
		s = &opStats{}
		m.ops[name] = s
	}
	return s
}

// RecordRequest records one completed request for op.
func (m *Metrics) RecordRequest(op string, latency time.Duration, err error) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.op(op)
	s.requests++
	s.totalLatency += latency
	if latency > s.maxLatency {
		s.maxLatency = latency
	}
	if err != nil {
		s.errors++
		m.lastErrorTime = time.Now()
	}
}

// RecordRead adds n bytes returned by readFile.
func (m *Metrics) RecordRead(n int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bytesRead += int64(n)
}

// RecordWrite adds n bytes accepted by writeFile.
func (m *Metrics) RecordWrite(n int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bytesWritten += int64(n)
}

// RecordNotification counts a change notification; delivered is false when
// the transport rejected it.
func (m *Metrics) RecordNotification(delivered bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if delivered {
		m.notifications++
	} else {
		m.dropped++
	}
}

// Reset clears all counters.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ops = make(map[string]*opStats)
	m.bytesRead, m.bytesWritten = 0, 0
	m.notifications, m.dropped = 0, 0
	m.startTime = time.Now()
	m.lastErrorTime = time.Time{}
}

// OpSnapshot is the point-in-time view of one operation.
type OpSnapshot struct {
	Op             string
	Requests       int64
	Errors         int64
	AverageLatency time.Duration
	MaxLatency     time.Duration
}

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	// Ops is sorted by operation name.
	Ops                  []OpSnapshot
	Requests             int64
	Errors               int64
	BytesRead            int64
	BytesWritten         int64
	Notifications        int64
	DroppedNotifications int64
	LastErrorTime        time.Time
	Uptime               time.Duration
}

// Snapshot returns a copy of the current metrics.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{
		Ops:                  make([]OpSnapshot, 0, len(m.ops)),
		BytesRead:            m.bytesRead,
		BytesWritten:         m.bytesWritten,
		Notifications:        m.notifications,
		DroppedNotifications: m.dropped,
		LastErrorTime:        m.lastErrorTime,
		Uptime:               time.Since(m.startTime),
	}
	for name, s := range m.ops {
		op := OpSnapshot{
			Op:         name,
			Requests:   s.requests,
			Errors:     s.errors,
			MaxLatency: s.maxLatency,
		}
		if s.requests > 0 {
			op.AverageLatency = s.totalLatency / time.Duration(s.requests)
		}
		snap.Ops = append(snap.Ops, op)
		snap.Requests += s.requests
		snap.Errors += s.errors
	}
	sort.Slice(snap.Ops, func(i, j int) bool { return snap.Ops[i].Op < snap.Ops[j].Op })
	return snap
}

// Op returns the snapshot for a single operation.
func (s Snapshot) Op(name string) (OpSnapshot, bool) {
	for _, op := range s.Ops {
		if op.Op == name {
			return op, true
		}
	}
	return OpSnapshot{}, false
}

// ErrorRate returns the fraction of failed requests.
func (s Snapshot) ErrorRate() float64 {
	if s.Requests == 0 {
		return 0
	}
	return float64(s.Errors) / float64(s.Requests)
}
