package balancer

import (
	"sync"
	"time"
)

// MetricsSnapshot is the observability surface exposed by GetServerMetrics:
// a stable copy of one backend's counters (spec §6).
type MetricsSnapshot struct {
	Requests          int64
	Errors            int64
	LastResponseTimeMs int64
	ActiveConnections int64
	LastErrorAt       time.Time
}

// backendMetrics is one pool entry's ServerMetrics (spec §3). Counters share
// a single lock rather than individual atomics: contention here is bounded
// by C, and a per-entry lock keeps lastErrorAt consistent with errors
// without a separate CAS protocol (spec §5 allows either).
type backendMetrics struct {
	mu                 sync.Mutex
	requests           int64
	errors             int64
	lastResponseTimeMs int64
	activeConnections  int64
	lastErrorAt        time.Time
}

func newBackendMetrics() *backendMetrics {
	return &backendMetrics{}
}

// acquire increments activeConnections and returns a release func that
// decrements it exactly once; callers defer the release immediately so
// every exit path (success, failure, panic) pairs the increment.
func (m *backendMetrics) acquire() (release func()) {
	m.mu.Lock()
	m.activeConnections++
	m.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.activeConnections--
			m.mu.Unlock()
		})
	}
}

func (m *backendMetrics) recordSuccess(elapsed time.Duration) {
	m.mu.Lock()
	m.requests++
	m.lastResponseTimeMs = elapsed.Milliseconds()
	m.mu.Unlock()
}

func (m *backendMetrics) recordFailure(now time.Time) {
	m.mu.Lock()
	m.requests++
	m.errors++
	m.lastErrorAt = now
	m.mu.Unlock()
}

// recentErrorActive reports whether this backend is in its "recent error"
// cooldown window (spec §4.4 selection rule 2): more than 5 errors total,
// and the last one happened less than window ago.
func (m *backendMetrics) recentErrorActive(now time.Time, window time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors > recentErrorThreshold && !m.lastErrorAt.IsZero() && now.Sub(m.lastErrorAt) < window
}

func (m *backendMetrics) activeCount() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeConnections
}

// Scorer computes selectBest's ranking metric for one backend's metrics;
// lower is better. The default, DefaultScorer, is the formula fixed by
// spec §4.4; the Balancer takes it as a function value (see WithScorer)
// rather than a hardcoded expression, so a caller can swap in a different
// ranking the way the teacher's picker package
// offers round-robin, least-loaded, and power-of-two-choices as
// interchangeable Factory implementations.
type Scorer func(MetricsSnapshot) int64

// DefaultScorer is activeConnections*10 + lastResponseTimeMs + errors*100.
func DefaultScorer(s MetricsSnapshot) int64 {
	return s.ActiveConnections*10 + s.LastResponseTimeMs + s.Errors*100
}

func (m *backendMetrics) score(scorer Scorer) int64 {
	return scorer(m.snapshot())
}

func (m *backendMetrics) snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetricsSnapshot{
		Requests:           m.requests,
		Errors:             m.errors,
		LastResponseTimeMs: m.lastResponseTimeMs,
		ActiveConnections:  m.activeConnections,
		LastErrorAt:        m.lastErrorAt,
	}
}
