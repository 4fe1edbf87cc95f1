// Package health is the Health Monitor: it polls every backend in a pool on
// a fixed interval via rpcclient.Client.Ping, and keeps a 2-state circuit
// breaker (Healthy/Unhealthy) per backend with a failure-threshold trip and
// a cooldown-gated speculative reopen (spec §4.3).
package health

import (
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"xrpclb/internal/clock"
	"xrpclb/logsink"
	"xrpclb/pool"
	"xrpclb/rpcclient"
)

// State is a snapshot of one backend's circuit-breaker state.
type State struct {
	Healthy        bool
	FailureCount   int
	LastFailureAt  time.Time
	LastCheckAt    time.Time
	LastResponseMs int64
}

type backendState struct {
	mu             sync.Mutex
	healthy        bool
	failureCount   int
	lastFailureAt  time.Time
	lastCheckAt    time.Time
	lastResponseMs int64
}

func (s *backendState) snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		Healthy:        s.healthy,
		FailureCount:   s.failureCount,
		LastFailureAt:  s.lastFailureAt,
		LastCheckAt:    s.lastCheckAt,
		LastResponseMs: s.lastResponseMs,
	}
}

// Monitor polls a pool.Pool's backends and tracks their availability.
// Construction never fails; polling starts on Start and runs until Stop.
type Monitor struct {
	pool      *pool.Pool
	rpc       *rpcclient.Client
	clock     clock.Clock
	log       logsink.Sink
	interval  time.Duration
	threshold int
	cooldown  time.Duration

	states []*backendState

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the polling period between full sweeps of the pool.
// Defaults to 5s.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

// WithFailureThreshold sets the number of consecutive failures (failed
// probes and failed real-traffic attempts reported through MarkFailed)
// before a backend is marked Unhealthy. Defaults to 3.
func WithFailureThreshold(n int) Option {
	return func(m *Monitor) { m.threshold = n }
}

// WithCooldown sets how long an Unhealthy backend is excluded from
// selection before an IsAvailable read speculatively reopens it.
// Defaults to 10s.
func WithCooldown(d time.Duration) Option {
	return func(m *Monitor) { m.cooldown = d }
}

// WithClock overrides the time source, for deterministic tests.
func WithClock(c clock.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// WithLogSink configures where state transitions are reported.
func WithLogSink(sink logsink.Sink) Option {
	return func(m *Monitor) { m.log = sink }
}

// New creates a Monitor over p using rpc to probe each backend. All
// backends start Healthy, matching the spec's "assume healthy until proven
// otherwise" startup behavior.
func New(p *pool.Pool, rpc *rpcclient.Client, opts ...Option) *Monitor {
	m := &Monitor{
		pool:      p,
		rpc:       rpc,
		clock:     clock.New(),
		log:       logsink.Nop(),
		interval:  5 * time.Second,
		threshold: 3,
		cooldown:  10 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.states = make([]*backendState, p.Len())
	for i := range m.states {
		m.states[i] = &backendState{healthy: true}
	}
	return m
}

// Start launches the background polling loop. It is idempotent: calling
// Start on an already-running Monitor is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	go m.run(m.stopCh)
}

// Stop signals the sampler to exit. It is idempotent and does not wait
// synchronously for the loop to exit beyond the next scheduling boundary:
// a sweep already in progress (up to the RPC client's connect+read
// timeouts per backend) is allowed to finish on its own, rather than
// blocking the caller until it does.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	stopCh := m.stopCh
	m.mu.Unlock()

	close(stopCh)
}

func (m *Monitor) run(stopCh chan struct{}) {
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()
	m.runHealthChecks()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.Chan():
			m.runHealthChecks()
		}
	}
}

// runHealthChecks probes every backend concurrently and waits for the
// sweep to finish before returning.
func (m *Monitor) runHealthChecks() {
	var g errgroup.Group
	for i := 0; i < m.pool.Len(); i++ {
		i := i
		g.Go(func() error {
			m.probe(i)
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Monitor) probe(i int) {
	backend := m.pool.Get(i)
	ok, elapsed := m.rpc.Ping(backend.String())
	if ok {
		m.MarkSuccess(i, elapsed)
	} else {
		m.MarkFailed(i)
	}
}

// MarkSuccess resets the failure streak and, if the backend was Unhealthy,
// closes the breaker. The Load Balancer calls this after every successful
// real-traffic attempt, in addition to the sampler's own probes, so the
// breaker reflects live evidence (spec §4.3).
func (m *Monitor) MarkSuccess(i int, elapsed time.Duration) {
	s := m.states[i]
	now := m.clock.Now()
	s.mu.Lock()
	wasHealthy := s.healthy
	s.healthy = true
	s.failureCount = 0
	s.lastCheckAt = now
	s.lastResponseMs = elapsed.Milliseconds()
	s.mu.Unlock()

	if !wasHealthy {
		m.log.Log(logsink.LevelNotice, "backend recovered", logsink.F("backend", m.pool.Get(i).String()))
	}
}

// MarkFailed increments the failure streak and trips the breaker once
// failureCount reaches the configured threshold. The Load Balancer calls
// this after every failed real-traffic attempt.
func (m *Monitor) MarkFailed(i int) {
	s := m.states[i]
	now := m.clock.Now()
	s.mu.Lock()
	s.failureCount++
	s.lastFailureAt = now
	s.lastCheckAt = now
	tripped := s.healthy && s.failureCount >= m.threshold
	if tripped {
		s.healthy = false
	}
	failureCount := s.failureCount
	s.mu.Unlock()

	if tripped {
		m.log.Log(logsink.LevelWarning, "backend marked unhealthy",
			logsink.F("backend", m.pool.Get(i).String()),
			logsink.F("failureCount", failureCount))
	}
}

// IsAvailable reports whether backend i should be considered for selection:
// either it is currently Healthy, or it is Unhealthy but has been in
// cooldown long enough for a speculative reopen, in which case this read
// itself flips the backend back to Healthy with its failure streak reset.
// Selection resumes traffic without waiting for a probe to confirm recovery.
func (m *Monitor) IsAvailable(i int) bool {
	s := m.states[i]
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.healthy {
		return true
	}
	if !s.lastFailureAt.IsZero() && m.clock.Since(s.lastFailureAt) > m.cooldown {
		s.healthy = true
		s.failureCount = 0
		return true
	}
	return false
}

// GetState returns a snapshot of backend i's breaker state.
func (m *Monitor) GetState(i int) State { return m.states[i].snapshot() }

// GetAllStates returns a snapshot of every backend's breaker state, indexed
// the same as the underlying pool.
func (m *Monitor) GetAllStates() []State {
	out := make([]State, len(m.states))
	for i, s := range m.states {
		out[i] = s.snapshot()
	}
	return out
}

// GetHealthy returns the indices currently considered available, per
// IsAvailable.
func (m *Monitor) GetHealthy() []int {
	out := make([]int, 0, len(m.states))
	for i := range m.states {
		if m.IsAvailable(i) {
			out = append(out, i)
		}
	}
	return out
}
