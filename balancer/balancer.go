// Package balancer is the Load Balancer: it accepts convert requests,
// selects a backend per a load- and health-aware policy, dispatches them to
// the RPC Client with retry-across-backends, and keeps per-backend metrics
// (spec §4.4).
package balancer

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"xrpclb/health"
	"xrpclb/internal/clock"
	"xrpclb/internal/xrand"
	"xrpclb/logsink"
	"xrpclb/pool"
	"xrpclb/rpcclient"
	"xrpclb/xmlrpc"
	"xrpclb/xrpcerr"
)

const (
	recentErrorThreshold = 5
	recentErrorWindow    = 300 * time.Second
	pollTimeout          = 2 * time.Second
	enqueueTimeout       = time.Second
	shutdownDrainTimeout = 5 * time.Second
)

var retryBackoffs = []time.Duration{100 * time.Millisecond, 500 * time.Millisecond}

// Balancer is the dispatcher: it owns the request queue, the round-robin
// cursor, and the per-backend metrics vector.
type Balancer struct {
	pool    *pool.Pool
	health  *health.Monitor
	rpc     *rpcclient.Client
	clock   clock.Clock
	log     logsink.Sink

	concurrency    int
	requestTimeout time.Duration
	maxRetries     int
	scorer         Scorer

	metrics []*backendMetrics
	cursor  uint64 // atomic, round-robin position

	queue    chan *convertRequest
	inflight errgroup.Group // spawned attempt goroutines, joined on Stop

	stateMu sync.RWMutex // guards running + closing queue
	running bool
	doneCh  chan struct{}
}

// Option configures a Balancer.
type Option func(*Balancer)

// WithClock overrides the time source, for deterministic tests.
func WithClock(c clock.Clock) Option { return func(b *Balancer) { b.clock = c } }

// WithLogSink configures where dispatch events are reported.
func WithLogSink(sink logsink.Sink) Option { return func(b *Balancer) { b.log = sink } }

// WithMaxRetries overrides the default of 3 attempts per request.
func WithMaxRetries(n int) Option { return func(b *Balancer) { b.maxRetries = n } }

// WithScorer overrides DefaultScorer, the ranking function selectBest uses
// when the health/load walk in selectBackend finds no eligible candidate.
func WithScorer(s Scorer) Option { return func(b *Balancer) { b.scorer = s } }

// New builds a Balancer over p with concurrency bound concurrency and
// per-request timeout requestTimeout (spec §4.4). The request queue is
// sized 2*concurrency.
func New(p *pool.Pool, monitor *health.Monitor, rpc *rpcclient.Client, concurrency int, requestTimeout time.Duration, opts ...Option) *Balancer {
	b := &Balancer{
		pool:           p,
		health:         monitor,
		rpc:            rpc,
		clock:          clock.New(),
		log:            logsink.Nop(),
		concurrency:    concurrency,
		requestTimeout: requestTimeout,
		maxRetries:     3,
		scorer:         DefaultScorer,
		queue:          make(chan *convertRequest, 2*concurrency),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.metrics = make([]*backendMetrics, p.Len())
	for i := range b.metrics {
		b.metrics[i] = newBackendMetrics()
	}
	// Randomize the starting cursor so a fleet of freshly constructed
	// Balancers doesn't all hammer backend 0 first.
	if n := p.Len(); n > 0 {
		b.cursor = uint64(xrand.New().Intn(n))
	}
	return b
}

// Start spawns the dispatcher task. Idempotent.
func (b *Balancer) Start() {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	if b.running {
		return
	}
	b.running = true
	b.doneCh = make(chan struct{})
	go b.dispatch(b.doneCh)
}

// Stop flips the running flag and closes the request queue, per spec §4.4.
// In-flight attempts are not canceled: they keep running and push to their
// promises, with results silently discarded if the caller has already
// departed. Stop waits up to shutdownDrainTimeout for them to finish before
// returning, so a caller that immediately tears down the process gives
// the drain a bounded chance to complete; it does not block forever on a
// stuck attempt. Idempotent.
func (b *Balancer) Stop() {
	b.stateMu.Lock()
	if !b.running {
		b.stateMu.Unlock()
		return
	}
	b.running = false
	close(b.queue)
	b.stateMu.Unlock()

	drained := make(chan struct{})
	go func() {
		_ = b.inflight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-b.clock.After(shutdownDrainTimeout):
		b.log.Log(logsink.LevelNotice, "shutdown drain timed out with attempts still in flight")
	}
}

func (b *Balancer) isRunning() bool {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	return b.running
}

// dispatch is the dispatcher loop (spec §4.4): pop with a poll timeout,
// exiting only once running is false and the queue has drained.
func (b *Balancer) dispatch(done chan struct{}) {
	defer close(done)
	for {
		select {
		case req, ok := <-b.queue:
			if !ok {
				if !b.isRunning() && len(b.queue) == 0 {
					return
				}
				continue
			}
			b.inflight.Go(func() error {
				b.runAttempts(req)
				return nil
			})
		case <-b.clock.After(pollTimeout):
			if !b.isRunning() && len(b.queue) == 0 {
				return
			}
		}
	}
}

// enqueue pushes req onto the queue with a 1s push timeout, under a read
// lock so it can never race Stop's channel close. Before Start, requests
// wait in the queue for the dispatcher; once Stop has closed the queue,
// enqueue fails.
func (b *Balancer) enqueue(req *convertRequest) error {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	// doneCh is set by Start and never cleared, so a Balancer that has a
	// doneCh but is not running has been stopped and its queue is closed.
	if b.doneCh != nil && !b.running {
		return xrpcerr.New(xrpcerr.KindQueueUnavailable, "balancer is stopped")
	}
	timer := b.clock.NewTimer(enqueueTimeout)
	defer timer.Stop()
	select {
	case b.queue <- req:
		return nil
	case <-timer.Chan():
		return xrpcerr.New(xrpcerr.KindQueueUnavailable, "request queue full")
	}
}

// ConvertAsync enqueues params and waits up to the configured request
// timeout T for exactly one result (spec §4.4, §7).
func (b *Balancer) ConvertAsync(params ConvertParams) (string, error) {
	req := newConvertRequest(uuid.NewString(), params)
	if err := b.enqueue(req); err != nil {
		return "", err
	}

	timer := b.clock.NewTimer(b.requestTimeout)
	defer timer.Stop()
	select {
	case res := <-req.promise:
		if res.err != nil {
			return "", res.err
		}
		return res.value, nil
	case <-timer.Chan():
		return "", xrpcerr.New(xrpcerr.KindTimeout, "convert request timed out")
	}
}

// ConvertSync bypasses the queue entirely: it runs the retry driver
// synchronously on the calling goroutine, for callers that already manage
// their own concurrency (spec §4.4).
func (b *Balancer) ConvertSync(params ConvertParams) (string, error) {
	return b.executeWithRetry(params)
}

// runAttempts drives one request's retry loop and always delivers exactly
// one result to its promise, even if the caller has already timed out.
func (b *Balancer) runAttempts(req *convertRequest) {
	value, err := b.executeWithRetry(req.params)
	req.deliver(value, err)
}

// executeWithRetry is the retry driver (spec §4.4): up to maxRetries
// attempts, re-selecting a backend before each, sleeping the configured
// backoff before attempts 2 and 3.
func (b *Balancer) executeWithRetry(params ConvertParams) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= b.maxRetries; attempt++ {
		if attempt > 1 {
			b.clock.Sleep(retryBackoffs[minInt(attempt-2, len(retryBackoffs)-1)])
		}
		idx := b.selectBackend()
		value, err := b.doAttempt(idx, params)
		if err == nil {
			return value, nil
		}
		lastErr = err
	}
	return "", xrpcerr.Wrap(xrpcerr.KindExhaustedRetries, "all attempts failed", lastErr)
}

// doAttempt performs one RPC round-trip against backend idx, with its
// activeConnections slot scoped to this single attempt (spec §3, §5: every
// increment is paired with exactly one decrement on all exit paths).
func (b *Balancer) doAttempt(idx int, params ConvertParams) (string, error) {
	m := b.metrics[idx]
	release := m.acquire()
	defer release()

	backend := b.pool.Get(idx)
	value, elapsed, err := b.rpc.Convert(backend.String(), rpcclient.ConvertParams{
		Mode:         params.Mode,
		InputPath:    params.InputPath,
		InputBytes:   params.InputBytes,
		OutputFormat: params.OutputFormat,
		OutputPath:   params.OutputPath,
	})
	if err != nil {
		b.health.MarkFailed(idx)
		m.recordFailure(b.clock.Now())
		b.log.Log(logsink.LevelWarning, "convert attempt failed",
			logsink.F("backend", backend.String()), logsink.F("error", err))
		return "", err
	}
	b.health.MarkSuccess(idx, elapsed)
	m.recordSuccess(elapsed)
	return value, nil
}

// selectBackend implements round-robin-with-health-and-load filter, then
// best-metric fallback (spec §4.4).
func (b *Balancer) selectBackend() int {
	n := b.pool.Len()
	healthy := make(map[int]bool, n)
	for _, i := range b.health.GetHealthy() {
		healthy[i] = true
	}

	now := b.clock.Now()
	for step := 0; step < 2*n; step++ {
		idx := int(atomic.AddUint64(&b.cursor, 1) % uint64(n))
		if !healthy[idx] {
			continue
		}
		if b.metrics[idx].recentErrorActive(now, recentErrorWindow) {
			continue
		}
		if b.metrics[idx].activeCount() >= int64(b.concurrency) {
			continue
		}
		return idx
	}

	b.log.Log(logsink.LevelNotice, "no candidate survived the health/load walk, falling back to selectBest")
	return b.selectBest()
}

// selectBest picks the backend with the lowest score, breaking ties by
// lowest index. With the DefaultScorer this is
// activeConnections*10 + lastResponseTimeMs + errors*100, matching spec
// §4.4, §8 exactly. It always returns a valid index when the pool is
// non-empty.
func (b *Balancer) selectBest() int {
	best := 0
	bestScore := b.metrics[0].score(b.scorer)
	for i := 1; i < len(b.metrics); i++ {
		if s := b.metrics[i].score(b.scorer); s < bestScore {
			best, bestScore = i, s
		}
	}
	return best
}

// GetServerMetrics returns a stable snapshot of every backend's metrics.
func (b *Balancer) GetServerMetrics() []MetricsSnapshot {
	out := make([]MetricsSnapshot, len(b.metrics))
	for i, m := range b.metrics {
		out[i] = m.snapshot()
	}
	return out
}

// Backends returns the fixed backend list this balancer dispatches across.
func (b *Balancer) Backends() []pool.Backend { return b.pool.All() }

// HealthSnapshot returns a snapshot of every backend's circuit-breaker
// state, for diagnostics.
func (b *Balancer) HealthSnapshot() []health.State { return b.health.GetAllStates() }

// SupportedFormats queries one backend's diagnostic getSupportedFormats
// call directly, bypassing selection and retry (spec §4.2).
func (b *Balancer) SupportedFormats(idx int) (xmlrpc.Value, error) {
	return b.rpc.GetSupportedFormats(b.pool.Get(idx).String())
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
