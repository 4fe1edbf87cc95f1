// Package xrpclb wires the Wire Codec, RPC Client, Health Monitor, and Load
// Balancer into a single client: given a pool of XML-RPC conversion
// backends, it dispatches convert requests across them with health- and
// load-aware selection, retry, and per-backend metrics (spec.md §2).
package xrpclb

import (
	"time"

	"xrpclb/balancer"
	"xrpclb/health"
	"xrpclb/logsink"
	"xrpclb/pool"
	"xrpclb/rpcclient"
)

// Backend is a conversion backend's address.
type Backend = pool.Backend

// ConvertParams selects stream vs. file-path conversion mode and carries
// the corresponding payload.
type ConvertParams = balancer.ConvertParams

// Mode selects how a convert call transmits its input/output.
const (
	ModeStream   = rpcclient.ModeStream
	ModeFilePath = rpcclient.ModeFilePath
)

// MetricsSnapshot is one backend's observability surface.
type MetricsSnapshot = balancer.MetricsSnapshot

// HealthState is one backend's circuit-breaker snapshot.
type HealthState = health.State

// config collects every constructor option before New freezes it into the
// component chain.
type config struct {
	concurrency    int
	requestTimeout time.Duration

	healthCheckInterval time.Duration
	failureThreshold    int
	retryTimeout        time.Duration

	maxRetries int

	rpcTimeouts rpcclient.Timeouts
	log         logsink.Sink
}

func defaultConfig() config {
	return config{
		concurrency:         8,
		requestTimeout:      30 * time.Second,
		healthCheckInterval: 5 * time.Second,
		failureThreshold:    3,
		retryTimeout:        10 * time.Second,
		maxRetries:          3,
		rpcTimeouts:         rpcclient.DefaultTimeouts,
		log:                 logsink.Nop(),
	}
}

// Option configures a Client at construction.
type Option func(*config)

// WithConcurrency sets the "C" in spec §4.4: round-robin selection skips a
// backend with C or more in-flight attempts, while the selectBest fallback
// does not apply this bound. The request queue is sized 2*C. Defaults to 8.
func WithConcurrency(c int) Option { return func(cfg *config) { cfg.concurrency = c } }

// WithRequestTimeout sets the end-to-end deadline "T" applied to
// ConvertAsync, from enqueue to response. Defaults to 30s.
func WithRequestTimeout(t time.Duration) Option {
	return func(cfg *config) { cfg.requestTimeout = t }
}

// WithHealthCheckInterval sets how often the Health Monitor sweeps the
// pool. Defaults to 5s.
func WithHealthCheckInterval(d time.Duration) Option {
	return func(cfg *config) { cfg.healthCheckInterval = d }
}

// WithFailureThreshold sets consecutive failures before a backend trips to
// Unhealthy. Defaults to 3.
func WithFailureThreshold(n int) Option { return func(cfg *config) { cfg.failureThreshold = n } }

// WithRetryTimeout sets the reprobe window before an Unhealthy backend is
// speculatively reopened. Defaults to 10s.
func WithRetryTimeout(d time.Duration) Option { return func(cfg *config) { cfg.retryTimeout = d } }

// WithMaxRetries sets the Load Balancer's retry-across-backends budget.
// Defaults to 3.
func WithMaxRetries(n int) Option { return func(cfg *config) { cfg.maxRetries = n } }

// WithRPCTimeouts overrides the RPC Client's connect/write/read deadlines.
func WithRPCTimeouts(t rpcclient.Timeouts) Option {
	return func(cfg *config) { cfg.rpcTimeouts = t }
}

// WithLogSink configures structured logging across every component.
// Defaults to a no-op sink.
func WithLogSink(sink logsink.Sink) Option { return func(cfg *config) { cfg.log = sink } }

// Client is the assembled conversion load balancer.
type Client struct {
	pool     *pool.Pool
	rpc      *rpcclient.Client
	health   *health.Monitor
	balancer *balancer.Balancer
}

// New validates backends and assembles a Client. Construction fails with a
// KindInvalidConfig error if the pool has no valid entries (spec §3).
func New(backends []Backend, opts ...Option) (*Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	p, err := pool.New(backends)
	if err != nil {
		return nil, err
	}

	rpc := rpcclient.New(
		rpcclient.WithTimeouts(cfg.rpcTimeouts),
		rpcclient.WithLogSink(cfg.log),
	)
	monitor := health.New(p, rpc,
		health.WithInterval(cfg.healthCheckInterval),
		health.WithFailureThreshold(cfg.failureThreshold),
		health.WithCooldown(cfg.retryTimeout),
		health.WithLogSink(cfg.log),
	)
	lb := balancer.New(p, monitor, rpc, cfg.concurrency, cfg.requestTimeout,
		balancer.WithMaxRetries(cfg.maxRetries),
		balancer.WithLogSink(cfg.log),
	)

	return &Client{pool: p, rpc: rpc, health: monitor, balancer: lb}, nil
}

// Start launches the Health Monitor sampler and the Load Balancer
// dispatcher. Idempotent.
func (c *Client) Start() {
	c.health.Start()
	c.balancer.Start()
}

// Stop halts the dispatcher and sampler. Idempotent. In-flight attempts
// complete best-effort; their results are discarded if the caller already
// departed.
func (c *Client) Stop() {
	c.balancer.Stop()
	c.health.Stop()
}

// ConvertAsync enqueues a convert request and waits for exactly one result
// within the configured request timeout (spec §4.4).
func (c *Client) ConvertAsync(params ConvertParams) (string, error) {
	return c.balancer.ConvertAsync(params)
}

// ConvertSync bypasses the dispatcher queue and runs the retry driver on
// the calling goroutine (spec §4.4).
func (c *Client) ConvertSync(params ConvertParams) (string, error) {
	return c.balancer.ConvertSync(params)
}

// ServerMetrics returns a snapshot of every backend's metrics.
func (c *Client) ServerMetrics() []MetricsSnapshot {
	return c.balancer.GetServerMetrics()
}

// HealthSnapshot returns a snapshot of every backend's circuit-breaker
// state.
func (c *Client) HealthSnapshot() []HealthState {
	return c.balancer.HealthSnapshot()
}

// Backends returns the fixed backend list this client dispatches across.
func (c *Client) Backends() []Backend {
	return c.balancer.Backends()
}

// SupportedFormats queries backend idx's diagnostic getSupportedFormats
// call directly, bypassing selection and retry. Per spec §4.2 the
// response is an XML-RPC array of format-name strings; each array
// element is decoded into the returned slice.
func (c *Client) SupportedFormats(idx int) ([]string, error) {
	value, err := c.balancer.SupportedFormats(idx)
	if err != nil {
		return nil, err
	}
	formats := make([]string, 0, len(value.Array))
	for _, v := range value.Array {
		formats = append(formats, v.Str)
	}
	return formats, nil
}
