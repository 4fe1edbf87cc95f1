// Package pool holds the fixed, ordered set of conversion backends a
// Balancer dispatches to. The set is validated and frozen at construction;
// per spec.md's Non-goals, backends may be queried after that point but
// never mutated (no dynamic discovery, no reconfiguration).
package pool

import (
	"fmt"

	"xrpclb/xrpcerr"
)

// Backend is an immutable host/port pair identified by its index in the
// Pool. The index is stable for the lifetime of the Pool and is what
// HealthState and ServerMetrics vectors key on.
type Backend struct {
	Host string
	Port uint16
}

// String renders the backend as host:port, matching the Host header the
// RPC client sends on the wire.
func (b Backend) String() string {
	return fmt.Sprintf("%s:%d", b.Host, b.Port)
}

// Pool is the fixed set of backends known to a Balancer.
type Pool struct {
	backends []Backend
}

// New validates and freezes a backend list. Construction fails with a
// KindInvalidConfig error if the list is empty or every entry is malformed
// (empty host or zero port); valid entries are kept even when some entries
// in the input are invalid, matching "must contain at least one valid
// backend, else construction fails" rather than rejecting the whole pool
// for one bad entry.
func New(backends []Backend) (*Pool, error) {
	valid := make([]Backend, 0, len(backends))
	for _, b := range backends {
		if b.Host == "" || b.Port == 0 {
			continue
		}
		valid = append(valid, b)
	}
	if len(valid) == 0 {
		return nil, xrpcerr.New(xrpcerr.KindInvalidConfig, "pool must contain at least one backend with a non-empty host and non-zero port")
	}
	return &Pool{backends: valid}, nil
}

// Len returns the number of backends in the pool.
func (p *Pool) Len() int { return len(p.backends) }

// Get returns the backend at index i. It panics if i is out of range,
// matching the teacher's conn.Connections accessor contract (indices are
// always derived from Len()).
func (p *Pool) Get(i int) Backend { return p.backends[i] }

// All returns a copy of the backend list, safe for the caller to retain.
func (p *Pool) All() []Backend {
	out := make([]Backend, len(p.backends))
	copy(out, p.backends)
	return out
}
