package balancer

import "xrpclb/rpcclient"

// ConvertParams is the caller-facing request shape. It carries the same
// fields as rpcclient.ConvertParams, with Mode taken from the rpcclient
// package: ModeStream reads InputBytes, ModeFilePath reads InputPath and
// OutputPath, and both read OutputFormat.
type ConvertParams struct {
	Mode         rpcclient.Mode
	InputPath    string
	InputBytes   []byte
	OutputFormat string
	OutputPath   string
}

// result is what an attempt delivers to a request's promise.
type result struct {
	value string
	err   error
}

// convertRequest is the ephemeral per-call record the dispatcher queues
// (spec §3). promise is single-slot and buffered so a late attempt can
// always deposit its result without blocking on an absent receiver (spec
// §5 "promise abandonment").
type convertRequest struct {
	id      string
	params  ConvertParams
	promise chan result
}

func newConvertRequest(id string, params ConvertParams) *convertRequest {
	return &convertRequest{
		id:      id,
		params:  params,
		promise: make(chan result, 1),
	}
}

func (r *convertRequest) deliver(value string, err error) {
	select {
	case r.promise <- result{value: value, err: err}:
	default:
		// Caller already departed (timed out or never waited); per spec
		// §5 the push must be non-blocking and silently discarded.
	}
}
