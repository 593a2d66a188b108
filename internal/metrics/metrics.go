// Package metrics provides interfaces and implementations for collecting
// ServerLink socket/pipe/engine metrics. This package defines the
// Collector interface for recording metrics and the Server interface for
// exposing them over HTTP.
package metrics

import "context"

// Collector defines the interface for recording ServerLink core metrics:
// pipe attach/detach (per socket pattern), message throughput, HWM-driven
// drops, and handshake failures.
type Collector interface {
	// PipeAttached records a new pipe joining a socket of the given
	// pattern type (ROUTER, DEALER, PUB, ...).
	PipeAttached(socketType string)
	// PipeDetached records a pipe completing termination.
	PipeDetached(socketType string)

	// MessageSent / MessageReceived record one application frame crossing
	// a socket's XSend/XRecv boundary.
	MessageSent(socketType string, bytes int)
	MessageReceived(socketType string, bytes int)

	// HWMDrop records a message dropped because a pipe's high-water mark
	// was reached (PUB's default drop policy).
	HWMDrop(socketType string)

	// HandshakeFailure records a mechanism or greeting failure.
	HandshakeFailure()
}

// Server defines the interface for a metrics HTTP server.
type Server interface {
	// Start begins serving metrics. It blocks until the context is canceled
	// or an error occurs.
	Start(ctx context.Context) error

	// Shutdown gracefully stops the metrics server.
	Shutdown(ctx context.Context) error
}
