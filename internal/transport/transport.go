// Package transport implements the three ServerLink endpoint kinds --
// tcp://, ipc://, and inproc:// -- behind one minimal Listener/Dialer
// shape, so the engine layer above is transport-agnostic.
package transport

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/infodancer/serverlink/internal/zerr"
)

// Endpoint is a parsed ServerLink address, e.g. "tcp://127.0.0.1:5555",
// "ipc:///tmp/x.sock", "inproc://name".
type Endpoint struct {
	Scheme  string
	Address string

	// KeepAlive configures TCP-level keepalive on connections this
	// endpoint produces. Ignored by
	// the ipc:// and inproc:// schemes.
	KeepAlive KeepAlive
}

// KeepAlive mirrors the TCP_KEEPALIVE/_IDLE/_INTVL/_CNT options. Enabled toggles SO_KEEPALIVE; Idle/Interval/Count are applied
// via net.TCPConn.SetKeepAliveConfig, a zero field in any of them leaving
// the OS default for that parameter in place.
type KeepAlive struct {
	Enabled  bool
	Idle     time.Duration
	Interval time.Duration
	Count    int
}

// ParseEndpoint splits a "scheme://address" string.
func ParseEndpoint(s string) (Endpoint, error) {
	parts := strings.SplitN(s, "://", 2)
	if len(parts) != 2 {
		return Endpoint{}, fmt.Errorf("transport: %w: malformed endpoint %q", zerr.EInval, s)
	}
	return Endpoint{Scheme: parts[0], Address: parts[1]}, nil
}

// Listener is the minimal bind-side contract every transport implements.
type Listener interface {
	// Accept blocks for the next inbound connection.
	Accept(ctx context.Context) (net.Conn, error)
	// LastEndpoint reflects the resolved address after bind, e.g. with an ephemeral port substituted for "*".
	LastEndpoint() string
	Close() error
}

// Dialer is the minimal connect-side contract every transport implements.
type Dialer interface {
	Dial(ctx context.Context, address string) (net.Conn, error)
}

// Bind dispatches to the transport named by endpoint.Scheme.
func Bind(ctx context.Context, ep Endpoint) (Listener, error) {
	switch ep.Scheme {
	case "tcp":
		return bindTCP(ep.Address, ep.KeepAlive)
	case "ipc":
		return bindIPC(ep.Address)
	case "inproc":
		return bindInproc(ep.Address)
	default:
		return nil, fmt.Errorf("transport: %w: unknown scheme %q", zerr.EInval, ep.Scheme)
	}
}

// Connect dispatches to the transport named by endpoint.Scheme.
func Connect(ctx context.Context, ep Endpoint) (net.Conn, error) {
	switch ep.Scheme {
	case "tcp":
		return dialTCP(ctx, ep.Address, ep.KeepAlive)
	case "ipc":
		return dialIPC(ctx, ep.Address)
	case "inproc":
		return dialInproc(ctx, ep.Address)
	default:
		return nil, fmt.Errorf("transport: %w: unknown scheme %q", zerr.EInval, ep.Scheme)
	}
}
