package transport

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/infodancer/serverlink/internal/zerr"
)

type tcpListener struct {
	ln   *net.TCPListener
	addr string
	ka   KeepAlive
}

// bindTCP implements tcp://HOST:PORT, with "*" meaning INADDR_ANY for
// host and an ephemeral port request for port.
func bindTCP(address string, ka KeepAlive) (Listener, error) {
	host, port, err := resolveHostPort(address)
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, classifyListenErr(err)
	}
	tln := ln.(*net.TCPListener)
	return &tcpListener{ln: tln, addr: tln.Addr().String(), ka: ka}, nil
}

// applyKeepAlive configures SO_KEEPALIVE and the idle/interval/count
// timers on conn per ka. A
// zero Idle/Interval/Count leaves the OS default for that parameter.
func applyKeepAlive(conn net.Conn, ka KeepAlive) {
	if !ka.Enabled {
		return
	}
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	_ = tc.SetKeepAliveConfig(net.KeepAliveConfig{
		Enable:   true,
		Idle:     ka.Idle,
		Interval: ka.Interval,
		Count:    ka.Count,
	})
}

func resolveHostPort(address string) (host, port string, err error) {
	host, port, err = net.SplitHostPort(address)
	if err != nil {
		return "", "", fmt.Errorf("transport: %w: bad tcp address %q", zerr.EInval, address)
	}
	if host == "*" {
		host = ""
	}
	if port == "*" {
		port = "0"
	}
	return host, port, nil
}

func classifyListenErr(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "address already in use"):
		return fmt.Errorf("transport: %w: %v", zerr.EAddrInUse, err)
	case strings.Contains(msg, "cannot assign requested address"),
		strings.Contains(msg, "can't assign requested address"):
		return fmt.Errorf("transport: %w: %v", zerr.EAddrNotAvail, err)
	default:
		return fmt.Errorf("transport: listen: %w", err)
	}
}

func (l *tcpListener) Accept(ctx context.Context) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := l.ln.Accept()
		ch <- result{c, err}
	}()

	select {
	case <-ctx.Done():
		l.ln.Close()
		return nil, ctx.Err()
	case r := <-ch:
		if r.conn != nil {
			applyKeepAlive(r.conn, l.ka)
		}
		return r.conn, r.err
	}
}

func (l *tcpListener) LastEndpoint() string { return "tcp://" + l.addr }

func (l *tcpListener) Close() error { return l.ln.Close() }

func dialTCP(ctx context.Context, address string, ka KeepAlive) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		if strings.Contains(err.Error(), "connection refused") {
			return nil, fmt.Errorf("transport: %w: %v", zerr.EConnRefused, err)
		}
		return nil, fmt.Errorf("transport: dial tcp %s: %w", address, err)
	}
	applyKeepAlive(conn, ka)
	return conn, nil
}
