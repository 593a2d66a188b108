package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/infodancer/serverlink/internal/zerr"
)

// inprocRegistry holds every bound inproc:// name process-wide. Connect
// may precede Bind; pending dialers queue on the name's channel until a
// listener materializes and starts draining it.
type inprocRegistry struct {
	mu        sync.Mutex
	listeners map[string]*inprocListener
	pending   map[string][]chan net.Conn
}

var inprocReg = &inprocRegistry{
	listeners: make(map[string]*inprocListener),
	pending:   make(map[string][]chan net.Conn),
}

type inprocListener struct {
	name    string
	conns   chan net.Conn
	closeCh chan struct{}
	once    sync.Once
}

// bindInproc registers name as an in-process endpoint. A duplicate bind
// fails with EAddrInUse.
func bindInproc(name string) (Listener, error) {
	inprocReg.mu.Lock()
	defer inprocReg.mu.Unlock()

	if _, exists := inprocReg.listeners[name]; exists {
		return nil, fmt.Errorf("transport: %w: inproc name %q already bound", zerr.EAddrInUse, name)
	}

	l := &inprocListener{
		name:    name,
		conns:   make(chan net.Conn, 16),
		closeCh: make(chan struct{}),
	}
	inprocReg.listeners[name] = l

	// Drain any connects that arrived before this bind.
	for _, waiter := range inprocReg.pending[name] {
		l.deliverLocked(waiter)
	}
	delete(inprocReg.pending, name)

	return l, nil
}

// deliverLocked creates an in-memory connection pair and hands one end
// to the listener's accept queue, the other to waiter. Caller holds
// inprocReg.mu; net.Pipe itself needs no external locking.
func (l *inprocListener) deliverLocked(waiter chan net.Conn) {
	server, client := net.Pipe()
	l.conns <- server
	waiter <- client
}

func (l *inprocListener) Accept(ctx context.Context) (net.Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closeCh:
		return nil, fmt.Errorf("transport: inproc %q closed", l.name)
	case c := <-l.conns:
		return c, nil
	}
}

func (l *inprocListener) LastEndpoint() string { return "inproc://" + l.name }

func (l *inprocListener) Close() error {
	l.once.Do(func() {
		inprocReg.mu.Lock()
		delete(inprocReg.listeners, l.name)
		inprocReg.mu.Unlock()
		close(l.closeCh)
	})
	return nil
}

// dialInproc connects to a (possibly not-yet-bound) inproc name. If the
// name is already bound the pair is created immediately; otherwise the
// request queues until bindInproc drains it.
func dialInproc(ctx context.Context, name string) (net.Conn, error) {
	inprocReg.mu.Lock()
	if l, ok := inprocReg.listeners[name]; ok {
		waiter := make(chan net.Conn, 1)
		l.deliverLocked(waiter)
		inprocReg.mu.Unlock()
		return <-waiter, nil
	}

	waiter := make(chan net.Conn, 1)
	inprocReg.pending[name] = append(inprocReg.pending[name], waiter)
	inprocReg.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case conn := <-waiter:
		return conn, nil
	}
}
