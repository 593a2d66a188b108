// Package zctx implements the Context lifecycle root:
// I/O thread count, a max-sockets admission gate, socket allocation,
// and sticky-ETERM termination.
package zctx

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/infodancer/serverlink/internal/mechanism"
	"github.com/infodancer/serverlink/internal/metrics"
	"github.com/infodancer/serverlink/internal/socket"
	"github.com/infodancer/serverlink/internal/zerr"
	"github.com/infodancer/serverlink/internal/zmsg"
)

// socketLimit mirrors libzmq's platform-dependent ZMQ_SOCKET_LIMIT: an
// upper bound no Context configuration may exceed, independent of the
// configured MaxSockets.
const socketLimit = 65535

// Option identifies a Context-level tunable.
type Option int

const (
	OptIOThreads Option = iota
	OptMaxSockets
	OptSocketLimit // read-only
	OptThreadSchedPolicy
	OptThreadPriority
	OptThreadNamePrefix
	OptMaxMsgSize
	OptMsgTSize // read-only
)

// admission is an atomic CAS-based gate bounding concurrently open
// sockets: a check-current/CAS-increment retry loop, the same shape a
// server uses to cap accepted connections.
type admission struct {
	max     int64
	current atomic.Int64
}

func newAdmission(max int) *admission {
	return &admission{max: int64(max)}
}

func (a *admission) tryAcquire() bool {
	for {
		cur := a.current.Load()
		if cur >= a.max {
			return false
		}
		if a.current.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

func (a *admission) release() {
	a.current.Add(-1)
}

func (a *admission) count() int64 {
	return a.current.Load()
}

// Context is the lifecycle root: it bounds socket creation, carries the
// collector/logger every socket inherits, and turns destroy() into a
// sticky ETERM observed by every op that follows.
type Context struct {
	mu sync.Mutex

	ioThreads         int
	maxSockets        int
	threadSchedPolicy int
	threadPriority    int
	threadNamePrefix  string
	maxMsgSize        int64

	admission *admission

	coll metrics.Collector
	log  *slog.Logger

	ctx        context.Context
	cancel     context.CancelFunc
	sockets    map[*socket.Socket]struct{}
	terminated bool
}

// New creates a Context with default io_threads=1 and max_sockets=1024,
// clamped to socketLimit.
func New(coll metrics.Collector, log *slog.Logger) *Context {
	if coll == nil {
		coll = &metrics.NoopCollector{}
	}
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Context{
		ioThreads:  1,
		maxSockets: 1024,
		maxMsgSize: -1,
		coll:       coll,
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
		sockets:    make(map[*socket.Socket]struct{}),
	}
	c.admission = newAdmission(c.maxSockets)
	return c
}

// SetOption sets a Context-level tunable. SOCKET_LIMIT and MSG_T_SIZE
// are read-only and return EInval.
func (c *Context) SetOption(opt Option, value int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminated {
		return zerr.ETerm
	}

	switch opt {
	case OptIOThreads:
		if value < 1 {
			return fmt.Errorf("zctx: %w: io_threads must be >= 1", zerr.EInval)
		}
		c.ioThreads = value
	case OptMaxSockets:
		if value < 1 || value > socketLimit {
			return fmt.Errorf("zctx: %w: max_sockets out of range", zerr.EInval)
		}
		c.maxSockets = value
		c.admission = newAdmission(value)
	case OptThreadSchedPolicy:
		c.threadSchedPolicy = value
	case OptThreadPriority:
		c.threadPriority = value
	case OptMaxMsgSize:
		c.maxMsgSize = int64(value)
	case OptSocketLimit, OptMsgTSize:
		return fmt.Errorf("zctx: %w: option is read-only", zerr.EInval)
	default:
		return fmt.Errorf("zctx: %w: unknown option", zerr.EInval)
	}
	return nil
}

// SetThreadNamePrefix sets THREAD_NAME_PREFIX, the one string-valued
// option in the table.
func (c *Context) SetThreadNamePrefix(prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminated {
		return zerr.ETerm
	}
	c.threadNamePrefix = prefix
	return nil
}

// GetOption reads a Context-level tunable.
func (c *Context) GetOption(opt Option) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch opt {
	case OptIOThreads:
		return c.ioThreads, nil
	case OptMaxSockets:
		return c.maxSockets, nil
	case OptSocketLimit:
		return socketLimit, nil
	case OptThreadSchedPolicy:
		return c.threadSchedPolicy, nil
	case OptThreadPriority:
		return c.threadPriority, nil
	case OptMaxMsgSize:
		return int(c.maxMsgSize), nil
	case OptMsgTSize:
		// Parity with ZMQ_MSG_T_SIZE; Go callers never lay out the
		// message struct themselves, so this is informational only.
		return int(unsafe.Sizeof(zmsg.Message{})), nil
	default:
		return 0, fmt.Errorf("zctx: %w: unknown option", zerr.EInval)
	}
}

// IOThreads returns the configured I/O thread count, matching
// runtime.GOMAXPROCS semantics: it bounds how many poller loops the
// caller should run, not how many this package itself spawns.
func (c *Context) IOThreads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ioThreads > 0 {
		return c.ioThreads
	}
	return runtime.GOMAXPROCS(0)
}

// CreateSocket allocates a new socket of the given pattern type,
// enforcing the max_sockets admission gate and rejecting creation once
// the Context has been destroyed.
func (c *Context) CreateSocket(typ mechanism.SocketType, opts socket.Options) (*socket.Socket, error) {
	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		return nil, zerr.ETerm
	}
	if !c.admission.tryAcquire() {
		c.mu.Unlock()
		return nil, fmt.Errorf("zctx: %w: max_sockets (%d) reached", zerr.EMThread, c.maxSockets)
	}
	ctx := c.ctx
	coll := c.coll
	log := c.log
	c.mu.Unlock()

	pattern, err := newPattern(typ, opts)
	if err != nil {
		c.admission.release()
		return nil, err
	}
	if ca, ok := pattern.(socket.CollectorAware); ok {
		ca.SetCollector(coll)
	}

	sock, err := socket.New(ctx, typ, pattern, opts, coll, log.With("socket_type", string(typ)))
	if err != nil {
		c.admission.release()
		return nil, err
	}

	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		_ = sock.Close()
		c.admission.release()
		return nil, zerr.ETerm
	}
	c.sockets[sock] = struct{}{}
	c.mu.Unlock()

	return sock, nil
}

// newPattern instantiates the Pattern implementation for typ.
func newPattern(typ mechanism.SocketType, opts socket.Options) (socket.Pattern, error) {
	switch typ {
	case mechanism.Pair:
		return socket.NewPair(), nil
	case mechanism.Dealer:
		return socket.NewDealer(), nil
	case mechanism.Router:
		return socket.NewRouter(opts.RouterMandatory, opts.RouterHandover), nil
	case mechanism.Pub:
		return socket.NewPub(), nil
	case mechanism.Sub:
		return socket.NewSub(), nil
	case mechanism.XPub:
		return socket.NewXPub(socket.XPubConfig{
			Verbose:  opts.XPubVerbose,
			Verboser: opts.XPubVerboser,
			Manual:   opts.XPubManual,
			NoDrop:   opts.XPubNoDrop,
		}), nil
	case mechanism.XSub:
		return socket.NewXSub(), nil
	default:
		return nil, fmt.Errorf("zctx: %w: unsupported socket type %q", zerr.EInval, typ)
	}
}

// releaseSocket forgets s and returns its admission slot; CloseSocket
// calls it after closing s.
func (c *Context) releaseSocket(s *socket.Socket) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sockets[s]; ok {
		delete(c.sockets, s)
		c.admission.release()
	}
}

// CloseSocket closes s and returns its slot to the admission gate. The
// facade package calls this instead of s.Close() directly so the
// Context's socket count stays accurate.
func (c *Context) CloseSocket(s *socket.Socket) error {
	err := s.Close()
	c.releaseSocket(s)
	return err
}

// SocketCount returns the number of currently open sockets owned by
// this Context.
func (c *Context) SocketCount() int64 {
	return c.admission.count()
}

// Terminated reports whether Destroy has been called.
func (c *Context) Terminated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminated
}

// Destroy sets the terminated flag, wakes and closes every socket still
// open, and cancels the shared context so any blocked engine/session
// loop observes it; further socket creation fails with ETerm. Destroy
// is idempotent and returns once every socket it closed has finished
// its own teardown, so termination completes in bounded time.
func (c *Context) Destroy() error {
	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		return nil
	}
	c.terminated = true
	sockets := make([]*socket.Socket, 0, len(c.sockets))
	for s := range c.sockets {
		sockets = append(sockets, s)
	}
	c.sockets = make(map[*socket.Socket]struct{})
	c.mu.Unlock()

	c.cancel()

	var firstErr error
	for _, s := range sockets {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.admission.release()
	}
	return firstErr
}
