// Package session implements the bridge between a stream engine and a
// socket pattern: it owns the engine for one connection
// attempt, hands messages back and forth through a pipe, notifies the
// owning socket when a new pipe is ready for it to adopt, and on a
// connect-side engine failure schedules a reconnect with jitter.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"time"

	"github.com/infodancer/serverlink/internal/engine"
	"github.com/infodancer/serverlink/internal/mailbox"
	"github.com/infodancer/serverlink/internal/pipe"
	"github.com/infodancer/serverlink/internal/transport"
)

// Config tunes reconnection and the engine spawned for each attempt.
type Config struct {
	Endpoint        transport.Endpoint
	ConnectSide     bool // true for connect(), false for an accepted bind-side connection
	ReconnectIvl    time.Duration
	ReconnectIvlMax time.Duration
	PipeHWM         int
	EngineConfig    engine.Config
	Logger          *slog.Logger

	// ConnectRoutingID is the CONNECT_ROUTING_ID option value:
	// the peer identity the owning ROUTER socket should register for this
	// pipe immediately, without waiting for the handshake to confirm it.
	ConnectRoutingID []byte
}

// Dialer produces the next underlying connection for a (re)connect
// attempt. Sockets supply this; bind-side sessions wrap an already
// Accept()-ed net.Conn in a dialer that returns it once and then errors.
type Dialer func(ctx context.Context) (net.Conn, error)

// Session owns one logical connection's lifetime, including any
// reconnect attempts on the connect side.
type Session struct {
	cfg       Config
	socketBox *mailbox.Mailbox // the owning socket's mailbox, notified with CmdOwn for each new pipe
	log       *slog.Logger
}

// New creates a Session. socketBox is the owning socket's mailbox; each
// successful (re)connect posts a CmdOwn command carrying the new
// socket-facing *pipe.Pipe as Arg, which the socket adopts as a new peer
// pipe.
func New(cfg Config, socketBox *mailbox.Mailbox) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{cfg: cfg, socketBox: socketBox, log: logger}
}

// Run drives (re)connection attempts via dial until ctx is cancelled. On
// the connect side, a dial or engine failure schedules a backoff and
// retries; on the bind side (ConnectSide=false), any failure ends Run.
func (s *Session) Run(ctx context.Context, dial Dialer) error {
	attempt := 0
	ivl := s.cfg.ReconnectIvl
	if ivl <= 0 {
		ivl = 100 * time.Millisecond
	}
	maxIvl := s.cfg.ReconnectIvlMax
	if maxIvl <= 0 {
		maxIvl = ivl
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn, err := dial(ctx)
		if err != nil {
			if !s.cfg.ConnectSide {
				return fmt.Errorf("session: accept-side connection unavailable: %w", err)
			}
			if waitErr := s.backoff(ctx, attempt, ivl, maxIvl); waitErr != nil {
				return waitErr
			}
			attempt++
			continue
		}

		boxA, boxB, err := newPipeMailboxes()
		if err != nil {
			conn.Close()
			return fmt.Errorf("session: create pipe mailboxes: %w", err)
		}
		sessionSide, socketSide := pipe.NewPair(s.cfg.PipeHWM, boxA, boxB)

		if s.socketBox != nil {
			if sendErr := s.socketBox.Send(mailbox.Command{Kind: mailbox.CmdOwn, Arg: socketSide, Source: s}); sendErr != nil {
				conn.Close()
				return fmt.Errorf("session: notify socket of new pipe: %w", sendErr)
			}
		}

		eng := engine.New(conn, sessionSide, s.cfg.EngineConfig)
		runErr := eng.Run(ctx)

		if !s.cfg.ConnectSide || ctx.Err() != nil {
			return runErr
		}

		s.log.Warn("engine error, scheduling reconnect",
			slog.String("endpoint", s.cfg.Endpoint.Scheme+"://"+s.cfg.Endpoint.Address),
			slog.Any("error", runErr),
		)
		if waitErr := s.backoff(ctx, attempt, ivl, maxIvl); waitErr != nil {
			return waitErr
		}
		attempt++
	}
}

func newPipeMailboxes() (a, b *mailbox.Mailbox, err error) {
	a, err = mailbox.New()
	if err != nil {
		return nil, nil, err
	}
	b, err = mailbox.New()
	if err != nil {
		return nil, nil, err
	}
	a.SetActive(true)
	b.SetActive(true)
	return a, b, nil
}

// backoff waits for an exponentially-growing interval, clamped to maxIvl
// and then extended by up to 25% random jitter, before the next
// (re)connect attempt.
func (s *Session) backoff(ctx context.Context, attempt int, ivl, maxIvl time.Duration) error {
	d := ivl << attempt
	if d <= 0 || d > maxIvl {
		d = maxIvl
	}
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	d += jitter

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// ConnectRoutingID returns the configured CONNECT_ROUTING_ID value, if
// any.
func (s *Session) ConnectRoutingID() []byte { return s.cfg.ConnectRoutingID }

// ConnectSide reports whether this session is the connect()-initiating
// side, as opposed to an accepted bind-side connection; used by
// PROBE_ROUTER to decide whether a newly attached pipe is
// the one that should emit the probe message.
func (s *Session) ConnectSide() bool { return s.cfg.ConnectSide }

// OnceDialer wraps an already-established connection (typically from
// Listener.Accept) as a Dialer that returns it exactly once, then
// always errors — used for bind-side sessions, which never reconnect.
func OnceDialer(conn net.Conn) Dialer {
	used := false
	return func(ctx context.Context) (net.Conn, error) {
		if used {
			return nil, fmt.Errorf("session: accept-side connection already consumed")
		}
		used = true
		return conn, nil
	}
}

// TransportDialer builds a Dialer that connects to ep on every
// invocation, the connect-side counterpart used for reconnection.
func TransportDialer(ep transport.Endpoint) Dialer {
	return func(ctx context.Context) (net.Conn, error) {
		return transport.Connect(ctx, ep)
	}
}
