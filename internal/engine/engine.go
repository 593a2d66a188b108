// Package engine implements the per-connection stream engine: greeting and mechanism handshake, the decode/encode loop
// bridging wire bytes and the session pipe, heartbeats, handshake
// timeout, and batched vectored writes.
package engine

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/infodancer/serverlink/internal/mechanism"
	"github.com/infodancer/serverlink/internal/metrics"
	"github.com/infodancer/serverlink/internal/pipe"
	"github.com/infodancer/serverlink/internal/wire"
	"github.com/infodancer/serverlink/internal/zerr"
	"github.com/infodancer/serverlink/internal/zmsg"
)

// RouterNotify flags control which disconnect notifications are
// surfaced to the session.
type RouterNotify uint8

const (
	NotifyNone       RouterNotify = 0
	NotifyConnect    RouterNotify = 1 << 0
	NotifyDisconnect RouterNotify = 1 << 1
)

// Config tunes one engine instance.
type Config struct {
	SocketType       mechanism.SocketType
	Identity         []byte
	RecvRoutingID    bool
	AsServer         bool
	HandshakeIvl     time.Duration // 0 disables the handshake timer
	HeartbeatIvl     time.Duration // 0 disables heartbeats
	HeartbeatTTL     uint16        // advertised TTL, network order, carried in PING
	HeartbeatTimeout time.Duration // how long to wait for a PONG before erroring
	MaxMsgSize       int64         // -1 disables the check
	OutBatchSize     int           // bytes; 0 uses defaultOutBatchSize
	OutBatchSlots    int           // buffer count; 0 uses defaultOutBatchSlots
	RouterNotify     RouterNotify
	Collector        metrics.Collector
	Logger           *slog.Logger
}

const (
	defaultOutBatchSize  = 8192
	defaultOutBatchSlots = 16
)

// Engine drives one TCP/IPC connection end-to-end between the wire and a
// session-facing Pipe.
type Engine struct {
	conn net.Conn
	pipe *pipe.Pipe
	cfg  Config
	mech *mechanism.Mechanism
	log  *slog.Logger

	handshakeDone bool
	metadata      *zmsg.Metadata // compiled once after the handshake
	lastActivity  atomic.Int64   // unix nanos of the last inbound read or PONG
}

// New creates an Engine for conn, bridging to sessionPipe.
func New(conn net.Conn, sessionPipe *pipe.Pipe, cfg Config) *Engine {
	if cfg.MaxMsgSize == 0 {
		cfg.MaxMsgSize = wire.NoMaxMsgSize // explicit opt-out, see wire.NoMaxMsgSize
	}
	if cfg.OutBatchSize <= 0 {
		cfg.OutBatchSize = defaultOutBatchSize
	}
	if cfg.OutBatchSlots <= 0 {
		cfg.OutBatchSlots = defaultOutBatchSlots
	}
	if cfg.Collector == nil {
		cfg.Collector = &metrics.NoopCollector{}
	}
	// An unset heartbeat timeout falls back to the interval.
	if cfg.HeartbeatIvl > 0 && cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = cfg.HeartbeatIvl
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		conn: conn,
		pipe: sessionPipe,
		cfg:  cfg,
		mech: mechanism.New(cfg.SocketType, cfg.Identity, cfg.RecvRoutingID),
		log:  logger,
	}
}

// Run performs the handshake then drives read/write loops until ctx is
// cancelled or a fatal error occurs. It always closes conn before
// returning, and on a completed handshake with NotifyDisconnect set it
// pushes an empty disconnect notification into the session pipe first.
func (e *Engine) Run(ctx context.Context) error {
	defer e.conn.Close()

	if err := e.handshake(ctx); err != nil {
		e.cfg.Collector.HandshakeFailure()
		return fmt.Errorf("engine: handshake: %w", err)
	}
	e.handshakeDone = true
	e.lastActivity.Store(time.Now().UnixNano())
	e.compileMetadata()
	e.pipe.SetPeerIdentity(e.mech.PeerIdentity)
	_ = e.pipe.NotifyAttach()

	errCh := make(chan error, 2)
	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() { errCh <- e.readLoop(readCtx) }()
	go func() { errCh <- e.writeLoop(readCtx) }()

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case runErr = <-errCh:
	}
	cancel()
	<-errCh // wait for the other loop to unwind

	if e.cfg.RouterNotify&NotifyDisconnect != 0 {
		_, _ = e.pipe.Write(zmsg.InitDelimiter())
	}
	return runErr
}

// handshake performs the greeting exchange then the NULL mechanism's
// READY/ERROR exchange, optionally bounded by HandshakeIvl.
func (e *Engine) handshake(ctx context.Context) error {
	if e.cfg.HandshakeIvl > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.HandshakeIvl)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() { done <- e.doHandshake() }()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: handshake timed out", zerr.EProto)
	case err := <-done:
		return err
	}
}

// doHandshake writes each of its own handshake steps concurrently with
// reading the peer's, so a fully synchronous conn such as inproc's
// net.Pipe, whose writes block until the peer reads, does not deadlock.
func (e *Engine) doHandshake() error {
	g := wire.NullGreeting(e.cfg.AsServer)
	werr := make(chan error, 1)
	go func() { werr <- g.WriteTo(e.conn) }()
	peerG, err := wire.ReadGreeting(e.conn)
	if err != nil {
		return err
	}
	if err := <-werr; err != nil {
		return err
	}
	if peerG.Mechanism != "NULL" {
		return fmt.Errorf("%w: peer advertised mechanism %q, only NULL is supported", zerr.ENoCompatProto, peerG.Mechanism)
	}

	ready := e.mech.NextHandshakeCommand()
	go func() { werr <- wire.WriteFrame(e.conn, ready, false, true) }()
	frame, err := wire.ReadFrame(e.conn, e.cfg.MaxMsgSize)
	if err != nil {
		return err
	}
	if err := <-werr; err != nil {
		return err
	}
	return e.mech.ProcessHandshakeCommand(frame.Body)
}

// compileMetadata builds the shared metadata dictionary attached to
// every inbound message: the peer's handshake properties plus the
// connection's remote address under "Peer-Address".
func (e *Engine) compileMetadata() {
	props := e.mech.Metadata()
	if addr := e.conn.RemoteAddr(); addr != nil && addr.String() != "" {
		props["Peer-Address"] = addr.String()
	}
	if len(props) > 0 {
		e.metadata = zmsg.NewMetadata(props)
	}
}

// readLoop decodes inbound frames and pushes completed messages into the
// session pipe, implementing backpressure by
// retrying the push with a short backoff when the pipe reports EAgain.
func (e *Engine) readLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		frames, isCmd, err := wire.ReadMessage(e.conn, e.cfg.MaxMsgSize)
		if err != nil {
			return fmt.Errorf("engine: read message: %w", err)
		}
		e.lastActivity.Store(time.Now().UnixNano())

		if isCmd && len(frames) == 1 {
			if handled, err := e.handleCommand(frames[0]); err != nil {
				return err
			} else if handled {
				continue
			}
		}

		// A ZMTP message is a run of one or more frames; every frame but
		// the last carries MORE, and each must reach the session pipe as
		// its own message part.
		for i, body := range frames {
			msg, err := zmsg.InitBuffer(body)
			if err != nil {
				return fmt.Errorf("engine: build message: %w", err)
			}
			if i < len(frames)-1 {
				msg.SetFlags(zmsg.FlagMore)
			}
			if isCmd {
				// SUBSCRIBE/CANCEL fell through handleCommand unhandled;
				// tag the message as a command so the pattern layer
				// (SUB/XSUB) can recognize it instead of treating it as
				// payload data.
				msg.SetFlags(zmsg.FlagCommand)
			}
			if e.metadata != nil {
				msg.SetMetadata(e.metadata)
			}

			if err := e.pushWithBackpressure(ctx, msg); err != nil {
				return err
			}
		}
	}
}

func (e *Engine) pushWithBackpressure(ctx context.Context, msg zmsg.Message) error {
	backoff := time.Millisecond
	const maxBackoff = 50 * time.Millisecond
	for {
		ok, err := e.pipe.Write(msg)
		if err != nil {
			return fmt.Errorf("engine: push to session: %w", err)
		}
		if ok {
			return e.pipe.Flush()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}

// handleCommand processes PING and PONG command frames inline, answering
// PING with PONG immediately. It returns handled=false for any other
// command name, leaving it to be surfaced as an ordinary message (e.g.
// SUBSCRIBE/CANCEL are pushed into the session pipe for the socket
// pattern, which keeps the subscription state).
func (e *Engine) handleCommand(body []byte) (handled bool, err error) {
	name, _, err := wire.ParseCommandName(body)
	if err != nil {
		return false, fmt.Errorf("engine: %w", err)
	}
	switch name {
	case wire.CmdNamePing:
		_, ctxBytes, err := wire.DecodePing(body)
		if err != nil {
			return false, fmt.Errorf("engine: %w", err)
		}
		return true, wire.WriteFrame(e.conn, wire.EncodePong(ctxBytes), false, true)
	case wire.CmdNamePong:
		e.lastActivity.Store(time.Now().UnixNano())
		return true, nil
	default:
		return false, nil
	}
}

// writeLoop pulls outbound messages from the session pipe, encodes them,
// and batches the resulting frames into vectored writes. It also owns the
// heartbeat ping ticker.
func (e *Engine) writeLoop(ctx context.Context) error {
	var heartbeat <-chan time.Time
	if e.cfg.HeartbeatIvl > 0 {
		ticker := time.NewTicker(e.cfg.HeartbeatIvl)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	idle := time.NewTicker(time.Millisecond)
	defer idle.Stop()

	var batch net.Buffers
	var batchBytes int

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := batch.WriteTo(e.conn); err != nil {
			return fmt.Errorf("engine: vectored write: %w", err)
		}
		batch = nil
		batchBytes = 0
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			_ = flush()
			return ctx.Err()
		case <-heartbeat:
			if e.cfg.HeartbeatTimeout > 0 {
				if nanos := e.lastActivity.Load(); nanos > 0 && time.Since(time.Unix(0, nanos)) > e.cfg.HeartbeatTimeout {
					return fmt.Errorf("engine: %w: no PONG within heartbeat_timeout", zerr.EProto)
				}
			}
			if err := flush(); err != nil {
				return err
			}
			ping := wire.EncodePing(e.cfg.HeartbeatTTL, nil)
			if err := wire.WriteFrame(e.conn, ping, false, true); err != nil {
				return fmt.Errorf("engine: write ping: %w", err)
			}
		case <-idle.C:
			msg, ok, err := e.pipe.Read()
			if err != nil {
				return fmt.Errorf("engine: pull from session: %w", err)
			}
			if !ok {
				if err := flush(); err != nil {
					return err
				}
				continue
			}

			var buf bytes.Buffer
			if err := wire.WriteFrame(&buf, msg.Data(), msg.More(), msg.IsCommand()); err != nil {
				return fmt.Errorf("engine: encode message: %w", err)
			}
			batch = append(batch, buf.Bytes())
			batchBytes += buf.Len()

			if batchBytes >= e.cfg.OutBatchSize || len(batch) >= e.cfg.OutBatchSlots {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
}
