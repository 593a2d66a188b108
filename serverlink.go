// Package serverlink is ServerLink's public facade: a ZMTP-compatible
// messaging library providing socket-style abstractions (ROUTER, DEALER,
// PAIR, PUB, SUB, XPUB, XSUB) over TCP, IPC, and in-process transports.
//
// A Context is the lifecycle root; it creates Sockets, which Bind or
// Connect to endpoints and exchange messages with peers speaking the
// same wire protocol (ZMTP/3.x, NULL mechanism). This package re-exports
// the core types assembled from the internal/zctx, internal/socket,
// internal/mechanism, and internal/zerr packages; applications never
// import those packages directly.
package serverlink

import (
	"log/slog"

	"github.com/infodancer/serverlink/internal/mechanism"
	"github.com/infodancer/serverlink/internal/metrics"
	"github.com/infodancer/serverlink/internal/poller"
	"github.com/infodancer/serverlink/internal/socket"
	"github.com/infodancer/serverlink/internal/zctx"
	"github.com/infodancer/serverlink/internal/zerr"
)

// Context is the lifecycle root: it owns io-thread/
// max-sockets tuning, allocates Sockets, and turns Destroy into a sticky
// ETerm observed by every Socket op that follows.
type Context = zctx.Context

// Socket is one ZMTP socket endpoint: a ROUTER, DEALER,
// PAIR, PUB, SUB, XPUB, or XSUB, reached via Bind/Connect and driven
// with Send/Recv.
type Socket = socket.Socket

// Options configures a Socket at creation time (HWMs, identity,
// heartbeat timers, per-pattern flags — see internal/socket.Options for
// the full table).
type Options = socket.Options

// SocketType names one of the supported ZMTP pattern kinds.
type SocketType = mechanism.SocketType

// Flag controls Send/Recv blocking behavior and frame continuation.
type Flag = socket.Flag

// Collector records pipe/socket/engine metrics; pass metrics.NoopCollector{}
// (the Context default) or a *metrics.PrometheusCollector.
type Collector = metrics.Collector

// CtxOption identifies a Context-level tunable.
type CtxOption = zctx.Option

// Poller multiplexes readiness over raw file descriptors, letting an
// application wait on external FDs alongside socket activity (a socket's
// pollable FD is its mailbox signaler, via Socket.Mailbox().Signaler().FD()).
type Poller = poller.Poller

// PollerEvent is the interest/readiness bitset used with a Poller.
type PollerEvent = poller.Event

// Poller event bits.
const (
	PollIn  = poller.EventRead
	PollOut = poller.EventWrite
	PollErr = poller.EventError
)

// NewPoller creates the platform-native Poller backend (epoll on Linux,
// poll elsewhere).
func NewPoller() (Poller, error) {
	return poller.New()
}

// Context-level option identifiers.
const (
	OptIOThreads         = zctx.OptIOThreads
	OptMaxSockets        = zctx.OptMaxSockets
	OptSocketLimit       = zctx.OptSocketLimit
	OptThreadSchedPolicy = zctx.OptThreadSchedPolicy
	OptThreadPriority    = zctx.OptThreadPriority
	OptThreadNamePrefix  = zctx.OptThreadNamePrefix
	OptMaxMsgSize        = zctx.OptMaxMsgSize
	OptMsgTSize          = zctx.OptMsgTSize
)

// The supported socket pattern kinds.
const (
	Pair   = mechanism.Pair
	Dealer = mechanism.Dealer
	Router = mechanism.Router
	Pub    = mechanism.Pub
	Sub    = mechanism.Sub
	XPub   = mechanism.XPub
	XSub   = mechanism.XSub
)

// Send/Recv flags.
const (
	FlagNone     = socket.FlagNone
	FlagDontWait = socket.FlagDontWait
	FlagMore     = socket.FlagMore
)

// Error kinds, re-exported for callers that want to
// errors.Is-check a returned error without importing internal/zerr.
var (
	EAgain         = zerr.EAgain
	EInval         = zerr.EInval
	ENoMem         = zerr.ENoMem
	EProto         = zerr.EProto
	EMsgSize       = zerr.EMsgSize
	ETerm          = zerr.ETerm
	EFsm           = zerr.EFsm
	ENoCompatProto = zerr.ENoCompatProto
	EMThread       = zerr.EMThread
	EHostUnreach   = zerr.EHostUnreach
	EAddrInUse     = zerr.EAddrInUse
	EAddrNotAvail  = zerr.EAddrNotAvail
	EConnRefused   = zerr.EConnRefused
	ENameTooLong   = zerr.ENameTooLong
	EFault         = zerr.EFault
)

// NewContext creates a Context. coll and log may be nil; a nil coll
// defaults to a no-op collector and a nil log defaults to slog.Default().
func NewContext(coll Collector, log *slog.Logger) *Context {
	return zctx.New(coll, log)
}

// NewSocket allocates a Socket of the given pattern type on ctx,
// equivalent to ctx.CreateSocket but named to match the rest of this
// package's verb-first API.
func NewSocket(ctx *Context, typ SocketType, opts Options) (*Socket, error) {
	return ctx.CreateSocket(typ, opts)
}
