// Package zerr defines the stable error taxonomy shared by every ServerLink
// component. Errors are sentinel values wrapped with
// fmt.Errorf("...: %w", ...) at the point of detection, never panics.
package zerr

import "errors"

// Kind identifies one of the stable, OS-errno-compatible error categories.
var (
	// EAgain indicates a non-blocking operation would block, or a pipe's
	// high-water mark has been reached.
	EAgain = errors.New("resource temporarily unavailable")

	// EInval indicates a bad option, bad socket type, malformed endpoint,
	// or an empty routing id.
	EInval = errors.New("invalid argument")

	// ENoMem indicates an allocation failure.
	ENoMem = errors.New("out of memory")

	// EProto indicates a malformed ZMTP frame, bad greeting, or failed
	// handshake.
	EProto = errors.New("protocol error")

	// EMsgSize indicates a frame size exceeds the configured maximum.
	EMsgSize = errors.New("message size exceeds limit")

	// ETerm indicates the owning context was terminated. Sticky: once
	// observed by a socket, every later call on that socket returns it.
	ETerm = errors.New("context terminated")

	// EFsm indicates an operation is not valid in the current state.
	EFsm = errors.New("operation not valid in current state")

	// ENoCompatProto indicates the peer's ZMTP revision is unsupported.
	ENoCompatProto = errors.New("incompatible protocol version")

	// EMThread indicates no I/O thread is available.
	EMThread = errors.New("no io thread available")

	// EHostUnreach indicates ROUTER_MANDATORY was set and the destination
	// routing id is unknown.
	EHostUnreach = errors.New("host unreachable")

	// EAddrInUse indicates the bind target is already in use.
	EAddrInUse = errors.New("address in use")

	// EAddrNotAvail indicates the bind target is not valid on this host.
	EAddrNotAvail = errors.New("address not available")

	// EConnRefused indicates a connect attempt was rejected by the peer.
	EConnRefused = errors.New("connection refused")

	// ENameTooLong indicates an IPC path exceeded the platform limit.
	ENameTooLong = errors.New("name too long")

	// EFault indicates a wait on an empty poller set with no timeout,
	// which would otherwise sleep forever.
	EFault = errors.New("bad address")
)

// Is reports whether err (or any error it wraps) matches one of the
// sentinel kinds declared in this package.
func Is(err, kind error) bool {
	return errors.Is(err, kind)
}
