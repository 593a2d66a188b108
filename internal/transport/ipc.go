package transport

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/infodancer/serverlink/internal/zerr"
)

// maxUnixPath mirrors the common sockaddr_un path limit; longer paths
// fail with ENameTooLong.
const maxUnixPath = 104

type ipcListener struct {
	ln   *net.UnixListener
	path string
}

// bindIPC implements ipc://PATH: a filesystem-visible Unix-domain stream
// socket, unlinked on Close.
func bindIPC(path string) (Listener, error) {
	if len(path) > maxUnixPath {
		return nil, fmt.Errorf("transport: %w: ipc path %q exceeds %d bytes", zerr.ENameTooLong, path, maxUnixPath)
	}
	_ = os.Remove(path) // best-effort: clear a stale socket file from a previous run

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		if strings.Contains(err.Error(), "permission denied") {
			return nil, fmt.Errorf("transport: bind ipc %s: %w", path, err)
		}
		return nil, fmt.Errorf("transport: bind ipc %s: %w", path, classifyListenErr(err))
	}
	return &ipcListener{ln: ln, path: path}, nil
}

func (l *ipcListener) Accept(ctx context.Context) (net.Conn, error) {
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
		return r.conn, r.err
	}
}

func (l *ipcListener) LastEndpoint() string { return "ipc://" + l.path }

func (l *ipcListener) Close() error {
	err := l.ln.Close()
	_ = os.Remove(l.path)
	return err
}

func dialIPC(ctx context.Context, path string) (net.Conn, error) {
	if len(path) > maxUnixPath {
		return nil, fmt.Errorf("transport: %w: ipc path %q exceeds %d bytes", zerr.ENameTooLong, path, maxUnixPath)
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		if strings.Contains(err.Error(), "connection refused") || strings.Contains(err.Error(), "no such file") {
			return nil, fmt.Errorf("transport: %w: %v", zerr.EConnRefused, err)
		}
		return nil, fmt.Errorf("transport: dial ipc %s: %w", path, err)
	}
	return conn, nil
}
