package engine

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/infodancer/serverlink/internal/mailbox"
	"github.com/infodancer/serverlink/internal/mechanism"
	"github.com/infodancer/serverlink/internal/pipe"
	"github.com/infodancer/serverlink/internal/zmsg"
)

func newSessionPipePair(t *testing.T) (a, b *pipe.Pipe) {
	t.Helper()
	boxA, err := mailbox.New()
	if err != nil {
		t.Fatalf("mailbox.New: %v", err)
	}
	boxB, err := mailbox.New()
	if err != nil {
		t.Fatalf("mailbox.New: %v", err)
	}
	boxA.SetActive(true)
	boxB.SetActive(true)
	return pipe.NewPair(64, boxA, boxB)
}

func TestEnginePairHandshakeAndMessageFlow(t *testing.T) {
	// A real TCP loopback connection is used instead of net.Pipe, so the
	// handshake and message flow run over a kernel socket buffer exactly
	// as they would over a real network.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	defer ln.Close()

	acceptCh := make(chan net.Conn, 1)
	acceptErrCh := make(chan error, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			acceptErrCh <- err
			return
		}
		acceptCh <- c
	}()

	clientConn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("net.Dial: %v", err)
	}

	var serverConn net.Conn
	select {
	case serverConn = <-acceptCh:
	case err := <-acceptErrCh:
		t.Fatalf("Accept: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Accept")
	}

	clientSessionSide, clientEngineSide := newSessionPipePair(t)
	serverSessionSide, serverEngineSide := newSessionPipePair(t)

	clientEngine := New(clientConn, clientEngineSide, Config{
		SocketType: mechanism.Pair,
		AsServer:   false,
	})
	serverEngine := New(serverConn, serverEngineSide, Config{
		SocketType: mechanism.Pair,
		AsServer:   true,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	runErrs := make(chan error, 2)
	go func() { runErrs <- clientEngine.Run(ctx) }()
	go func() { runErrs <- serverEngine.Run(ctx) }()

	payload, _ := zmsg.InitBuffer([]byte("hello"))
	ok, err := clientSessionSide.Write(payload)
	if err != nil || !ok {
		t.Fatalf("clientSessionSide.Write = %v, %v", ok, err)
	}
	if err := clientSessionSide.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		msg, ok, err := serverSessionSide.Read()
		if err != nil {
			t.Fatalf("serverSessionSide.Read: %v", err)
		}
		if ok {
			if string(msg.Data()) != "hello" {
				t.Fatalf("received %q, want hello", msg.Data())
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for message to cross the engine pair")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-runErrs
	<-runErrs
}

func TestEngineMultiPartMessagePreservesAllFrames(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	defer ln.Close()

	acceptCh := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			acceptCh <- c
		}
	}()

	clientConn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("net.Dial: %v", err)
	}
	var serverConn net.Conn
	select {
	case serverConn = <-acceptCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Accept")
	}

	clientSessionSide, clientEngineSide := newSessionPipePair(t)
	serverSessionSide, serverEngineSide := newSessionPipePair(t)

	clientEngine := New(clientConn, clientEngineSide, Config{SocketType: mechanism.Router, AsServer: false})
	serverEngine := New(serverConn, serverEngineSide, Config{SocketType: mechanism.Router, AsServer: true})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	runErrs := make(chan error, 2)
	go func() { runErrs <- clientEngine.Run(ctx) }()
	go func() { runErrs <- serverEngine.Run(ctx) }()

	// Two zmq-style send calls: the first with MORE set, producing the
	// two-frame ["CLIENT","HELLO"] envelope shape a ROUTER peer sends.
	identity, _ := zmsg.InitBuffer([]byte("CLIENT"))
	identity.SetFlags(zmsg.FlagMore)
	body, _ := zmsg.InitBuffer([]byte("HELLO"))

	if ok, err := clientSessionSide.Write(identity); err != nil || !ok {
		t.Fatalf("write identity frame: %v, %v", ok, err)
	}
	if ok, err := clientSessionSide.Write(body); err != nil || !ok {
		t.Fatalf("write body frame: %v, %v", ok, err)
	}
	if err := clientSessionSide.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	want := []string{"CLIENT", "HELLO"}
	got := make([]string, 0, 2)
	deadline := time.After(2 * time.Second)
	for len(got) < len(want) {
		msg, ok, err := serverSessionSide.Read()
		if err != nil {
			t.Fatalf("serverSessionSide.Read: %v", err)
		}
		if ok {
			got = append(got, string(msg.Data()))
			continue
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for both frames, got %v", got)
		case <-time.After(5 * time.Millisecond):
		}
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("frame %d = %q, want %q (got %v)", i, got[i], want[i], got)
		}
	}

	cancel()
	<-runErrs
	<-runErrs
}
