package server

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/vncbridge/rfbserver/rfb"
)

// TestConnectReverse proves connect_reverse dials a waiting viewer,
// completes the handshake, reports a positive client id through the
// event stream, and reports ClientDisconnected with the same id when the
// viewer closes its end.
func TestConnectReverse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	viewerConnCh := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			viewerConnCh <- conn
		}
	}()

	srv, events, err := New(32, 32, "reverse-test", "")
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	defer srv.Shutdown()

	addr := ln.Addr().(*net.TCPAddr)
	id, err := srv.ConnectReverse("127.0.0.1", addr.Port)
	if err != nil {
		t.Fatalf("ConnectReverse: %v", err)
	}
	if id == 0 {
		t.Fatal("expected a positive session id")
	}

	var viewer net.Conn
	select {
	case viewer = <-viewerConnCh:
	case <-time.After(2 * time.Second):
		t.Fatal("viewer side never accepted a connection")
	}
	defer viewer.Close()

	driveMinimalViewerHandshake(t, viewer)

	connectedID := waitForEvent(t, events, rfb.EventClientConnected)
	if connectedID != id {
		t.Fatalf("expected ClientConnected id %d, got %d", id, connectedID)
	}

	viewer.Close()

	disconnectedID := waitForEvent(t, events, rfb.EventClientDisconnected)
	if disconnectedID != id {
		t.Fatalf("expected ClientDisconnected id %d, got %d", id, disconnectedID)
	}
}

func waitForEvent(t *testing.T, events <-chan rfb.ServerEvent, want rfb.EventKind) uint64 {
	t.Helper()
	for {
		select {
		case ev := <-events:
			if ev.Kind == want {
				return ev.ID
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for event %s", want)
		}
	}
}

// driveMinimalViewerHandshake plays the client side of a no-auth
// handshake just far enough to let the session reach steady state.
func driveMinimalViewerHandshake(t *testing.T, conn net.Conn) {
	t.Helper()
	buf := make([]byte, 12)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("read server version: %v", err)
	}
	if _, err := conn.Write([]byte("RFB 003.008\n")); err != nil {
		t.Fatalf("write client version: %v", err)
	}

	count := make([]byte, 1)
	io.ReadFull(conn, count)
	types := make([]byte, count[0])
	io.ReadFull(conn, types)
	conn.Write([]byte{types[0]})

	result := make([]byte, 4)
	io.ReadFull(conn, result)

	conn.Write([]byte{1}) // shared

	header := make([]byte, 4)
	io.ReadFull(conn, header) // width, height
	pf := make([]byte, 16)
	io.ReadFull(conn, pf)
	nameLen := make([]byte, 4)
	io.ReadFull(conn, nameLen)
	n := int(nameLen[0])<<24 | int(nameLen[1])<<16 | int(nameLen[2])<<8 | int(nameLen[3])
	name := make([]byte, n)
	io.ReadFull(conn, name)
}
