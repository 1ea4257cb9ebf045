package rfb

import (
	"context"
	"crypto/des"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/vncbridge/rfbserver/framebuffer"
)

func newTestFramebuffer(t *testing.T) *framebuffer.Framebuffer {
	t.Helper()
	fb, err := framebuffer.New(16, 16)
	if err != nil {
		t.Fatalf("framebuffer.New: %v", err)
	}
	return fb
}

// TestHandshakeNoAuth drives a full handshake with no password configured
// and expects the server to offer only security type None and accept it.
func TestHandshakeNoAuth(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	fb := newTestFramebuffer(t)
	sess := NewSession(serverConn, Config{ID: 1, Framebuffer: fb, DesktopName: "test-desktop"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sess.negotiate(ctx) }()

	// Client side: version exchange.
	verBuf := make([]byte, 12)
	if _, err := io.ReadFull(clientConn, verBuf); err != nil {
		t.Fatalf("read server version: %v", err)
	}
	if string(verBuf) != "RFB 003.008\n" {
		t.Fatalf("unexpected server version %q", verBuf)
	}
	if _, err := clientConn.Write([]byte("RFB 003.008\n")); err != nil {
		t.Fatalf("write client version: %v", err)
	}

	// Security types: count + list.
	count := readByte(t, clientConn)
	if count != 1 {
		t.Fatalf("expected 1 security type, got %d", count)
	}
	secType := readByte(t, clientConn)
	if secType != secTypeNone {
		t.Fatalf("expected security type None(1), got %d", secType)
	}
	if _, err := clientConn.Write([]byte{secTypeNone}); err != nil {
		t.Fatalf("write chosen security type: %v", err)
	}

	// SecurityResult.
	result := readUint32(t, clientConn)
	if result != secResultOK {
		t.Fatalf("expected SecurityResult OK, got %d", result)
	}

	// ClientInit: shared flag.
	if _, err := clientConn.Write([]byte{1}); err != nil {
		t.Fatalf("write client init: %v", err)
	}

	// ServerInit: width, height, pixel format, name.
	width := readUint16(t, clientConn)
	height := readUint16(t, clientConn)
	if width != 16 || height != 16 {
		t.Fatalf("unexpected server dimensions %dx%d", width, height)
	}
	pf := make([]byte, 16)
	if _, err := io.ReadFull(clientConn, pf); err != nil {
		t.Fatalf("read pixel format: %v", err)
	}
	nameLen := readUint32(t, clientConn)
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(clientConn, name); err != nil {
		t.Fatalf("read desktop name: %v", err)
	}
	if string(name) != "test-desktop" {
		t.Fatalf("unexpected desktop name %q", name)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("negotiate returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("negotiate did not complete")
	}
}

// TestHandshakeVncAuth drives a handshake with a password configured and
// proves a correctly-computed DES response is accepted.
func TestHandshakeVncAuth(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	fb := newTestFramebuffer(t)
	sess := NewSession(serverConn, Config{ID: 2, Password: "sesame12", Framebuffer: fb, DesktopName: "auth-desktop"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sess.negotiate(ctx) }()

	verBuf := make([]byte, 12)
	io.ReadFull(clientConn, verBuf)
	clientConn.Write([]byte("RFB 003.008\n"))

	count := readByte(t, clientConn)
	if count != 1 {
		t.Fatalf("expected 1 security type, got %d", count)
	}
	secType := readByte(t, clientConn)
	if secType != secTypeVncAuth {
		t.Fatalf("expected VncAuth(2), got %d", secType)
	}
	clientConn.Write([]byte{secTypeVncAuth})

	challenge := make([]byte, challengeSize)
	if _, err := io.ReadFull(clientConn, challenge); err != nil {
		t.Fatalf("read challenge: %v", err)
	}

	response := desEncryptChallenge(t, "sesame12", challenge)
	if _, err := clientConn.Write(response); err != nil {
		t.Fatalf("write response: %v", err)
	}

	result := readUint32(t, clientConn)
	if result != secResultOK {
		t.Fatalf("expected SecurityResult OK, got %d", result)
	}

	clientConn.Write([]byte{0})

	readUint16(t, clientConn)
	readUint16(t, clientConn)
	pf := make([]byte, 16)
	io.ReadFull(clientConn, pf)
	nameLen := readUint32(t, clientConn)
	name := make([]byte, nameLen)
	io.ReadFull(clientConn, name)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("negotiate returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("negotiate did not complete")
	}
}

// TestHandshakeVncAuthWrongPassword proves a bad response is rejected
// across all three attempts and the session reports AuthFailed.
func TestHandshakeVncAuthWrongPassword(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	fb := newTestFramebuffer(t)
	sess := NewSession(serverConn, Config{ID: 3, Password: "sesame12", Framebuffer: fb})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sess.negotiate(ctx) }()

	verBuf := make([]byte, 12)
	io.ReadFull(clientConn, verBuf)
	clientConn.Write([]byte("RFB 003.008\n"))

	for i := 0; i < maxAuthAttempts; i++ {
		readByte(t, clientConn)
		readByte(t, clientConn)
		clientConn.Write([]byte{secTypeVncAuth})

		challenge := make([]byte, challengeSize)
		io.ReadFull(clientConn, challenge)
		clientConn.Write(make([]byte, challengeSize)) // wrong response

		result := readUint32(t, clientConn)
		if result != secResultFailed {
			t.Fatalf("attempt %d: expected SecurityResult Failed, got %d", i, result)
		}
		reasonLen := readUint32(t, clientConn)
		reason := make([]byte, reasonLen)
		io.ReadFull(clientConn, reason)
	}

	select {
	case err := <-done:
		if _, ok := err.(AuthFailed); !ok {
			t.Fatalf("expected AuthFailed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("negotiate did not complete")
	}
}

func readByte(t *testing.T, r io.Reader) byte {
	t.Helper()
	buf := make([]byte, 1)
	if _, err := io.ReadFull(r, buf); err != nil {
		t.Fatalf("read byte: %v", err)
	}
	return buf[0]
}

func readUint16(t *testing.T, r io.Reader) uint16 {
	t.Helper()
	buf := make([]byte, 2)
	if _, err := io.ReadFull(r, buf); err != nil {
		t.Fatalf("read uint16: %v", err)
	}
	return binary.BigEndian.Uint16(buf)
}

func readUint32(t *testing.T, r io.Reader) uint32 {
	t.Helper()
	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil {
		t.Fatalf("read uint32: %v", err)
	}
	return binary.BigEndian.Uint32(buf)
}

func desEncryptChallenge(t *testing.T, password string, challenge []byte) []byte {
	t.Helper()
	key := vncAuthKey(password)
	block, err := des.NewCipher(key)
	if err != nil {
		t.Fatalf("des.NewCipher: %v", err)
	}
	out := make([]byte, challengeSize)
	block.Encrypt(out[0:8], challenge[0:8])
	block.Encrypt(out[8:16], challenge[8:16])
	return out
}
