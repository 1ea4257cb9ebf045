package rfb

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/vncbridge/rfbserver/wire"
)

// handshakeTimeout bounds the whole negotiate sequence to the 30s hard
// limit on the authentication phase (extended here to cover version
// exchange and init too, since none of it should ever take long).
const handshakeTimeout = 30 * time.Second

const (
	secTypeNone    = 1
	secTypeVncAuth = 2

	secResultOK     = 0
	secResultFailed = 1
)

// negotiate drives VersionExchange -> Security -> SecurityResult ->
// ClientInit -> ServerInit.
func (s *Session) negotiate(ctx context.Context) error {
	deadline := time.Now().Add(handshakeTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	s.conn.SetDeadline(deadline)
	defer s.conn.SetDeadline(time.Time{})

	version, err := s.versionExchange()
	if err != nil {
		return err
	}
	s.logf("negotiated protocol version %s", version)

	attempts := 0
	for {
		ok, err := s.securityHandshake()
		if err != nil {
			return err
		}
		if ok {
			break
		}
		attempts++
		if attempts >= maxAuthAttempts {
			return AuthFailed{}
		}
	}

	if err := s.clientInit(); err != nil {
		return err
	}
	if err := s.serverInit(); err != nil {
		return err
	}
	return nil
}

// versionExchange sends the server's RFB version and accepts 3.3/3.7/3.8
// from the client; the effective version is min(server, client), but
// since this server only ever implements 3.8 behavior, anything 3.3-3.8
// is accepted and treated identically.
func (s *Session) versionExchange() (string, error) {
	const serverVersion = "RFB 003.008\n"
	if _, err := io.WriteString(s.conn, serverVersion); err != nil {
		return "", &IoError{Op: "write version", Err: err}
	}

	buf := make([]byte, 12)
	if _, err := io.ReadFull(s.br, buf); err != nil {
		return "", &IoError{Op: "read version", Err: err}
	}
	v := string(buf)
	switch v {
	case "RFB 003.003\n", "RFB 003.007\n", "RFB 003.008\n":
		return v, nil
	default:
		return "", wire.NewProtocolError(fmt.Sprintf("unsupported client version %q", v), nil)
	}
}

// securityHandshake offers None if no password is configured, else
// VncAuth, and verifies the response. It returns ok=false (not an error)
// on an authentication failure so negotiate can apply the 3-strike rule.
func (s *Session) securityHandshake() (ok bool, err error) {
	if s.password == "" {
		if err := wire.WriteUint8(s.conn, 1); err != nil {
			return false, &IoError{Op: "write security count", Err: err}
		}
		if err := wire.WriteUint8(s.conn, secTypeNone); err != nil {
			return false, &IoError{Op: "write security type", Err: err}
		}
		chosen, err := wire.ReadUint8(s.br)
		if err != nil {
			return false, &IoError{Op: "read security type", Err: err}
		}
		if chosen != secTypeNone {
			return false, wire.NewProtocolError("client chose unsupported security type", nil)
		}
		return s.sendSecurityResult(true)
	}

	if err := wire.WriteUint8(s.conn, 1); err != nil {
		return false, &IoError{Op: "write security count", Err: err}
	}
	if err := wire.WriteUint8(s.conn, secTypeVncAuth); err != nil {
		return false, &IoError{Op: "write security type", Err: err}
	}
	chosen, err := wire.ReadUint8(s.br)
	if err != nil {
		return false, &IoError{Op: "read security type", Err: err}
	}
	if chosen != secTypeVncAuth {
		return false, wire.NewProtocolError("client chose unsupported security type", nil)
	}

	challenge, err := newChallenge()
	if err != nil {
		return false, fmt.Errorf("rfb: generate challenge: %w", err)
	}
	if _, err := s.conn.Write(challenge); err != nil {
		return false, &IoError{Op: "write challenge", Err: err}
	}

	response := make([]byte, challengeSize)
	if _, err := io.ReadFull(s.br, response); err != nil {
		return false, &IoError{Op: "read auth response", Err: err}
	}

	valid, err := verifyVncAuth(s.password, challenge, response)
	if err != nil {
		return false, fmt.Errorf("rfb: verify auth: %w", err)
	}
	return s.sendSecurityResult(valid)
}

// sendSecurityResult writes SecurityResult and returns ok to the caller;
// a false ok is not itself an error, letting negotiate retry up to the
// 3-strike limit.
func (s *Session) sendSecurityResult(ok bool) (bool, error) {
	if ok {
		if err := wire.WriteUint32(s.conn, secResultOK); err != nil {
			return false, &IoError{Op: "write security result", Err: err}
		}
		return true, nil
	}
	if err := wire.WriteUint32(s.conn, secResultFailed); err != nil {
		return false, &IoError{Op: "write security result", Err: err}
	}
	const reason = "authentication failed"
	if err := wire.WriteUint32(s.conn, uint32(len(reason))); err != nil {
		return false, &IoError{Op: "write security reason length", Err: err}
	}
	if _, err := io.WriteString(s.conn, reason); err != nil {
		return false, &IoError{Op: "write security reason", Err: err}
	}
	return false, nil
}

// clientInit reads the shared-flag byte and reports it via the
// OnSharedFlag callback.
func (s *Session) clientInit() error {
	shared, err := wire.ReadUint8(s.br)
	if err != nil {
		return &IoError{Op: "read client init", Err: err}
	}
	if s.onShared != nil {
		s.onShared(shared != 0)
	}
	return nil
}

// serverInit sends width, height, pixel format, and desktop name.
func (s *Session) serverInit() error {
	width, height, _ := s.fb.Dimensions()

	if err := wire.WriteUint16(s.conn, uint16(width)); err != nil {
		return &IoError{Op: "write width", Err: err}
	}
	if err := wire.WriteUint16(s.conn, uint16(height)); err != nil {
		return &IoError{Op: "write height", Err: err}
	}
	if _, err := s.conn.Write(wire.BGRX32.Marshal()); err != nil {
		return &IoError{Op: "write pixel format", Err: err}
	}
	if err := wire.WriteUint32(s.conn, uint32(len(s.desktopName))); err != nil {
		return &IoError{Op: "write name length", Err: err}
	}
	if _, err := io.WriteString(s.conn, s.desktopName); err != nil {
		return &IoError{Op: "write name", Err: err}
	}
	return nil
}
