package rfb

import "github.com/vncbridge/rfbserver/wire"

const msgServerCutText = 3

// SendCutText writes a ServerCutText message carrying text, per RFC 6143
// §7.6.4. It is safe to call from any goroutine; writes are serialized
// against the writer loop's FramebufferUpdate writes via writeMu.
func (s *Session) SendCutText(text string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := wire.WriteUint8(s.conn, msgServerCutText); err != nil {
		return &IoError{Op: "write cut text type", Err: err}
	}
	var pad [3]byte
	if _, err := s.conn.Write(pad[:]); err != nil {
		return &IoError{Op: "write cut text padding", Err: err}
	}
	body := []byte(text)
	if err := wire.WriteUint32(s.conn, uint32(len(body))); err != nil {
		return &IoError{Op: "write cut text length", Err: err}
	}
	if _, err := s.conn.Write(body); err != nil {
		return &IoError{Op: "write cut text body", Err: err}
	}
	s.recordBytesSent(1 + len(pad) + 4 + len(body))
	return nil
}
