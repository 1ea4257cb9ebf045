package rfb

import (
	"context"
	"io"

	"github.com/vncbridge/rfbserver/encodings"
	"github.com/vncbridge/rfbserver/wire"
)

const (
	msgSetPixelFormat           = 0
	msgSetEncodings             = 2
	msgFramebufferUpdateRequest = 3
	msgKeyEvent                 = 4
	msgPointerEvent             = 5
	msgClientCutText            = 6
)

// readLoop parses client-to-server messages in receipt order and emits
// the corresponding ServerEvent or updates session state. It returns
// when ctx is cancelled or a read fails.
func (s *Session) readLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		msgType, err := wire.ReadUint8(s.br)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return &IoError{Op: "read message type", Err: err}
		}
		s.recordBytesReceived(1)

		if err := s.dispatch(msgType); err != nil {
			return err
		}
	}
}

func (s *Session) dispatch(msgType uint8) error {
	switch msgType {
	case msgSetPixelFormat:
		return s.handleSetPixelFormat()
	case msgSetEncodings:
		return s.handleSetEncodings()
	case msgFramebufferUpdateRequest:
		return s.handleFramebufferUpdateRequest()
	case msgKeyEvent:
		return s.handleKeyEvent()
	case msgPointerEvent:
		return s.handlePointerEvent()
	case msgClientCutText:
		return s.handleClientCutText()
	default:
		return wire.NewProtocolError("unknown client message type", nil)
	}
}

func (s *Session) handleSetPixelFormat() error {
	var pad [3]byte
	if _, err := io.ReadFull(s.br, pad[:]); err != nil {
		return &IoError{Op: "read SetPixelFormat padding", Err: err}
	}
	pf, err := wire.ReadPixelFormat(s.br)
	if err != nil {
		return &IoError{Op: "read SetPixelFormat body", Err: err}
	}

	s.mu.Lock()
	s.pixelFormat = pf
	s.tightDisabled = !pf.IsBGRX32()
	s.mu.Unlock()
	s.recordBytesReceived(len(pad) + 16)

	if s.tightDisabled {
		s.logf("client requested non-BGRX32 pixel format; disabling Tight until restored")
	}
	return nil
}

func (s *Session) handleSetEncodings() error {
	var pad [1]byte
	if _, err := io.ReadFull(s.br, pad[:]); err != nil {
		return &IoError{Op: "read SetEncodings padding", Err: err}
	}
	count, err := wire.ReadUint16(s.br)
	if err != nil {
		return &IoError{Op: "read SetEncodings count", Err: err}
	}

	list := make([]encodings.Encoding, 0, count)
	copyRect, desktopSize, lastRect, cursor := false, false, false, false
	quality, compression := -1, -1

	for i := 0; i < int(count); i++ {
		raw, err := wire.ReadInt32(s.br)
		if err != nil {
			return &IoError{Op: "read encoding entry", Err: err}
		}
		enc := encodings.Encoding(raw)
		list = append(list, enc)

		switch enc {
		case encodings.CopyRect:
			copyRect = true
		case encodings.DesktopSizePseudo:
			desktopSize = true
		case encodings.LastRectPseudo:
			lastRect = true
		case encodings.CursorPseudo:
			cursor = true
		}
		if q, ok := encodings.QualityLevel(enc); ok {
			quality = q
		}
		if c, ok := encodings.CompressionLevel(enc); ok {
			compression = c
		}
	}

	s.mu.Lock()
	s.negotiated = list
	s.supportsCopyRect = copyRect
	s.supportsDesktopSize = desktopSize
	s.supportsLastRect = lastRect
	s.supportsCursor = cursor
	if quality >= 0 {
		s.quality = quality
	}
	if compression >= 0 {
		s.compression = compression
	}
	s.mu.Unlock()
	s.recordBytesReceived(len(pad) + 2 + int(count)*4)
	return nil
}

func (s *Session) handleFramebufferUpdateRequest() error {
	incremental, err := wire.ReadUint8(s.br)
	if err != nil {
		return &IoError{Op: "read FBUR incremental", Err: err}
	}
	x, err := wire.ReadUint16(s.br)
	if err != nil {
		return &IoError{Op: "read FBUR x", Err: err}
	}
	y, err := wire.ReadUint16(s.br)
	if err != nil {
		return &IoError{Op: "read FBUR y", Err: err}
	}
	w, err := wire.ReadUint16(s.br)
	if err != nil {
		return &IoError{Op: "read FBUR w", Err: err}
	}
	h, err := wire.ReadUint16(s.br)
	if err != nil {
		return &IoError{Op: "read FBUR h", Err: err}
	}

	region := wire.Rect{X: int(x), Y: int(y), W: int(w), H: int(h)}

	s.mu.Lock()
	s.requestsUpdate = true
	s.requestedRegion = region
	if incremental == 0 {
		s.pending.Reset(region)
	}
	s.mu.Unlock()
	s.recordBytesReceived(1 + 2 + 2 + 2 + 2)
	s.signalWake()
	return nil
}

func (s *Session) handleKeyEvent() error {
	down, err := wire.ReadUint8(s.br)
	if err != nil {
		return &IoError{Op: "read KeyEvent down", Err: err}
	}
	var pad [2]byte
	if _, err := io.ReadFull(s.br, pad[:]); err != nil {
		return &IoError{Op: "read KeyEvent padding", Err: err}
	}
	keysym, err := wire.ReadUint32(s.br)
	if err != nil {
		return &IoError{Op: "read KeyEvent keysym", Err: err}
	}
	s.recordBytesReceived(1 + len(pad) + 4)
	s.emit(ServerEvent{Kind: EventKeyPress, ID: s.id, Down: down != 0, Keysym: keysym})
	return nil
}

func (s *Session) handlePointerEvent() error {
	mask, err := wire.ReadUint8(s.br)
	if err != nil {
		return &IoError{Op: "read PointerEvent mask", Err: err}
	}
	x, err := wire.ReadUint16(s.br)
	if err != nil {
		return &IoError{Op: "read PointerEvent x", Err: err}
	}
	y, err := wire.ReadUint16(s.br)
	if err != nil {
		return &IoError{Op: "read PointerEvent y", Err: err}
	}
	s.recordBytesReceived(1 + 2 + 2)
	s.emit(ServerEvent{Kind: EventPointerMove, ID: s.id, X: x, Y: y, ButtonMask: mask})
	return nil
}

func (s *Session) handleClientCutText() error {
	var pad [3]byte
	if _, err := io.ReadFull(s.br, pad[:]); err != nil {
		return &IoError{Op: "read ClientCutText padding", Err: err}
	}
	length, err := wire.ReadUint32(s.br)
	if err != nil {
		return &IoError{Op: "read ClientCutText length", Err: err}
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(s.br, buf); err != nil {
		return &IoError{Op: "read ClientCutText body", Err: err}
	}
	s.recordBytesReceived(len(pad) + 4 + len(buf))
	s.emit(ServerEvent{Kind: EventCutText, ID: s.id, Text: string(buf)})
	return nil
}
