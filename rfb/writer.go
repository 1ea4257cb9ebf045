package rfb

import (
	"context"
	"time"

	"github.com/vncbridge/rfbserver/encodings"
	"github.com/vncbridge/rfbserver/wire"
)

const msgFramebufferUpdate = 0

// writeLoop waits on the framebuffer's change-notify signal or an
// explicit wake (from a FramebufferUpdateRequest), and flushes whenever
// (a) requests_update is set, (b) the pending region is non-empty, and
// (c) min_update_interval has elapsed.
func (s *Session) writeLoop(ctx context.Context) error {
	lastWidth, lastHeight := -1, -1

	for {
		notify := s.fb.ChangeNotify()
		select {
		case <-ctx.Done():
			return nil
		case <-notify:
		case <-s.wake:
		}

		s.absorbDirty()

		for s.readyToFlush() {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil
			}
			if err := s.flush(&lastWidth, &lastHeight); err != nil {
				return err
			}
			// Re-check: a FramebufferUpdateRequest may have arrived while
			// we encoded. Damage from framebuffer changes made meanwhile
			// is picked up by absorbDirty on the next wakeup.
		}
	}
}

// absorbDirty unions the damage recorded since this session's last-seen
// generation into its pending region. If more than one generation
// elapsed without this session observing it (a burst of updates while
// the writer was busy encoding), it conservatively unions the whole
// framebuffer rather than risk losing coverage: a slow client must never
// drop a region it hasn't yet been sent.
func (s *Session) absorbDirty() {
	dirty, gen, _, _ := s.fb.LastDirty()

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen == s.seenGeneration {
		return
	}
	if gen > s.seenGeneration+1 {
		width, height, _ := s.fb.Dimensions()
		s.pending.Add(wire.Rect{X: 0, Y: 0, W: width, H: height})
	} else {
		s.pending.Add(dirty)
	}
	s.seenGeneration = gen
}

func (s *Session) readyToFlush() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requestsUpdate && !s.pending.Empty()
}

// flush snapshots the framebuffer, intersects the pending region with
// what the client requested, coalesces it, applies any CopyRect
// candidate first, encodes the remainder, and writes one
// FramebufferUpdate message. On success it clears requests_update and
// the pending region and records last_flush_at.
func (s *Session) flush(lastWidth, lastHeight *int) error {
	buf, width, height, _, scroll, hasScroll := s.fb.Snapshot()

	s.mu.Lock()
	requested := s.requestedRegion
	if requested.Empty() {
		requested = wire.Rect{X: 0, Y: 0, W: width, H: height}
	}
	dirtyRects := s.pending.IntersectRegion(requested)
	supportsCopyRect := s.supportsCopyRect
	supportsDesktopSize := s.supportsDesktopSize
	tightOK := !s.tightDisabled && hasEncoding(s.negotiated, encodings.Tight)
	quality, compression := s.quality, s.compression
	pf := s.pixelFormat
	s.mu.Unlock()

	var wireRects []wire.Rectangle
	var bodies [][]byte

	if *lastWidth == -1 {
		*lastWidth, *lastHeight = width, height
	} else if supportsDesktopSize && (*lastWidth != width || *lastHeight != height) {
		wireRects = append(wireRects, wire.Rect{X: 0, Y: 0, W: width, H: height}.ToWire(int32(encodings.DesktopSizePseudo)))
		bodies = append(bodies, nil)
		*lastWidth, *lastHeight = width, height
	}

	if hasScroll && supportsCopyRect && len(dirtyRects) > 0 {
		copyDest := scroll.Rect
		srcX, srcY := copyDest.X-scroll.DX, copyDest.Y-scroll.DY
		wireRects = append(wireRects, copyDest.ToWire(int32(encodings.CopyRect)))
		body := make([]byte, 4)
		body[0], body[1] = byte(srcX>>8), byte(srcX)
		body[2], body[3] = byte(srcY>>8), byte(srcY)
		bodies = append(bodies, body)

		trimmed := make([]wire.Rect, 0, len(dirtyRects))
		for _, r := range dirtyRects {
			trimmed = append(trimmed, r.Subtract(copyDest)...)
		}
		dirtyRects = trimmed
	}

	for _, r := range dirtyRects {
		if r.Empty() {
			continue
		}
		pixels := extractRegion(buf, width, r)
		chosenEncoding, encoded, err := s.encodeRect(pixels, r, tightOK, quality, compression, pf)
		if err != nil {
			s.logf("encode rect %+v failed, skipping: %v", r, err)
			continue
		}
		wireRects = append(wireRects, r.ToWire(chosenEncoding))
		bodies = append(bodies, encoded)
	}

	if err := s.writeFramebufferUpdate(wireRects, bodies); err != nil {
		return err
	}

	s.mu.Lock()
	s.requestsUpdate = false
	s.pending.Clear()
	s.lastFlushAt = time.Now()
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordFlush(len(wireRects))
	}
	return nil
}

func hasEncoding(list []encodings.Encoding, want encodings.Encoding) bool {
	for _, e := range list {
		if e == want {
			return true
		}
	}
	return false
}

// extractRegion copies out the BGRX pixels of rect from a full-frame
// buffer in row-major order.
func extractRegion(buf []byte, fbWidth int, rect wire.Rect) []byte {
	out := make([]byte, rect.W*rect.H*4)
	rowBytes := rect.W * 4
	for row := 0; row < rect.H; row++ {
		srcOff := ((rect.Y+row)*fbWidth + rect.X) * 4
		dstOff := row * rowBytes
		copy(out[dstOff:dstOff+rowBytes], buf[srcOff:srcOff+rowBytes])
	}
	return out
}

// encodeRect picks the highest-preference encoding the client accepts
// among {Tight, Raw} and encodes pixels, translating per-pixel for Raw
// if the client's pixel format isn't BGRX32.
func (s *Session) encodeRect(pixels []byte, rect wire.Rect, tightOK bool, quality, compression int, pf wire.PixelFormat) (int32, []byte, error) {
	if tightOK {
		out, err := s.encoderFor(encodings.Tight).Encode(pixels, rect.W, rect.H, quality, compression)
		if err == nil {
			return int32(encodings.Tight), out, nil
		}
		s.logf("tight encode failed for rect %+v, falling back to raw: %v", rect, err)
	}

	if pf.IsBGRX32() {
		out, err := s.encoderFor(encodings.Raw).Encode(pixels, rect.W, rect.H, quality, compression)
		return int32(encodings.Raw), out, err
	}

	translated := make([]byte, 0, rect.W*rect.H*int(pf.BPP)/8)
	for i := 0; i < rect.W*rect.H; i++ {
		px := pixels[i*4 : i*4+4]
		translated = append(translated, pf.TranslateBGRX(px[0], px[1], px[2])...)
	}
	return int32(encodings.Raw), translated, nil
}

func (s *Session) writeFramebufferUpdate(rects []wire.Rectangle, bodies [][]byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := wire.WriteUint8(s.conn, msgFramebufferUpdate); err != nil {
		return &IoError{Op: "write FBU type", Err: err}
	}
	if err := wire.WriteUint8(s.conn, 0); err != nil {
		return &IoError{Op: "write FBU padding", Err: err}
	}
	if err := wire.WriteUint16(s.conn, uint16(len(rects))); err != nil {
		return &IoError{Op: "write FBU rect count", Err: err}
	}
	sent := 4 // type + padding + rect count

	for i, r := range rects {
		n, err := r.WriteTo(s.conn)
		if err != nil {
			return &IoError{Op: "write rectangle header", Err: err}
		}
		sent += int(n)
		if len(bodies[i]) > 0 {
			if _, err := s.conn.Write(bodies[i]); err != nil {
				return &IoError{Op: "write rectangle body", Err: err}
			}
			sent += len(bodies[i])
		}
	}
	s.recordBytesSent(sent)
	return nil
}
