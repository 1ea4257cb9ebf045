package wire

import (
	"fmt"
	"io"
)

// PixelFormat is the 16-byte RFB pixel format descriptor, RFC 6143 §7.4.
// This server advertises and requires 32-bpp little-endian BGRX; a client
// may still request a different format via SetPixelFormat, in which case
// Raw translates per-pixel and Tight is disabled until BGRX is restored
// (see Session.tightDisabled).
type PixelFormat struct {
	BPP, Depth          uint8
	BigEndian, TrueColor bool
	RedMax, GreenMax, BlueMax       uint16
	RedShift, GreenShift, BlueShift uint8
}

// BGRX32 is the fixed format this server requires: 32 bits per pixel,
// depth 24, little-endian, true-color, B in the low byte.
var BGRX32 = PixelFormat{
	BPP: 32, Depth: 24,
	BigEndian: false, TrueColor: true,
	RedMax: 255, GreenMax: 255, BlueMax: 255,
	RedShift: 16, GreenShift: 8, BlueShift: 0,
}

// IsBGRX32 reports whether f is wire-compatible with BGRX32 (the only
// format the Tight encoder can produce without a translation step).
func (f PixelFormat) IsBGRX32() bool {
	return f.BPP == 32 && f.Depth == 24 && !f.BigEndian && f.TrueColor &&
		f.RedMax == 255 && f.GreenMax == 255 && f.BlueMax == 255 &&
		f.RedShift == 16 && f.GreenShift == 8 && f.BlueShift == 0
}

// Marshal writes the 16-byte wire representation of f.
func (f PixelFormat) Marshal() []byte {
	buf := make([]byte, 16)
	buf[0] = f.BPP
	buf[1] = f.Depth
	buf[2] = boolByte(f.BigEndian)
	buf[3] = boolByte(f.TrueColor)
	putUint16(buf[4:6], f.RedMax)
	putUint16(buf[6:8], f.GreenMax)
	putUint16(buf[8:10], f.BlueMax)
	buf[10] = f.RedShift
	buf[11] = f.GreenShift
	buf[12] = f.BlueShift
	// buf[13:16] is padding, left zero.
	return buf
}

// UnmarshalPixelFormat parses the 16-byte wire representation.
func UnmarshalPixelFormat(buf []byte) (PixelFormat, error) {
	if len(buf) != 16 {
		return PixelFormat{}, fmt.Errorf("rfb: pixel format must be 16 bytes, got %d", len(buf))
	}
	return PixelFormat{
		BPP:         buf[0],
		Depth:       buf[1],
		BigEndian:   buf[2] != 0,
		TrueColor:   buf[3] != 0,
		RedMax:      uint16(buf[4])<<8 | uint16(buf[5]),
		GreenMax:    uint16(buf[6])<<8 | uint16(buf[7]),
		BlueMax:     uint16(buf[8])<<8 | uint16(buf[9]),
		RedShift:    buf[10],
		GreenShift:  buf[11],
		BlueShift:   buf[12],
	}, nil
}

// ReadPixelFormat reads and parses a 16-byte pixel format from r.
func ReadPixelFormat(r io.Reader) (PixelFormat, error) {
	buf := make([]byte, 16)
	if _, err := io.ReadFull(r, buf); err != nil {
		return PixelFormat{}, fmt.Errorf("rfb: read pixel format: %w", err)
	}
	return UnmarshalPixelFormat(buf)
}

// TranslateBGRX converts one BGRX32 pixel into f's wire representation.
// Only used on the session's Raw path when a client has negotiated a
// pixel format other than BGRX32.
func (f PixelFormat) TranslateBGRX(b, g, r byte) []byte {
	if f.IsBGRX32() {
		return []byte{b, g, r, 0}
	}
	rv := uint32(r) * uint32(f.RedMax) / 255
	gv := uint32(g) * uint32(f.GreenMax) / 255
	bv := uint32(b) * uint32(f.BlueMax) / 255
	v := rv<<f.RedShift | gv<<f.GreenShift | bv<<f.BlueShift

	out := make([]byte, f.BPP/8)
	switch f.BPP {
	case 8:
		out[0] = byte(v)
	case 16:
		if f.BigEndian {
			putUint16(out, uint16(v))
		} else {
			out[0], out[1] = byte(v), byte(v>>8)
		}
	case 32:
		if f.BigEndian {
			out[0], out[1], out[2], out[3] = byte(v>>24), byte(v>>16), byte(v>>8), byte(v)
		} else {
			out[0], out[1], out[2], out[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
		}
	default:
		// Unsupported bits-per-pixel: emit zeros rather than panic.
	}
	return out
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

func putUint16(buf []byte, v uint16) {
	buf[0] = byte(v >> 8)
	buf[1] = byte(v)
}
