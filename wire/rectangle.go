package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Rectangle is the RFB wire rectangle header: (x,y,w,h,encoding). See
// RFC 6143 §7.6.1.
type Rectangle struct {
	X, Y, Width, Height uint16
	Encoding            int32
}

// WriteTo writes the 12-byte rectangle header in RFB wire order.
func (r Rectangle) WriteTo(w io.Writer) (int64, error) {
	var hdr [12]byte
	binary.BigEndian.PutUint16(hdr[0:2], r.X)
	binary.BigEndian.PutUint16(hdr[2:4], r.Y)
	binary.BigEndian.PutUint16(hdr[4:6], r.Width)
	binary.BigEndian.PutUint16(hdr[6:8], r.Height)
	binary.BigEndian.PutUint32(hdr[8:12], uint32(r.Encoding))
	n, err := w.Write(hdr[:])
	return int64(n), err
}

// ReadRectangle reads a 12-byte rectangle header from r.
func ReadRectangle(r io.Reader) (Rectangle, error) {
	var hdr [12]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Rectangle{}, fmt.Errorf("rfb: read rectangle header: %w", err)
	}
	return Rectangle{
		X:        binary.BigEndian.Uint16(hdr[0:2]),
		Y:        binary.BigEndian.Uint16(hdr[2:4]),
		Width:    binary.BigEndian.Uint16(hdr[4:6]),
		Height:   binary.BigEndian.Uint16(hdr[6:8]),
		Encoding: int32(binary.BigEndian.Uint32(hdr[8:12])),
	}, nil
}

// Rect is a plain integer rectangle used internally by the framebuffer and
// session for dirty-region bookkeeping, distinct from the wire Rectangle
// (which also carries an encoding tag).
type Rect struct {
	X, Y, W, H int
}

// Empty reports whether r covers no pixels.
func (r Rect) Empty() bool { return r.W <= 0 || r.H <= 0 }

// Intersect returns the overlap of r and o, which is empty if they don't
// overlap.
func (r Rect) Intersect(o Rect) Rect {
	x0, y0 := max(r.X, o.X), max(r.Y, o.Y)
	x1, y1 := min(r.X+r.W, o.X+o.W), min(r.Y+r.H, o.Y+o.H)
	if x1 <= x0 || y1 <= y0 {
		return Rect{}
	}
	return Rect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

// Union returns the smallest rectangle containing both r and o. An empty
// operand is ignored.
func (r Rect) Union(o Rect) Rect {
	if r.Empty() {
		return o
	}
	if o.Empty() {
		return r
	}
	x0, y0 := min(r.X, o.X), min(r.Y, o.Y)
	x1, y1 := max(r.X+r.W, o.X+o.W), max(r.Y+r.H, o.Y+o.H)
	return Rect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

// Clip restricts r to the w×h bounds of a framebuffer.
func (r Rect) Clip(w, h int) Rect {
	x0, y0 := max(r.X, 0), max(r.Y, 0)
	x1, y1 := min(r.X+r.W, w), min(r.Y+r.H, h)
	if x1 <= x0 || y1 <= y0 {
		return Rect{}
	}
	return Rect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

// Subtract returns the parts of r not covered by other, decomposed into
// up to four non-overlapping rectangles (the standard cross-split used
// for 2D rectangle differencing). Used to trim a dirty rectangle down to
// what's left after a CopyRect candidate covers part of it.
func (r Rect) Subtract(other Rect) []Rect {
	inter := r.Intersect(other)
	if inter.Empty() {
		return []Rect{r}
	}

	var out []Rect
	if r.Y < inter.Y {
		out = append(out, Rect{X: r.X, Y: r.Y, W: r.W, H: inter.Y - r.Y})
	}
	if r.Y+r.H > inter.Y+inter.H {
		out = append(out, Rect{X: r.X, Y: inter.Y + inter.H, W: r.W, H: (r.Y + r.H) - (inter.Y + inter.H)})
	}
	if r.X < inter.X {
		out = append(out, Rect{X: r.X, Y: inter.Y, W: inter.X - r.X, H: inter.H})
	}
	if r.X+r.W > inter.X+inter.W {
		out = append(out, Rect{X: inter.X + inter.W, Y: inter.Y, W: (r.X + r.W) - (inter.X + inter.W), H: inter.H})
	}
	return out
}

func (r Rect) ToWire(encoding int32) Rectangle {
	return Rectangle{
		X: uint16(r.X), Y: uint16(r.Y),
		Width: uint16(r.W), Height: uint16(r.H),
		Encoding: encoding,
	}
}
