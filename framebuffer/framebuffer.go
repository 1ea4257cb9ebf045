// Package framebuffer holds the server's current pixel image, tracks what
// has changed since the last frame, and detects whole-image scrolls so a
// session can emit CopyRect instead of pixel data.
package framebuffer

import (
	"fmt"
	"sync"

	"github.com/vncbridge/rfbserver/wire"
)

const bytesPerPixel = 4

// MinDimension and MaxDimension bound the framebuffer's width and height.
const (
	MinDimension = 1
	MaxDimension = 8192
)

// ErrInvalidDimensions is returned when a requested width or height falls
// outside [MinDimension, MaxDimension].
type ErrInvalidDimensions struct {
	Width, Height int
}

func (e *ErrInvalidDimensions) Error() string {
	return fmt.Sprintf("framebuffer: invalid dimensions %dx%d", e.Width, e.Height)
}

// ErrSizeMismatch is returned when an update buffer's length doesn't match
// the declared geometry.
type ErrSizeMismatch struct {
	Want, Got int
}

func (e *ErrSizeMismatch) Error() string {
	return fmt.Sprintf("framebuffer: size mismatch: want %d bytes, got %d", e.Want, e.Got)
}

func ValidDimensions(w, h int) error {
	if w < MinDimension || w > MaxDimension || h < MinDimension || h > MaxDimension {
		return &ErrInvalidDimensions{Width: w, Height: h}
	}
	return nil
}

// ScrollCandidate is a translation hypothesis: the post-update image equals
// the pre-update image shifted by (DX,DY) within Rect.
type ScrollCandidate struct {
	DX, DY int
	Rect   wire.Rect
}

// Framebuffer holds the current 32-bpp BGRX pixel image. It is safe for
// concurrent use by many readers and one writer; the writer is either the
// embedding (via UpdateFromSlice/UpdateCropped) or Resize.
type Framebuffer struct {
	mu         sync.RWMutex
	width      int
	height     int
	bytes      []byte
	generation uint64

	changeMu sync.Mutex
	changeCh chan struct{} // closed and replaced on every change, broadcast-style

	lastScroll ScrollCandidate
	hasScroll  bool
	lastDirty  wire.Rect
}

// LastDirty reports the dirty rectangle and scroll candidate recorded by
// the most recent update, along with the generation they belong to.
// Sessions use this to union new damage into their own per-client
// pending region: dirty tracking is per-client, owned by the session,
// not the framebuffer.
func (f *Framebuffer) LastDirty() (dirty wire.Rect, generation uint64, scroll ScrollCandidate, hasScroll bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lastDirty, f.generation, f.lastScroll, f.hasScroll
}

// New creates a framebuffer of the given dimensions, zero-initialized.
func New(width, height int) (*Framebuffer, error) {
	if err := ValidDimensions(width, height); err != nil {
		return nil, err
	}
	return &Framebuffer{
		width:    width,
		height:   height,
		bytes:    make([]byte, width*height*bytesPerPixel),
		changeCh: make(chan struct{}),
	}, nil
}

// Dimensions returns width and height, and the generation they belong to,
// read atomically with respect to Resize.
func (f *Framebuffer) Dimensions() (width, height int, generation uint64) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.width, f.height, f.generation
}

func (f *Framebuffer) Width() int  { w, _, _ := f.Dimensions(); return w }
func (f *Framebuffer) Height() int { _, h, _ := f.Dimensions(); return h }

// Snapshot returns the current generation, a copy of the pixel bytes, and
// any scroll candidate recorded by the most recent update. Encoders must
// not retain a reference to buf past the call that produced it; it is
// intended for copy-once-then-release use.
func (f *Framebuffer) Snapshot() (buf []byte, width, height int, generation uint64, scroll ScrollCandidate, hasScroll bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	cp := make([]byte, len(f.bytes))
	copy(cp, f.bytes)
	return cp, f.width, f.height, f.generation, f.lastScroll, f.hasScroll
}

// ChangeNotify returns a channel that is closed when the framebuffer next
// changes (update or resize). Callers must call this again after each
// wakeup to wait for the subsequent change.
func (f *Framebuffer) ChangeNotify() <-chan struct{} {
	f.changeMu.Lock()
	defer f.changeMu.Unlock()
	return f.changeCh
}

func (f *Framebuffer) broadcast() {
	f.changeMu.Lock()
	old := f.changeCh
	f.changeCh = make(chan struct{})
	f.changeMu.Unlock()
	close(old)
}

// UpdateFromSlice replaces the entire image. len(buf) must equal
// width*height*4. The dirty rectangle returned is the bounding box of
// differing rows, or the whole image if every row differs.
func (f *Framebuffer) UpdateFromSlice(buf []byte) (dirty wire.Rect, generation uint64, err error) {
	f.mu.Lock()
	want := f.width * f.height * bytesPerPixel
	if len(buf) != want {
		f.mu.Unlock()
		return wire.Rect{}, 0, &ErrSizeMismatch{Want: want, Got: len(buf)}
	}

	dirty = diffBoundingBox(f.bytes, buf, f.width, f.height)
	scroll, ok := detectScroll(f.bytes, buf, f.width, f.height)

	next := make([]byte, len(buf))
	copy(next, buf)
	f.bytes = next
	f.generation++
	generation = f.generation
	f.lastScroll, f.hasScroll = scroll, ok
	f.lastDirty = dirty

	f.mu.Unlock()
	f.broadcast()
	return dirty, generation, nil
}

// UpdateCropped blits buf into the region (x,y,w,h), clipped to the
// framebuffer. len(buf) must equal w*h*4.
func (f *Framebuffer) UpdateCropped(buf []byte, x, y, w, h int) (dirty wire.Rect, generation uint64, err error) {
	f.mu.Lock()
	want := w * h * bytesPerPixel
	if len(buf) != want {
		f.mu.Unlock()
		return wire.Rect{}, 0, &ErrSizeMismatch{Want: want, Got: len(buf)}
	}

	clipped := wire.Rect{X: x, Y: y, W: w, H: h}.Clip(f.width, f.height)
	if !clipped.Empty() {
		rowBytes := clipped.W * bytesPerPixel
		for row := 0; row < clipped.H; row++ {
			srcY := row + (clipped.Y - y)
			srcX := (clipped.X - x) * bytesPerPixel
			srcOff := srcY*w*bytesPerPixel + srcX
			dstOff := (clipped.Y+row)*f.width*bytesPerPixel + clipped.X*bytesPerPixel
			copy(f.bytes[dstOff:dstOff+rowBytes], buf[srcOff:srcOff+rowBytes])
		}
	}

	f.generation++
	generation = f.generation
	f.hasScroll = false
	f.lastDirty = clipped
	f.mu.Unlock()
	f.broadcast()
	return clipped, generation, nil
}

// Resize replaces the backing storage. Existing content is preserved in
// the min-area top-left overlap; new area is zero-initialized.
func (f *Framebuffer) Resize(width, height int) (generation uint64, err error) {
	if err := ValidDimensions(width, height); err != nil {
		return 0, err
	}

	f.mu.Lock()
	next := make([]byte, width*height*bytesPerPixel)
	overlapW, overlapH := min(width, f.width), min(height, f.height)
	for row := 0; row < overlapH; row++ {
		srcOff := row * f.width * bytesPerPixel
		dstOff := row * width * bytesPerPixel
		copy(next[dstOff:dstOff+overlapW*bytesPerPixel], f.bytes[srcOff:srcOff+overlapW*bytesPerPixel])
	}
	f.bytes = next
	f.width, f.height = width, height
	f.generation++
	generation = f.generation
	f.hasScroll = false
	f.lastDirty = wire.Rect{X: 0, Y: 0, W: width, H: height}
	f.mu.Unlock()
	f.broadcast()
	return generation, nil
}

// diffBoundingBox returns the smallest rectangle containing every row that
// differs between prev and next (both w*h*4 bytes, row-major). If every
// row differs, the whole image is returned without per-pixel refinement.
func diffBoundingBox(prev, next []byte, w, h int) wire.Rect {
	rowBytes := w * bytesPerPixel
	minRow, maxRow := -1, -1
	for row := 0; row < h; row++ {
		off := row * rowBytes
		if !bytesEqual(prev[off:off+rowBytes], next[off:off+rowBytes]) {
			if minRow == -1 {
				minRow = row
			}
			maxRow = row
		}
	}
	if minRow == -1 {
		return wire.Rect{}
	}
	return wire.Rect{X: 0, Y: minRow, W: w, H: maxRow - minRow + 1}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
