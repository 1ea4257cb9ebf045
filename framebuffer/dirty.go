package framebuffer

import "github.com/vncbridge/rfbserver/wire"

// DirtySet is a per-client pending-update region: the union of every
// rectangle that changed since this client was last flushed. It is owned
// by the client's writer goroutine, not the Framebuffer itself, so a slow
// client accumulates its own backlog without affecting others.
type DirtySet struct {
	rects []wire.Rect
}

// Add unions rect into the pending set, merging it into an existing
// overlapping rectangle when possible to bound growth, or appending a new
// entry otherwise.
func (d *DirtySet) Add(rect wire.Rect) {
	if rect.Empty() {
		return
	}
	for i, r := range d.rects {
		if overlapsOrAdjacent(r, rect) {
			d.rects[i] = r.Union(rect)
			return
		}
	}
	d.rects = append(d.rects, rect)
}

// Reset clears the pending region, e.g. to the whole framebuffer for a
// non-incremental FramebufferUpdateRequest.
func (d *DirtySet) Reset(rect wire.Rect) {
	d.rects = d.rects[:0]
	if !rect.Empty() {
		d.rects = append(d.rects, rect)
	}
}

// Clear empties the pending region after a successful flush.
func (d *DirtySet) Clear() { d.rects = d.rects[:0] }

// Empty reports whether there is anything pending.
func (d *DirtySet) Empty() bool { return len(d.rects) == 0 }

// IntersectRegion returns the pending rectangles intersected with
// requested, dropping any that become empty. This bounds what gets sent
// to the client's requested viewport.
func (d *DirtySet) IntersectRegion(requested wire.Rect) []wire.Rect {
	out := make([]wire.Rect, 0, len(d.rects))
	for _, r := range d.rects {
		ir := r.Intersect(requested)
		if !ir.Empty() {
			out = append(out, ir)
		}
	}
	return out
}

func overlapsOrAdjacent(a, b wire.Rect) bool {
	// Grow a by 1px on every side before intersecting so edge-adjacent
	// rectangles merge too, keeping the pending set from growing
	// unboundedly for e.g. scanline-by-scanline updates.
	grown := wire.Rect{X: a.X - 1, Y: a.Y - 1, W: a.W + 2, H: a.H + 2}
	return !grown.Intersect(b).Empty()
}
