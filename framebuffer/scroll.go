package framebuffer

import "github.com/vncbridge/rfbserver/wire"

// horizontalShifts is the bounded grid of pixel-wide horizontal scroll
// hypotheses tried by detectScroll.
var horizontalShifts = []int{-32, -16, -8, -4, -2, -1, 1, 2, 4, 8, 16, 32}

// minScrollCoverage is the minimum fraction of the framebuffer area a
// translated match must cover before it's worth emitting as a CopyRect
// instead of plain pixel data.
const minScrollCoverage = 0.25

// detectScroll tests a bounded grid of translations (whole-row vertical,
// small fixed horizontal) for a match between prev and next, sampling
// every 4th row before confirming a full match to keep the scan cheap.
func detectScroll(prev, next []byte, w, h int) (ScrollCandidate, bool) {
	if w == 0 || h == 0 {
		return ScrollCandidate{}, false
	}

	best := ScrollCandidate{}
	bestArea := 0

	tryShift := func(dx, dy int) {
		rect, ok := overlapRect(dx, dy, w, h)
		if !ok {
			return
		}
		area := rect.W * rect.H
		if area <= bestArea || area < int(float64(w*h)*minScrollCoverage) {
			return
		}
		if !shiftMatches(prev, next, w, dx, dy, rect, true) {
			return
		}
		if !shiftMatches(prev, next, w, dx, dy, rect, false) {
			return
		}
		best = ScrollCandidate{DX: dx, DY: dy, Rect: rect}
		bestArea = area
	}

	for dy := -h / 2; dy <= h/2; dy++ {
		if dy == 0 {
			continue
		}
		tryShift(0, dy)
	}
	for _, dx := range horizontalShifts {
		tryShift(dx, 0)
	}

	return best, bestArea > 0
}

// overlapRect computes the region of the framebuffer that maps to a valid
// source location under translation (dx,dy): dest pixel (x,y) reads from
// source pixel (x-dx, y-dy).
func overlapRect(dx, dy, w, h int) (wire.Rect, bool) {
	r := wire.Rect{X: max(0, dx), Y: max(0, dy), W: w - abs(dx), H: h - abs(dy)}
	if r.Empty() {
		return wire.Rect{}, false
	}
	return r, true
}

// shiftMatches checks whether next (if sample) or the full region
// (otherwise) in rect equals prev translated by (dx,dy). sampled==true
// checks only every 4th row as a cheap pre-filter.
func shiftMatches(prev, next []byte, w, dx, dy int, rect wire.Rect, sampled bool) bool {
	rowBytes := rect.W * bytesPerPixel
	step := 1
	if sampled {
		step = 4
	}
	for row := 0; row < rect.H; row += step {
		dstY := rect.Y + row
		srcY := dstY - dy
		dstOff := (dstY*w + rect.X) * bytesPerPixel
		srcOff := (srcY*w + rect.X - dx) * bytesPerPixel
		if !bytesEqual(next[dstOff:dstOff+rowBytes], prev[srcOff:srcOff+rowBytes]) {
			return false
		}
	}
	return true
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
