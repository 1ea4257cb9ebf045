package encoder

// maxPaletteColors is the largest distinct-color count Tight's indexed
// palette sub-encoding will use, per RFC 6143 §7.7.7 (the control byte
// reserves 4 bits for palette size - 1).
const maxPaletteColors = 16

// minPixelsPerColor is the cheap heuristic gate against false palette
// wins: the image must have at least this many pixels for every distinct
// color it contains, once densityCheckThreshold is reached.
const minPixelsPerColor = 4

// densityCheckThreshold is the smallest pixel count the pixels-per-color
// density heuristic applies to. Below it, palette is always cheap enough
// relative to JPEG or raw that the heuristic would only reject rectangles
// (like a 2x2 tile) it was never meant to guard against.
const densityCheckThreshold = 64

// color32 is a packed BGRX pixel used as a map key.
type color32 uint32

func packBGRX(px []byte) color32 {
	return color32(px[0]) | color32(px[1])<<8 | color32(px[2])<<16 | color32(px[3])<<24
}

// analyzePixels scans a BGRX buffer and reports whether it's a uniform
// solid color, or an indexed palette of <= maxPaletteColors colors in
// first-seen order that passes the pixel-density heuristic. It returns
// isSolid=false and isPalette=false for neither case, meaning the caller
// should fall back to JPEG.
func analyzePixels(pixels []byte, pixelCount int) (solid color32, isSolid bool, palette []color32, indices []uint8, isPalette bool) {
	if pixelCount == 0 {
		return 0, false, nil, nil, false
	}

	index := make(map[color32]int, maxPaletteColors+1)
	order := make([]color32, 0, maxPaletteColors+1)
	idx := make([]uint8, pixelCount)
	allSame := true
	first := packBGRX(pixels[0:4])

	for i := 0; i < pixelCount; i++ {
		c := packBGRX(pixels[i*4 : i*4+4])
		if c != first {
			allSame = false
		}
		if pos, ok := index[c]; ok {
			if pos < 256 {
				idx[i] = uint8(pos)
			}
			continue
		}
		if len(order) >= maxPaletteColors {
			// Too many distinct colors; abandon the palette attempt. A
			// new color also means the image is not solid, so stop here.
			return 0, false, nil, nil, false
		}
		index[c] = len(order)
		idx[i] = uint8(len(order))
		order = append(order, c)
	}

	if allSame {
		return first, true, nil, nil, false
	}

	if len(order) < 2 || len(order) > maxPaletteColors {
		return 0, false, nil, nil, false
	}
	if pixelCount >= densityCheckThreshold && pixelCount < len(order)*minPixelsPerColor {
		return 0, false, nil, nil, false
	}
	return 0, false, order, idx, true
}

func unpackBGRX(c color32) (b, g, r, x byte) {
	return byte(c), byte(c >> 8), byte(c >> 16), byte(c >> 24)
}
