package encoder

import (
	"bytes"
	"compress/zlib"
	"image/jpeg"
	"io"
	"math"
	"testing"
)

func greenPixel() []byte { return []byte{0x00, 0xFF, 0x00, 0x00} } // BGRX green

// TestSolidRectEncodesFillByte proves a uniform rectangle encodes as
// control byte 0x80 followed by exactly one BGRX pixel.
func TestSolidRectEncodesFillByte(t *testing.T) {
	px := bytes.Repeat(greenPixel(), 4)
	out, err := TightEncoder{}.Encode(px, 2, 2, 9, 9)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x80, 0x00, 0xFF, 0x00, 0x00}
	if !bytes.Equal(out, want) {
		t.Fatalf("got % X, want % X", out, want)
	}
}

// TestCheckerboardEncodesPaletteIndices proves a 2x2 checkerboard of two
// colors encodes as 0x81, both palette entries, then length-prefixed
// zlib-compressed indices [0,1,1,0].
func TestCheckerboardEncodesPaletteIndices(t *testing.T) {
	a := []byte{0xFF, 0x00, 0x00, 0x00} // blue
	b := []byte{0x00, 0x00, 0xFF, 0x00} // red
	px := append(append(append([]byte{}, a...), b...), append(b, a...)...)

	out, err := TightEncoder{}.Encode(px, 2, 2, 9, 6)
	if err != nil {
		t.Fatal(err)
	}
	if out[0] != 0x81 {
		t.Fatalf("control byte = %#x, want 0x81", out[0])
	}
	if !bytes.Equal(out[1:5], a) || !bytes.Equal(out[5:9], b) {
		t.Fatalf("palette entries = % X", out[1:9])
	}

	length, n := decodeLenForTest(out[9:])
	zr, err := zlib.NewReader(bytes.NewReader(out[9+n : 9+n+length]))
	if err != nil {
		t.Fatal(err)
	}
	indices, err := io.ReadAll(zr)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0, 1, 1, 0}
	if !bytes.Equal(indices, want) {
		t.Fatalf("indices = %v, want %v", indices, want)
	}
}

func decodeLenForTest(b []byte) (length, consumed int) {
	length = int(b[0]) & 0x7F
	if b[0]&0x80 == 0 {
		return length, 1
	}
	length |= (int(b[1]) & 0x7F) << 7
	if b[1]&0x80 == 0 {
		return length, 2
	}
	length |= int(b[2]) << 14
	return length, 3
}

func TestPaletteRoundTripExact(t *testing.T) {
	// 3 colors, enough pixels to pass the density heuristic.
	colors := [][]byte{
		{0x10, 0x20, 0x30, 0}, {0x40, 0x50, 0x60, 0}, {0x70, 0x80, 0x90, 0},
	}
	px := make([]byte, 0, 12*4)
	for i := 0; i < 12; i++ {
		px = append(px, colors[i%3]...)
	}
	out, err := TightEncoder{}.Encode(px, 4, 3, 5, 5)
	if err != nil {
		t.Fatal(err)
	}
	if out[0]&0x80 == 0 {
		t.Fatal("expected palette control byte")
	}
	n := int(out[0]&0x0F) + 1
	if n != 3 {
		t.Fatalf("palette size = %d, want 3", n)
	}

	// Rebuild the pixels from the palette and the zlib index stream.
	palette := out[1 : 1+4*n]
	length, m := decodeLenForTest(out[1+4*n:])
	start := 1 + 4*n + m
	zr, err := zlib.NewReader(bytes.NewReader(out[start : start+length]))
	if err != nil {
		t.Fatal(err)
	}
	indices, err := io.ReadAll(zr)
	if err != nil {
		t.Fatal(err)
	}
	decoded := make([]byte, 0, len(px))
	for _, idx := range indices {
		decoded = append(decoded, palette[int(idx)*4:int(idx)*4+4]...)
	}
	if !bytes.Equal(decoded, px) {
		t.Fatalf("decoded pixels = % X, want % X", decoded, px)
	}
}

func TestJPEGFallbackBoundedRMS(t *testing.T) {
	w, h := 16, 16
	px := make([]byte, w*h*4)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := (y*w + x) * 4
			px[off], px[off+1], px[off+2] = byte(x*16), byte(y*16), byte((x+y)*8)
		}
	}
	out, err := TightEncoder{}.Encode(px, w, h, 7, 5)
	if err != nil {
		t.Fatal(err)
	}
	if out[0] != 0x90 {
		t.Fatalf("control byte = %#x, want 0x90 (JPEG)", out[0])
	}

	_, n := decodeLenForTest(out[1:])
	img, err := jpeg.Decode(bytes.NewReader(out[1+n:]))
	if err != nil {
		t.Fatal(err)
	}
	bounds := img.Bounds()
	if bounds.Dx() != w || bounds.Dy() != h {
		t.Fatalf("decoded image is %dx%d, want %dx%d", bounds.Dx(), bounds.Dy(), w, h)
	}

	var sumSq float64
	n2 := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := (y*w + x) * 4
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			dr := float64(int(px[off+2]) - int(r>>8))
			dg := float64(int(px[off+1]) - int(g>>8))
			db := float64(int(px[off]) - int(b>>8))
			sumSq += dr*dr + dg*dg + db*db
			n2 += 3
		}
	}
	rms := math.Sqrt(sumSq / float64(n2))
	if rms > 20 { // generous bound for quality>=50-equivalent JPEG
		t.Fatalf("RMS error too high: %v", rms)
	}
}

func TestRawEncoderConcatenatesVerbatim(t *testing.T) {
	px := bytes.Repeat([]byte{1, 2, 3, 4}, 6)
	out, err := RawEncoder{}.Encode(px, 3, 2, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, px) {
		t.Fatal("raw encoder must emit pixels verbatim with no framing byte")
	}
}
