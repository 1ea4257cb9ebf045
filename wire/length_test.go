package wire

import (
	"bytes"
	"math/bits"
	"testing"
)

func TestCompactLengthRoundTrip(t *testing.T) {
	lengths := []int{0, 1, 0x7F, 0x80, 0x3FFF, 0x4000, 0x3FFFFF, 12345, 1}
	for _, l := range lengths {
		enc := EncodeLength(l)
		got, err := DecodeLength(bytes.NewReader(enc))
		if err != nil {
			t.Fatalf("DecodeLength(%d): %v", l, err)
		}
		if got != l {
			t.Errorf("round trip %d: got %d", l, got)
		}
	}
}

func TestCompactLengthEncodedSize(t *testing.T) {
	for l := 0; l < 1<<22; l += 997 {
		enc := EncodeLength(l)
		want := 1
		if l > 0 {
			want = (bits.Len(uint(l)) + 6) / 7
			if want > 3 {
				want = 3 // the third byte carries a full 8 bits, up to 2^22-1
			}
		}
		if len(enc) != want {
			t.Errorf("EncodeLength(%d) has length %d, want %d", l, len(enc), want)
		}
	}
}

func TestRectIntersectUnionClip(t *testing.T) {
	a := Rect{X: 0, Y: 0, W: 10, H: 10}
	b := Rect{X: 5, Y: 5, W: 10, H: 10}
	got := a.Intersect(b)
	want := Rect{X: 5, Y: 5, W: 5, H: 5}
	if got != want {
		t.Errorf("Intersect = %+v, want %+v", got, want)
	}

	u := a.Union(b)
	wantU := Rect{X: 0, Y: 0, W: 15, H: 15}
	if u != wantU {
		t.Errorf("Union = %+v, want %+v", u, wantU)
	}

	c := Rect{X: -5, Y: -5, W: 20, H: 20}
	clipped := c.Clip(10, 10)
	wantC := Rect{X: 0, Y: 0, W: 10, H: 10}
	if clipped != wantC {
		t.Errorf("Clip = %+v, want %+v", clipped, wantC)
	}
}
