package encoder

import "fmt"

// RawEncoder concatenates pixels verbatim with no framing byte. It's the
// fallback when a client's preference list lacks Tight. Once a client has
// negotiated an incompatible pixel format, the session instead translates
// each pixel with wire.PixelFormat.TranslateBGRX and does not call Encode;
// Raw itself just passes bytes through.
type RawEncoder struct{}

func (RawEncoder) Encode(pixels []byte, width, height, quality, compression int) ([]byte, error) {
	want := width * height * 4
	if len(pixels) != want {
		return nil, fmt.Errorf("raw encoder: expected %d bytes, got %d", want, len(pixels))
	}
	out := make([]byte, len(pixels))
	copy(out, pixels)
	return out, nil
}
