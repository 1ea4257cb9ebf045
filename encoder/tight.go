package encoder

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/golang/glog"
	"github.com/vncbridge/rfbserver/wire"
)

// Tight control-byte bits, RFC 6143 §7.7.7.
const (
	tightFill = 0x80
	tightJPEG = 0x90
	tightBasic = 0x00
)

// zlibLevelForCompression maps the RFB 0-9 compression knob to a
// compress/zlib level: 0 -> fastest, 1-3 -> that level, 4-6 -> default,
// 7-9 -> best.
func zlibLevelForCompression(compression int) int {
	switch {
	case compression <= 0:
		return zlib.BestSpeed
	case compression <= 3:
		return compression
	case compression <= 6:
		return zlib.DefaultCompression
	default:
		return zlib.BestCompression
	}
}

// TightEncoder implements the content-adaptive Tight family: solid fill,
// indexed palette with zlib, and JPEG, tried in that order. On a zlib or
// JPEG failure it falls back through the chain (palette -> JPEG at
// quality 75 -> basic Tight raw).
type TightEncoder struct {
	// An incompatible client pixel format disables Tight entirely
	// upstream in the session, so pixels is always BGRX32 by the time
	// Encode is called.
}

func (t TightEncoder) Encode(pixels []byte, width, height, quality, compression int) ([]byte, error) {
	pixelCount := width * height
	if len(pixels) != pixelCount*4 {
		return nil, fmt.Errorf("tight encoder: expected %d bytes, got %d", pixelCount*4, len(pixels))
	}

	solid, isSolid, palette, indices, isPalette := analyzePixels(pixels, pixelCount)

	if isSolid {
		return encodeSolid(solid), nil
	}

	if isPalette {
		out, err := encodePalette(palette, indices, compression)
		if err == nil {
			return out, nil
		}
		glog.V(1).Infof("tight: palette encode failed, falling back to JPEG: %v", err)
		out, jerr := encodeJPEGRaw(pixels, width, height, 75)
		if jerr == nil {
			return out, nil
		}
		glog.V(1).Infof("tight: JPEG fallback failed, using basic raw: %v", jerr)
		return encodeBasic(pixels), nil
	}

	out, err := encodeJPEG(pixels, width, height, quality)
	if err != nil {
		glog.V(1).Infof("tight: JPEG encode failed, using basic raw: %v", err)
		return encodeBasic(pixels), nil
	}
	return out, nil
}

// encodeSolid emits 0x80 followed by one pixel in BGRX wire order.
func encodeSolid(c color32) []byte {
	b, g, r, _ := unpackBGRX(c)
	return []byte{tightFill, b, g, r, 0}
}

// encodePalette emits 0x80|(n-1), the palette in BGRX order, then the
// zlib-compressed, length-prefixed per-pixel indices.
func encodePalette(palette []color32, indices []uint8, compression int) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(tightFill | (len(palette) - 1)))
	for _, c := range palette {
		b, g, r, _ := unpackBGRX(c)
		buf.Write([]byte{b, g, r, 0})
	}

	var compressed bytes.Buffer
	zw, err := zlib.NewWriterLevel(&compressed, zlibLevelForCompression(compression))
	if err != nil {
		return nil, &EncoderError{Stage: "palette/zlib-new", Err: err}
	}
	if _, err := zw.Write(indices); err != nil {
		zw.Close()
		return nil, &EncoderError{Stage: "palette/zlib-write", Err: err}
	}
	if err := zw.Close(); err != nil {
		return nil, &EncoderError{Stage: "palette/zlib-close", Err: err}
	}

	buf.Write(wire.EncodeLength(compressed.Len()))
	buf.Write(compressed.Bytes())
	return buf.Bytes(), nil
}

// encodeJPEG converts BGRX to RGB24 and compresses at a JPEG quality
// derived from the client's 0-9 quality knob.
func encodeJPEG(pixels []byte, width, height, quality int) ([]byte, error) {
	if quality < 0 {
		quality = 0
	}
	if quality > 9 {
		quality = 9
	}
	return encodeJPEGRaw(pixels, width, height, 10+quality*10) // maps 0-9 to 10-100
}

// encodeJPEGRaw compresses with the stdlib JPEG encoder at an explicit
// 1-100 JPEG quality, emitting 0x90 then the length-prefixed stream.
func encodeJPEGRaw(pixels []byte, width, height, jpegQuality int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < width*height; i++ {
		b, g, r := pixels[i*4], pixels[i*4+1], pixels[i*4+2]
		img.Pix[i*4+0] = r
		img.Pix[i*4+1] = g
		img.Pix[i*4+2] = b
		img.Pix[i*4+3] = 0xFF
	}

	var compressed bytes.Buffer
	if err := jpeg.Encode(&compressed, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, &EncoderError{Stage: "jpeg-encode", Err: err}
	}

	var buf bytes.Buffer
	buf.WriteByte(tightJPEG)
	buf.Write(wire.EncodeLength(compressed.Len()))
	buf.Write(compressed.Bytes())
	return buf.Bytes(), nil
}

// encodeBasic is the last-resort fallback: control byte 0x00 followed by
// raw BGRX pixels. Never fails.
func encodeBasic(pixels []byte) []byte {
	out := make([]byte, 0, len(pixels)+1)
	out = append(out, tightBasic)
	out = append(out, pixels...)
	return out
}
