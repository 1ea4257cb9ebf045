// Package encoder implements the RFB pixel encodings this server can
// produce: Raw and the Tight family (solid fill, indexed palette, JPEG).
package encoder

import "fmt"

// Encoder transforms a rectangle of 32-bit BGRX, row-major pixels into an
// RFB-encoded byte sequence. quality and compression are the client's
// negotiated 0-9 knobs (see encodings.QualityLevel / CompressionLevel);
// an encoder that ignores one or both documents why in its own comment.
type Encoder interface {
	Encode(pixels []byte, width, height, quality, compression int) ([]byte, error)
}

// EncoderError marks a failure internal to an encoder's fallback chain
// (palette -> JPEG -> raw). It is never surfaced to the client;
// TightEncoder logs it and moves on to the next stage in the chain.
type EncoderError struct {
	Stage string
	Err   error
}

func (e *EncoderError) Error() string {
	return fmt.Sprintf("encoder: %s: %v", e.Stage, e.Err)
}

func (e *EncoderError) Unwrap() error { return e.Err }
