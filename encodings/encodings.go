/*
Package encodings provides constants for the known VNC encoding types.
https://tools.ietf.org/html/rfc6143#section-7.7
*/
package encodings

// Encoding represents a known VNC encoding type.
type Encoding int32

//go:generate stringer -type=Encoding

const (
	// Standard Encodings
	Raw      Encoding = 0
	CopyRect Encoding = 1
	RRE      Encoding = 2
	CoRRE    Encoding = 4
	Hextile  Encoding = 5
	Zlib     Encoding = 6
	Tight    Encoding = 7
	ZlibHex  Encoding = 8
	TRLE     Encoding = 15
	ZRLE     Encoding = 16
	Hitachi  Encoding = 17

	// Pseudo Encodings (negative numbers)
	CursorPseudo              Encoding = -239
	DesktopSizePseudo         Encoding = -223
	LastRectPseudo            Encoding = -224
	ExtendedDesktopSizePseudo Encoding = -308
	DesktopNamePseudo         Encoding = -307
	FencePseudo               Encoding = -312
	ContinuousUpdatesPseudo   Encoding = -313

	// Compression-level pseudo-encodings. The client advertises one of
	// these in its SetEncodings list to request a zlib level for Tight's
	// palette stream.
	CompressionLevel0 Encoding = -256
	CompressionLevel9 Encoding = -247

	// Quality-level pseudo-encodings. Selects the JPEG quality Tight uses
	// for photographic rectangles.
	QualityLevel0 Encoding = -32
	QualityLevel9 Encoding = -23
)

// CompressionLevel reports the 0-9 zlib level encoded by e, if e falls in
// the CompressionLevel0..CompressionLevel9 pseudo-encoding range.
func CompressionLevel(e Encoding) (level int, ok bool) {
	if e < CompressionLevel0 || e > CompressionLevel9 {
		return 0, false
	}
	return int(e - CompressionLevel0), true
}

// QualityLevel reports the 0-9 JPEG quality encoded by e, if e falls in
// the QualityLevel0..QualityLevel9 pseudo-encoding range.
func QualityLevel(e Encoding) (level int, ok bool) {
	if e < QualityLevel0 || e > QualityLevel9 {
		return 0, false
	}
	return int(e - QualityLevel0), true
}
