package rfb

import (
	"crypto/des"
	"crypto/rand"
	"crypto/subtle"
)

// challengeSize is the length of the VncAuth challenge and response, RFC
// 6143 §7.2.2.
const challengeSize = 16

// maxAuthAttempts is the number of consecutive failures from the same
// peer tolerated before the connection is closed without further detail.
const maxAuthAttempts = 3

// vncAuthKey derives the 8-byte DES key VNC uses from a password: padded
// with NUL or truncated to 8 bytes, then each byte has its bits
// reversed. This mirrors the classic VNC key schedule quirk: DES
// normally expects the most-significant bit first, and VNC's reference
// implementation flips it.
func vncAuthKey(password string) []byte {
	key := make([]byte, 8)
	copy(key, password) // zero-pads if password is shorter than 8 bytes
	for i, b := range key {
		key[i] = reverseBits(b)
	}
	return key
}

func reverseBits(b byte) byte {
	var out byte
	for i := 0; i < 8; i++ {
		out <<= 1
		out |= b & 1
		b >>= 1
	}
	return out
}

// newChallenge generates a fresh 16-byte server challenge.
func newChallenge() ([]byte, error) {
	buf := make([]byte, challengeSize)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// verifyVncAuth checks that response is the DES encryption of challenge
// under the VNC-derived key from password, encrypted in two independent
// 8-byte ECB blocks as RFC 6143 §7.2.2 specifies.
func verifyVncAuth(password string, challenge, response []byte) (bool, error) {
	if len(challenge) != challengeSize || len(response) != challengeSize {
		return false, nil
	}

	block, err := des.NewCipher(vncAuthKey(password))
	if err != nil {
		return false, err
	}

	expected := make([]byte, challengeSize)
	block.Encrypt(expected[0:8], challenge[0:8])
	block.Encrypt(expected[8:16], challenge[8:16])

	return subtle.ConstantTimeCompare(expected, response) == 1, nil
}
