package axiomlogin

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// fixedSalt is the exact 32-byte vendor salt the Axiom password-derivation
// scheme requires; it is not a secret key, just a fixed domain-separation
// constant shared by every client implementation.
var fixedSalt = [32]byte{
	0xD9, 0x03, 0xA1, 0x7B, 0x35, 0xC8, 0xCE, 0x24,
	0x8F, 0x02, 0xDC, 0xFC, 0xF0, 0x6D, 0xCC, 0x17,
	0xD9, 0xAE, 0x4F, 0x9E, 0x12, 0x4C, 0x95, 0x75,
	0x49, 0x28, 0xCF, 0x4D, 0x22, 0xC2, 0xC4, 0xA3,
}

const (
	pbkdf2Iterations = 600_000
	pbkdf2KeyLen     = 32
)

// HashPassword derives b64Password: base64(PBKDF2-HMAC-SHA256(iso-8859-1(password), fixedSalt, 600000, 32)).
// Rejects a password containing any rune outside ISO-8859-1 (> U+00FF)
// before doing any work, satisfying B3 without ever reaching the network.
func HashPassword(password string) (string, error) {
	encoded, err := encodeISO88591(password)
	if err != nil {
		return "", err
	}
	derived := pbkdf2.Key(encoded, fixedSalt[:], pbkdf2Iterations, pbkdf2KeyLen, sha256.New)
	return base64.StdEncoding.EncodeToString(derived), nil
}

// encodeISO88591 converts a Go string (UTF-8) to ISO-8859-1 (Latin-1) bytes,
// one byte per rune, failing if any rune lies outside U+0000-U+00FF.
func encodeISO88591(s string) ([]byte, error) {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xFF {
			return nil, fmt.Errorf("password contains character outside ISO-8859-1 range: %q", r)
		}
		out = append(out, byte(r))
	}
	return out, nil
}
