// Package fingerprint derives stable identifiers for source texts so they can be tracked without
// storing the text itself.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
)

// HexLength is the length of a SHA-256 digest rendered as lowercase hex.
const HexLength = sha256.Size * 2

// SHA256Hex returns the lowercase hex SHA-256 digest of the UTF-8 bytes of text.
func SHA256Hex(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
