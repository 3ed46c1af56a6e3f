package sharing

import (
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/zeebo/blake3"
)

const digestPrefix = "blake3:"

// Digest returns the integrity digest stored with a vault so a
// reconstructed secret can be checked without the authority seeing it.
func Digest(secret []byte) string {
	sum := blake3.Sum256(secret)
	return digestPrefix + hex.EncodeToString(sum[:])
}

// VerifyDigest reports whether secret matches digest.
func VerifyDigest(secret []byte, digest string) bool {
	want := strings.TrimSpace(digest)
	if !strings.HasPrefix(want, digestPrefix) {
		return false
	}
	got := Digest(secret)
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// IsDigest reports whether text is shaped like a Digest result.
func IsDigest(text string) bool {
	hexPart, ok := strings.CutPrefix(text, digestPrefix)
	if !ok || len(hexPart) != 64 {
		return false
	}
	_, err := hex.DecodeString(hexPart)
	return err == nil
}
