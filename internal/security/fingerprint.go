package security

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// HashFingerprint returns the hex-encoded BLAKE2b-256 digest of a desktop installation fingerprint.
// Heartbeats are stored and looked up by this digest so raw installation identifiers never reach
// the database. Surrounding whitespace is ignored.
func HashFingerprint(fingerprint string) string {
	sum := blake2b.Sum256([]byte(strings.TrimSpace(fingerprint)))
	return hex.EncodeToString(sum[:])
}
