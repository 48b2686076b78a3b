package manifest

import (
	"encoding/hex"

	"github.com/anand-gl/jsoncanonicalizer"
	"golang.org/x/crypto/blake2b"
)

// Fingerprint returns a stable hex digest of a manifest document. Two
// documents with the same canonical JSON form share a fingerprint regardless
// of key order or whitespace. Used for duplicate-load detection.
func Fingerprint(raw []byte) (string, error) {
	canonical, err := jsoncanonicalizer.Transform(raw)
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
