// Package digest computes the salted content commitment of a signed
// credential. The commitment is what gets accumulated into a batch root, so
// build and verify must agree byte-for-byte.
package digest

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// Compute returns the content digest of a signature blob and salt:
// base64url(sha256(signature || salt)), raw encoding without padding.
// Both inputs must be non-empty.
func Compute(signature []byte, salt string) (string, error) {
	if len(signature) == 0 {
		return "", fmt.Errorf("signature blob is required")
	}
	if salt == "" {
		return "", fmt.Errorf("salt is required")
	}

	h := sha256.New()
	h.Write(signature)
	h.Write([]byte(salt))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil)), nil
}

// Verify recomputes the digest and compares it to the expected value in
// constant time. Malformed inputs report false rather than an error: for a
// verifier there is no difference between "cannot recompute" and "mismatch".
func Verify(signature []byte, salt, expected string) bool {
	computed, err := Compute(signature, salt)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(expected)) == 1
}

// Decode returns the raw digest bytes of a base64url-encoded digest.
// The anchoring accumulator hashes these bytes, not the encoded string.
func Decode(encoded string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode digest: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("digest is empty")
	}
	return raw, nil
}
