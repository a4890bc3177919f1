package utils

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint is the hex BLAKE2b-256 digest of data. Ingestion stores it on
// each source so identical uploads under different names can be spotted.
func Fingerprint(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FingerprintString is Fingerprint for text such as URLs.
func FingerprintString(s string) string {
	return Fingerprint([]byte(s))
}
