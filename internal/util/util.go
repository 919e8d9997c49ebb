// Package util holds small helpers shared by the session control core that
// don't deserve their own package: hex id <-> hash conversion for the RPC
// surface, and random string generation for server identity.
package util

import (
	"crypto/rand"
	"encoding/hex"
)

const hashSize = 20

// IDToHash decodes a 40-character hex string, as used on the RPC surface,
// into a 20-byte content hash. An undecodable id returns ok == false rather
// than an error: callers treat this as a silent no-op, since a malformed id
// reaching the core means the RPC layer should have rejected it already.
func IDToHash(id string) (hash [hashSize]byte, ok bool) {
	if len(id) != hashSize*2 {
		return hash, false
	}
	b, err := hex.DecodeString(id)
	if err != nil {
		return hash, false
	}
	copy(hash[:], b)
	return hash, true
}

// HashToID renders a 20-byte content hash as the 40-character lowercase hex
// string used on the RPC surface.
func HashToID(hash [hashSize]byte) string {
	return hex.EncodeToString(hash[:])
}

const randomAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomString returns n cryptographically random characters from an
// alphanumeric alphabet. persist.New uses RandomString(15) as the server's
// whole persisted identity string; no version tag is prepended to it.
func RandomString(n int) string {
	b := make([]byte, n)
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read on the standard reader does not fail in practice;
		// degrade to a fixed low-entropy suffix rather than panicking.
		for i := range buf {
			buf[i] = byte(i)
		}
	}
	for i, c := range buf {
		b[i] = randomAlphabet[int(c)%len(randomAlphabet)]
	}
	return string(b)
}
