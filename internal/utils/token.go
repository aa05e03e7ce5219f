package utils // package utils provides helpers for session tokens and password hashing

import (
	"crypto/rand"   // secure random number generation
	"crypto/sha256" // SHA-256 hashing for session tokens
	"encoding/hex"  // hex encoding of tokens and digests
	"time"
)

// SessionToken is an opaque bearer token handed to the client at login.  Raw
// is returned exactly once; only HashToken(Raw) is ever persisted.
type SessionToken struct {
	Raw string    // 64 hex chars, returned to the client
	Exp time.Time // UTC expiry, fixed at issuance
}

// NewSessionToken returns 32 bytes of random data as hex, valid for ttl from now.
func NewSessionToken(now time.Time, ttl time.Duration) (SessionToken, error) {
	raw, err := randomHex(32)
	if err != nil {
		return SessionToken{}, err
	}
	return SessionToken{Raw: raw, Exp: now.UTC().Add(ttl)}, nil
}

// HashToken returns the SHA-256 hash of the raw token as a hex string.  It is
// the lookup key in the auth_tokens collection and the audit session id.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// randomHex returns n bytes of cryptographically secure random data, hex
// encoded (2n characters).
func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
