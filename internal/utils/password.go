package utils

import (
	"crypto/subtle"
	"encoding/hex"

	"golang.org/x/crypto/scrypt"
)

// Parameters for the scrypt key derivation.  The derived key is 64 bytes and
// the salt is 16 random bytes, both stored hex-encoded on the user document.
const (
	scryptN      = 16384
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 64
	saltBytes    = 16
)

// NewSalt returns a fresh hex-encoded random salt.
func NewSalt() (string, error) {
	return randomHex(saltBytes)
}

// HashPassword derives the hex-encoded scrypt hash of plain using salt.  The
// salt is used as given (its hex text), matching how stored hashes were
// produced.
func HashPassword(plain, salt string) (string, error) {
	key, err := scrypt.Key([]byte(plain), []byte(salt), scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(key), nil
}

// VerifyPassword recomputes the hash of plain with salt and compares it to
// hash in constant time.
func VerifyPassword(hash, salt, plain string) bool {
	got, err := HashPassword(plain, salt)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(hash)) == 1
}
