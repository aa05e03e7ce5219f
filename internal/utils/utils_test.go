package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPasswordRoundTrip(t *testing.T) {
	salt, err := NewSalt()
	require.NoError(t, err)
	assert.Len(t, salt, 32)

	hash, err := HashPassword("secret1", salt)
	require.NoError(t, err)
	assert.Len(t, hash, 128)

	assert.True(t, VerifyPassword(hash, salt, "secret1"))
	assert.False(t, VerifyPassword(hash, salt, "secret2"))
	assert.False(t, VerifyPassword(hash, salt, ""))
}

func TestHashPasswordDependsOnSalt(t *testing.T) {
	a, err := HashPassword("secret1", "00")
	require.NoError(t, err)
	b, err := HashPassword("secret1", "01")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.False(t, VerifyPassword(a, "01", "secret1"))
}

func TestNewSessionToken(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	tok, err := NewSessionToken(now, 24*time.Hour)
	require.NoError(t, err)

	assert.Len(t, tok.Raw, 64)
	assert.Equal(t, now.Add(24*time.Hour), tok.Exp)

	other, err := NewSessionToken(now, time.Hour)
	require.NoError(t, err)
	assert.NotEqual(t, tok.Raw, other.Raw)
}

func TestHashToken(t *testing.T) {
	// sha256("abc")
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", HashToken("abc"))
	assert.Len(t, HashToken("anything"), 64)
}
