package utils

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func TestEncryptDecrypt(t *testing.T) {
	sealed, err := Encrypt([]byte("access-token"), testKey)
	require.NoError(t, err)
	assert.NotContains(t, sealed, "access-token")

	again, err := Encrypt([]byte("access-token"), testKey)
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce is random")

	plain, err := Decrypt(sealed, testKey)
	require.NoError(t, err)
	assert.Equal(t, "access-token", plain)
}

func TestDecryptRejectsTampering(t *testing.T) {
	_, err := Decrypt("AAAA", testKey)
	assert.ErrorIs(t, err, ErrCiphertextTooShort)

	sealed, err := Encrypt([]byte("secret"), testKey)
	require.NoError(t, err)

	_, err = Decrypt(sealed, []byte(strings.Repeat("x", 32)))
	assert.Error(t, err)
}

func TestEncryptRejectsBadKey(t *testing.T) {
	_, err := Encrypt([]byte("secret"), []byte("short"))
	assert.Error(t, err)
}

func TestTokenRoundTrip(t *testing.T) {
	token, err := GenerateToken("secret", "42", time.Hour)
	require.NoError(t, err)

	claims, err := ValidateToken("secret", token)
	require.NoError(t, err)
	assert.Equal(t, "42", claims.UserID)
	assert.Equal(t, tokenIssuer, claims.Issuer)
}

func TestValidateTokenFailures(t *testing.T) {
	expired, err := GenerateToken("secret", "42", -time.Minute)
	require.NoError(t, err)
	_, err = ValidateToken("secret", expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	valid, err := GenerateToken("secret", "42", time.Hour)
	require.NoError(t, err)
	_, err = ValidateToken("other", valid)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestStateTokenCarriesSealedVerifier(t *testing.T) {
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	state, err := GenerateStateToken("secret", "42", verifier, time.Minute)
	require.NoError(t, err)

	claims, err := ValidateToken("secret", state)
	require.NoError(t, err)
	assert.NotEmpty(t, claims.Verifier)
	assert.NotContains(t, claims.Verifier, verifier, "verifier is sealed")

	claims, got, err := ParseStateToken("secret", state)
	require.NoError(t, err)
	assert.Equal(t, "42", claims.UserID)
	assert.Equal(t, verifier, got)

	_, _, err = ParseStateToken("other", state)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseStateTokenWithoutVerifier(t *testing.T) {
	session, err := GenerateToken("secret", "42", time.Minute)
	require.NoError(t, err)

	claims, verifier, err := ParseStateToken("secret", session)
	require.NoError(t, err)
	assert.Equal(t, "42", claims.UserID)
	assert.Empty(t, verifier)
}
