// ABOUTME: Unit tests for JWT token verification and generation
// ABOUTME: Tests HS256 and RS256 tokens, issuer/audience checks, and expiry

package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret-key-for-jwt-signing!")

func TestNewJWTVerifier_ShortSecret(t *testing.T) {
	_, err := NewJWTVerifier([]byte("short"))
	if err == nil {
		t.Error("NewJWTVerifier() should reject short secrets")
	}
}

func TestJWTVerifier_ValidToken(t *testing.T) {
	verifier, err := NewJWTVerifier(testSecret)
	require.NoError(t, err)

	token, err := verifier.Generate("user-123", time.Hour)
	require.NoError(t, err)

	got, err := verifier.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", got)
}

func TestJWTVerifier_InvalidToken(t *testing.T) {
	verifier, err := NewJWTVerifier(testSecret)
	require.NoError(t, err)

	other, err := NewJWTVerifier([]byte("a-completely-different-secret-32"))
	require.NoError(t, err)
	wrongSecret, err := other.Generate("user-123", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"garbage token", "not-a-jwt-token"},
		{"malformed JWT", "header.payload.signature"},
		{"wrong secret", wrongSecret},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestJWTVerifier_ExpiredToken(t *testing.T) {
	verifier, err := NewJWTVerifier(testSecret)
	require.NoError(t, err)

	// Generate a token that expired 1 hour ago
	token, err := verifier.Generate("user-123", -time.Hour)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	if !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Verify() error = %v, want ErrExpiredToken", err)
	}
}

func TestJWTVerifier_MissingSubject(t *testing.T) {
	verifier, err := NewJWTVerifier(testSecret)
	require.NoError(t, err)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(testSecret)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, ErrMissingClaim)
}

func TestJWTVerifier_IssuerAndAudience(t *testing.T) {
	strict, err := NewJWTVerifier(testSecret, WithIssuer("https://idp.example"), WithAudience("slotchat"))
	require.NoError(t, err)

	good, err := strict.Generate("user-1", time.Hour)
	require.NoError(t, err)
	sub, err := strict.Verify(good)
	require.NoError(t, err)
	assert.Equal(t, "user-1", sub)

	// Same secret, no iss/aud claims
	loose, err := NewJWTVerifier(testSecret)
	require.NoError(t, err)
	bare, err := loose.Generate("user-1", time.Hour)
	require.NoError(t, err)

	_, err = strict.Verify(bare)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func writeRSAKey(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "idp.pub")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), 0600))
	return key, path
}

func TestRSAVerifier(t *testing.T) {
	key, path := writeRSAKey(t)

	verifier, err := NewRSAVerifierFromFile(path, WithIssuer("https://idp.example"))
	require.NoError(t, err)

	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub": "firebase-uid-42",
		"iss": "https://idp.example",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(key)
	require.NoError(t, err)

	sub, err := verifier.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "firebase-uid-42", sub)

	// An HS256 token must not be accepted by an RS256 verifier
	hs, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x"}).SignedString(testSecret)
	require.NoError(t, err)
	_, err = verifier.Verify(hs)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// RS256 verifiers cannot mint tokens
	_, err = verifier.Generate("x", time.Hour)
	assert.ErrorIs(t, err, ErrCannotSign)
}

func TestNewRSAVerifier_BadPEM(t *testing.T) {
	_, err := NewRSAVerifier([]byte("not a key"))
	assert.Error(t, err)
}
