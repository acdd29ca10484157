// ABOUTME: JWT token verification for authenticating API requests
// ABOUTME: HS256 with a shared secret or RS256 with an identity provider's public key

package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the minimum HS256 secret length in bytes
const MinSecretLength = 32

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
	ErrCannotSign   = errors.New("verifier has no signing secret")
)

// TokenVerifier defines the interface for token verification
type TokenVerifier interface {
	Verify(tokenString string) (subject string, err error)
}

// Option configures claim checks on a JWTVerifier
type Option func(*JWTVerifier)

// WithIssuer requires the "iss" claim to equal issuer
func WithIssuer(issuer string) Option {
	return func(v *JWTVerifier) { v.issuer = issuer }
}

// WithAudience requires the "aud" claim to contain audience
func WithAudience(audience string) Option {
	return func(v *JWTVerifier) { v.audience = audience }
}

// JWTVerifier implements TokenVerifier for HS256 or RS256 signed JWTs
type JWTVerifier struct {
	secret    []byte
	publicKey *rsa.PublicKey
	issuer    string
	audience  string
}

// NewJWTVerifier creates a verifier for HS256 tokens signed with secret
func NewJWTVerifier(secret []byte, opts ...Option) (*JWTVerifier, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes, got %d", MinSecretLength, len(secret))
	}
	v := &JWTVerifier{secret: secret}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// NewRSAVerifier creates a verifier for RS256 tokens issued by an external
// identity provider, given its PEM-encoded public key
func NewRSAVerifier(publicKeyPEM []byte, opts ...Option) (*JWTVerifier, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parsing RSA public key: %w", err)
	}
	v := &JWTVerifier{publicKey: key}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// NewRSAVerifierFromFile reads a PEM public key from path
func NewRSAVerifierFromFile(path string, opts ...Option) (*JWTVerifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading public key file: %w", err)
	}
	return NewRSAVerifier(data, opts...)
}

func (v *JWTVerifier) parserOptions() []jwt.ParserOption {
	var opts []jwt.ParserOption
	if v.publicKey != nil {
		opts = append(opts, jwt.WithValidMethods([]string{"RS256"}))
	} else {
		opts = append(opts, jwt.WithValidMethods([]string{"HS256"}))
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	return opts
}

func (v *JWTVerifier) keyFunc(token *jwt.Token) (interface{}, error) {
	if v.publicKey != nil {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.publicKey, nil
	}
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return v.secret, nil
}

// Verify validates the token and extracts the user ID from the "sub" claim
func (v *JWTVerifier) Verify(tokenString string) (subject string, err error) {
	token, err := jwt.Parse(tokenString, v.keyFunc, v.parserOptions()...)
	if err != nil {
		// Check if it's specifically an expiration error
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return "", ErrInvalidToken
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	return sub, nil
}

// Generate creates a new HS256 token for the given user ID with expiration.
// Only verifiers built with NewJWTVerifier can sign.
func (v *JWTVerifier) Generate(subject string, expiresIn time.Duration) (string, error) {
	if v.secret == nil {
		return "", ErrCannotSign
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}
	if v.issuer != "" {
		claims["iss"] = v.issuer
	}
	if v.audience != "" {
		claims["aud"] = v.audience
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
