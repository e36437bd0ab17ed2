// Package auth issues and verifies the anonymous identity tokens. There are
// no accounts and no passwords: the server mints a uid, signs it, and the
// token is the whole identity until it expires.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// User represents an authenticated caller.
type User struct {
	ID string `json:"id"`
}

// ExtractToken extracts the JWT token from an Authorization header value.
// Supports "Bearer <token>" format.
func ExtractToken(authHeader string) (string, error) {
	if authHeader == "" {
		return "", errors.New("empty authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("empty token")
	}

	return token, nil
}

// AnonymousAuth handles minting and verifying anonymous identity tokens.
type AnonymousAuth struct {
	SecretKey         []byte
	AccessTokenExpiry time.Duration
}

// NewAnonymousAuth creates a new anonymous auth instance
func NewAnonymousAuth(secretKey string, accessExpiry time.Duration) (*AnonymousAuth, error) {
	if secretKey == "" {
		return nil, errors.New("JWT secret key cannot be empty")
	}
	if accessExpiry == 0 {
		accessExpiry = 24 * time.Hour
	}
	return &AnonymousAuth{
		SecretKey:         []byte(secretKey),
		AccessTokenExpiry: accessExpiry,
	}, nil
}

// Claims represents the JWT token claims
type Claims struct {
	UserID string `json:"sub"`
	jwt.RegisteredClaims
}

// Issue mints a fresh anonymous identity: a new uid and its signed token.
func (a *AnonymousAuth) Issue() (uid, token string, err error) {
	uid = "anon_" + uuid.NewString()
	token, err = a.IssueFor(uid)
	return uid, token, err
}

// IssueFor signs a token for an existing uid (token refresh).
func (a *AnonymousAuth) IssueFor(uid string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: uid,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(a.AccessTokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "amayadori",
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.SecretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return token, nil
}

// Verify verifies an access token and returns the user
func (a *AnonymousAuth) Verify(tokenString string) (*User, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.SecretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.UserID != "" {
		return &User{ID: claims.UserID}, nil
	}
	return nil, errors.New("invalid token")
}
