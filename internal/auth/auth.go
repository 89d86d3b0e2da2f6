// Package auth issues and validates the bearer tokens and form nonces that
// guard the administrative endpoints.
package auth

import (
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	HeaderAuthorization = "Authorization"

	// Issuer is set on, and required from, every token.
	Issuer = "wordfilter"

	// CapManageOptions allows changing the filter settings.
	CapManageOptions = "manage_options"
)

var (
	ErrNoBearer     = errors.New("empty Authorization Bearer header")
	ErrBadBearer    = errors.New("invalid Authorization Bearer header")
	ErrInvalidToken = errors.New("invalid token")
	ErrInvalidNonce = errors.New("invalid nonce")
)

// Principal is the authenticated caller of an admin request.
type Principal struct {
	Subject      string
	Capabilities []string
}

// Can reports whether the principal holds capability.
func (p Principal) Can(capability string) bool {
	return slices.Contains(p.Capabilities, capability)
}

// Anonymous is the principal of an unauthenticated caller.
var Anonymous = Principal{}

type claims struct {
	Capabilities []string `json:"caps,omitempty"`
	Action       string   `json:"act,omitempty"`
	jwt.RegisteredClaims
}

// MakeJWT signs an access token for subject carrying caps.
func MakeJWT(subject string, caps []string, secret string, expiry time.Duration) (string, error) {
	return sign(claims{Capabilities: caps}, subject, secret, expiry)
}

// ValidateJWT parses an access token and returns its principal. Nonces are
// rejected here even though they share the signing key.
func ValidateJWT(tokenString, secret string) (Principal, error) {
	c, err := parse(tokenString, secret)
	if err != nil {
		return Anonymous, err
	}
	if c.Action != "" {
		return Anonymous, ErrInvalidToken
	}
	return Principal{Subject: c.Subject, Capabilities: c.Capabilities}, nil
}

// GetBearerToken extracts the token from an "Authorization: Bearer <token>"
// header.
func GetBearerToken(headers http.Header) (string, error) {
	authorization := headers.Get(HeaderAuthorization)
	if len(authorization) == 0 {
		return "", ErrNoBearer
	}
	authorizationSplit := strings.Split(authorization, " ")
	if len(authorizationSplit) != 2 || authorizationSplit[0] != "Bearer" {
		return "", ErrBadBearer
	}
	return authorizationSplit[1], nil
}

// MakeNonce signs a short-lived token binding a form submission to subject
// and action.
func MakeNonce(subject, action, secret string, expiry time.Duration) (string, error) {
	return sign(claims{Action: action}, subject, secret, expiry)
}

// VerifyNonce checks that nonce was issued for subject and action and has
// not expired.
func VerifyNonce(nonce, subject, action, secret string) error {
	c, err := parse(nonce, secret)
	if err != nil {
		return ErrInvalidNonce
	}
	if c.Action == "" || c.Action != action || c.Subject != subject {
		return ErrInvalidNonce
	}
	return nil
}

func sign(c claims, subject, secret string, expiry time.Duration) (string, error) {
	now := time.Now()
	c.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    Issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
}

func parse(tokenString, secret string) (*claims, error) {
	var c claims
	if _, err := jwt.ParseWithClaims(
		tokenString,
		&c,
		func(token *jwt.Token) (any, error) {
			return []byte(secret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	); err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	return &c, nil
}
