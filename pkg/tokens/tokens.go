package tokens

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenMalformed       = errors.New("token malformed")
	ErrTokenBadSignature    = errors.New("token bad signature")
	ErrTokenInvalidAudience = errors.New("token invalid audience")
	ErrTokenInvalidIssuer   = errors.New("token invalid issuer")
	ErrTokenExpired         = errors.New("token expired")
	ErrTokenNotIssued       = errors.New("token not issued yet")
	ErrSigningKey           = errors.New("signing key unusable")
)

const (
	TokenTypeID     = "id"
	TokenTypeAccess = "access"
)

// Identity is what the authority knows about an account at signing time.
type Identity struct {
	Subject string
	Name    string
	Email   string
	Role    *string
}

// Claims is the payload of every rolepass token.
type Claims struct {
	jwt.RegisteredClaims
	Nonce           string  `json:"nonce,omitempty"`
	Name            string  `json:"name"`
	Email           string  `json:"email"`
	EmailVerified   bool    `json:"email_verified"`
	Role            *string `json:"role"`
	AuthorizedParty string  `json:"azp,omitempty"`
	Scope           string  `json:"scope,omitempty"`
	TokenType       string  `json:"token_use,omitempty"`
}

// RoleValue returns the role, or "" when the token carries none.
func (c *Claims) RoleValue() string {
	if c.Role == nil {
		return ""
	}
	return *c.Role
}

// Token is a signed token together with the claims it was built from.
type Token struct {
	Encoded string
	Claims  Claims
}

// Signer turns claims into a compact JWS.
type Signer interface {
	Sign(claims jwt.Claims) (string, error)
	Issuer() string
}

// StringPtr is a helper for building optional roles.
func StringPtr(s string) *string {
	return &s
}
