package tokens

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier checks tokens against a public key held locally.
type Verifier struct {
	verificationKey *ecdsa.PublicKey
	issuer          string
	audience        string
	leeway          time.Duration
}

func NewVerifier(
	verificationKey *ecdsa.PublicKey,
	issuer string,
	audience string,
) *Verifier {
	return &Verifier{
		verificationKey: verificationKey,
		issuer:          issuer,
		audience:        audience,
	}
}

// Verify parses encoded and returns its claims when the signature, issuer,
// audience and validity window all check out. Errors wrap one of the
// ErrToken sentinels.
func (v *Verifier) Verify(encoded string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(
		encoded,
		claims,
		func(*jwt.Token) (any, error) { return v.verificationKey, nil },
		ParserOptions(v.issuer, v.audience, v.leeway)...,
	)
	if err != nil {
		return nil, classify(err)
	}
	return claims, nil
}

// ParserOptions is the option set every rolepass verifier applies.
func ParserOptions(
	issuer string,
	audience string,
	leeway time.Duration,
) []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg(), jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(leeway),
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	return opts
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return fmt.Errorf("%w: %v", ErrTokenNotIssued, err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return fmt.Errorf("%w: %v", ErrTokenInvalidIssuer, err)
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return fmt.Errorf("%w: %v", ErrTokenInvalidAudience, err)
	default:
		return fmt.Errorf("%w: %v", ErrTokenBadSignature, err)
	}
}
