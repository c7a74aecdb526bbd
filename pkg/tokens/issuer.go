package tokens

import (
	"crypto/ecdsa"
	"fmt"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Issuer signs tokens for the authority. It holds the private key; the
// matching public key is published through KeySet.
type Issuer struct {
	signingKey *ecdsa.PrivateKey
	keyID      string
	issuer     string
	now        func() time.Time
}

var _ Signer = (*Issuer)(nil)

func NewIssuer(
	signingKey *ecdsa.PrivateKey,
	issuer string,
) (
	*Issuer,
	error,
) {
	if signingKey == nil {
		return nil, fmt.Errorf("%w: nil key", ErrSigningKey)
	}
	if _, err := DeriveAlgorithm(signingKey); err != nil {
		return nil, err
	}
	keyID, err := DeriveKeyID(signingKey)
	if err != nil {
		return nil, err
	}
	return &Issuer{
		signingKey: signingKey,
		keyID:      keyID,
		issuer:     issuer,
		now:        time.Now,
	}, nil
}

// WithClock replaces the time source; it is meant for tests.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	copied := *i
	copied.now = now
	return &copied
}

func (i *Issuer) Issuer() string {
	return i.issuer
}

func (i *Issuer) KeyID() string {
	return i.keyID
}

func (i *Issuer) Sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = i.keyID
	encoded, err := token.SignedString(i.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %v", err)
	}
	return encoded, nil
}

// IssueIDToken mints the token handed to the client application after login.
func (i *Issuer) IssueIDToken(
	identity Identity,
	clientID string,
	nonce string,
	lifetime time.Duration,
) (
	*Token,
	error,
) {
	claims := i.newClaims(identity, clientID, nonce, lifetime)
	claims.AuthorizedParty = clientID
	claims.TokenType = TokenTypeID
	return i.issue(claims)
}

// IssueAccessToken mints a token that additionally records the granted
// scopes and a unique id.
func (i *Issuer) IssueAccessToken(
	identity Identity,
	clientID string,
	nonce string,
	scopes []string,
	lifetime time.Duration,
) (
	*Token,
	error,
) {
	claims := i.newClaims(identity, clientID, nonce, lifetime)
	claims.ID = uuid.NewString()
	claims.Scope = strings.Join(scopes, " ")
	claims.TokenType = TokenTypeAccess
	return i.issue(claims)
}

// KeySet is the JWKS document for this issuer.
func (i *Issuer) KeySet() jose.JSONWebKeySet {
	alg, _ := DeriveAlgorithm(i.signingKey)
	return jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{{
			Key:       &i.signingKey.PublicKey,
			KeyID:     i.keyID,
			Algorithm: alg,
			Use:       "sig",
		}},
	}
}

func (i *Issuer) newClaims(
	identity Identity,
	clientID string,
	nonce string,
	lifetime time.Duration,
) Claims {
	// NumericDate has second precision; truncating keeps iat stable across
	// encode and decode, which the replay fingerprint depends on.
	now := i.now().Truncate(time.Second)
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   identity.Subject,
			Audience:  jwt.ClaimStrings{clientID},
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
		Nonce:         nonce,
		Name:          identity.Name,
		Email:         identity.Email,
		EmailVerified: true,
		Role:          identity.Role,
	}
}

func (i *Issuer) issue(claims Claims) (*Token, error) {
	encoded, err := i.Sign(claims)
	if err != nil {
		return nil, err
	}
	return &Token{Encoded: encoded, Claims: claims}, nil
}
