package authoritytest

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"git.sr.ht/~jakintosh/rolepass/pkg/resource"
	"git.sr.ht/~jakintosh/rolepass/pkg/tokens"
)

const DefaultTokenLifetime = 30 * time.Minute

// Env mints tokens as the authority would, without any network.
type Env struct {
	Issuer   *tokens.Issuer
	Key      *ecdsa.PrivateKey
	Domain   string
	Audience string
}

// NewEnv creates an environment signing with the shared key.
// Most tests should use this for performance.
func NewEnv(
	domain string,
	audience string,
) *Env {
	return NewEnvWithKey(SharedKey(), domain, audience)
}

// NewEnvWithKey creates an environment with a specific key.
// Use when testing key mismatch scenarios.
func NewEnvWithKey(
	key *ecdsa.PrivateKey,
	domain string,
	audience string,
) *Env {
	issuer, err := tokens.NewIssuer(key, domain)
	if err != nil {
		panic("rolepass/authoritytest: " + err.Error())
	}
	return &Env{
		Issuer:   issuer,
		Key:      key,
		Domain:   domain,
		Audience: audience,
	}
}

// Mint issues an ID token for subject carrying role, or a null role when
// role is empty. Each token gets a fresh nonce.
func (env *Env) Mint(
	t testing.TB,
	subject string,
	role string,
) string {
	t.Helper()
	return env.MintWith(t, tokens.Identity{
		Subject: subject,
		Name:    subject,
		Email:   subject + "@test.local",
		Role:    optionalRole(role),
	}, env.Audience, Nonce(t), DefaultTokenLifetime)
}

// MintWith issues an ID token with full control over its contents.
func (env *Env) MintWith(
	t testing.TB,
	identity tokens.Identity,
	audience string,
	nonce string,
	lifetime time.Duration,
) string {
	t.Helper()
	token, err := env.Issuer.IssueIDToken(identity, audience, nonce, lifetime)
	if err != nil {
		t.Fatalf("failed to mint token: %v", err)
	}
	return token.Encoded
}

// Validator trusts tokens from this environment for its audience.
func (env *Env) Validator(
	t testing.TB,
) *resource.Validator {
	t.Helper()
	validator, err := resource.NewValidator(resource.Config{
		Issuer:   env.Domain,
		Audience: env.Audience,
		Keys:     resource.NewStaticKeySource(&env.Key.PublicKey),
	})
	if err != nil {
		t.Fatalf("failed to create validator: %v", err)
	}
	return validator
}

// AuthenticatedRequest creates a request carrying a fresh bearer token for
// subject.
func (env *Env) AuthenticatedRequest(
	t testing.TB,
	method string,
	target string,
	subject string,
	role string,
) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set("Authorization", "Bearer "+env.Mint(t, subject, role))
	return req
}

// Nonce returns a random nonce.
func Nonce(t testing.TB) string {
	t.Helper()
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		t.Fatalf("failed to generate nonce: %v", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

func optionalRole(role string) *string {
	if role == "" {
		return nil
	}
	return tokens.StringPtr(role)
}
