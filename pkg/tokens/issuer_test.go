package tokens_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"git.sr.ht/~jakintosh/rolepass/pkg/tokens"
)

const time60s = 60 * time.Second

func TestNewIssuer_RejectsNilKey(t *testing.T) {
	t.Parallel()

	_, err := tokens.NewIssuer(nil, "https://auth.test")
	if !errors.Is(err, tokens.ErrSigningKey) {
		t.Errorf("expected ErrSigningKey, got %v", err)
	}
}

func TestNewIssuer_RejectsUnsupportedCurve(t *testing.T) {
	t.Parallel()
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	_, err = tokens.NewIssuer(key, "https://auth.test")
	if !errors.Is(err, tokens.ErrSigningKey) {
		t.Errorf("expected ErrSigningKey, got %v", err)
	}
}

func TestIssuer_IssueIDToken(t *testing.T) {
	t.Parallel()
	issuer := newTestIssuer(t, "https://auth.test")

	token, err := issuer.IssueIDToken(
		tokens.Identity{
			Subject: "user1",
			Name:    "User One",
			Email:   "user1@test",
			Role:    tokens.StringPtr("user"),
		},
		"demo-client",
		"nonce-1",
		time.Hour,
	)
	if err != nil {
		t.Fatalf("IssueIDToken failed: %v", err)
	}

	// header names the algorithm and key
	header := decodeSegment(t, token.Encoded, 0)
	if header["alg"] != "ES256" {
		t.Errorf("alg = %v, want ES256", header["alg"])
	}
	if header["kid"] != issuer.KeyID() {
		t.Errorf("kid = %v, want %s", header["kid"], issuer.KeyID())
	}

	// payload carries the materialized identity
	payload := decodeSegment(t, token.Encoded, 1)
	expected := map[string]any{
		"iss":   "https://auth.test",
		"sub":   "user1",
		"nonce": "nonce-1",
		"name":  "User One",
		"email": "user1@test",
		"role":  "user",
		"azp":   "demo-client",
	}
	for k, want := range expected {
		if payload[k] != want {
			t.Errorf("%s = %v, want %v", k, payload[k], want)
		}
	}
	aud, ok := payload["aud"].([]any)
	if !ok || len(aud) != 1 || aud[0] != "demo-client" {
		t.Errorf("aud = %v, want [demo-client]", payload["aud"])
	}
}

func TestIssuer_IssueAccessToken(t *testing.T) {
	t.Parallel()
	issuer := newTestIssuer(t, "https://auth.test")

	token, err := issuer.IssueAccessToken(
		tokens.Identity{Subject: "user1"},
		"demo-client",
		"nonce-1",
		[]string{"openid", "profile"},
		time.Hour,
	)
	if err != nil {
		t.Fatalf("IssueAccessToken failed: %v", err)
	}

	// access tokens get a unique id and the granted scopes
	if token.Claims.ID == "" {
		t.Error("access token missing jti")
	}
	if token.Claims.Scope != "openid profile" {
		t.Errorf("scope = %q, want 'openid profile'", token.Claims.Scope)
	}
	if token.Claims.TokenType != tokens.TokenTypeAccess {
		t.Errorf("token_use = %q, want access", token.Claims.TokenType)
	}
}

func TestIssuer_Lifetime(t *testing.T) {
	t.Parallel()
	fixed := time.Date(2030, 1, 2, 3, 4, 5, 600, time.UTC)
	issuer := newTestIssuer(t, "https://auth.test").WithClock(func() time.Time { return fixed })

	token, err := issuer.IssueIDToken(tokens.Identity{Subject: "user1"}, "demo-client", "n", time.Hour)
	if err != nil {
		t.Fatalf("IssueIDToken failed: %v", err)
	}

	// issued-at is truncated to whole seconds
	if !token.Claims.IssuedAt.Time.Equal(fixed.Truncate(time.Second)) {
		t.Errorf("iat = %v", token.Claims.IssuedAt.Time)
	}
	if got := token.Claims.ExpiresAt.Sub(token.Claims.IssuedAt.Time); got != time.Hour {
		t.Errorf("lifetime = %v, want 1h", got)
	}
}

func TestIssuer_KeySet(t *testing.T) {
	t.Parallel()
	issuer := newTestIssuer(t, "https://auth.test")

	set := issuer.KeySet()
	if len(set.Keys) != 1 {
		t.Fatalf("expected 1 key, got %d", len(set.Keys))
	}
	if set.Keys[0].KeyID != issuer.KeyID() {
		t.Errorf("kid mismatch")
	}

	// published document contains only public material
	data, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if strings.Contains(string(data), `"d"`) {
		t.Error("JWKS leaks the private key")
	}
	if !strings.Contains(string(data), `"kty":"EC"`) {
		t.Errorf("unexpected JWKS: %s", data)
	}
}
