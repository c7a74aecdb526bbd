package tokens_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"git.sr.ht/~jakintosh/rolepass/pkg/tokens"
)

func TestVerifier_Valid(t *testing.T) {
	t.Parallel()
	key := getSharedTestKey(t)
	issuer := newTestIssuer(t, "https://auth.test")
	verifier := tokens.NewVerifier(&key.PublicKey, "https://auth.test", "demo-client")

	token, err := issuer.IssueIDToken(
		tokens.Identity{Subject: "user1", Role: tokens.StringPtr("user")},
		"demo-client",
		"nonce-1",
		time.Hour,
	)
	if err != nil {
		t.Fatalf("IssueIDToken failed: %v", err)
	}

	// issued token verifies and round-trips the role
	claims, err := verifier.Verify(token.Encoded)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims.Subject != "user1" || claims.RoleValue() != "user" || claims.Nonce != "nonce-1" {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestVerifier_Failures(t *testing.T) {
	t.Parallel()
	key := getSharedTestKey(t)
	otherKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	issuer := newTestIssuer(t, "https://auth.test")
	otherIssuer, err := tokens.NewIssuer(otherKey, "https://auth.test")
	if err != nil {
		t.Fatal(err)
	}
	past := issuer.WithClock(func() time.Time { return time.Now().Add(-2 * time.Hour) })

	mint := func(i *tokens.Issuer, aud string) string {
		tok, err := i.IssueIDToken(tokens.Identity{Subject: "user1"}, aud, "n", time.Hour)
		if err != nil {
			t.Fatalf("IssueIDToken failed: %v", err)
		}
		return tok.Encoded
	}

	cases := []struct {
		name     string
		verifier *tokens.Verifier
		token    string
		want     error
	}{
		{
			name:     "malformed",
			verifier: tokens.NewVerifier(&key.PublicKey, "https://auth.test", "demo-client"),
			token:    "not.a.jwt",
			want:     tokens.ErrTokenMalformed,
		},
		{
			name:     "wrong key",
			verifier: tokens.NewVerifier(&key.PublicKey, "https://auth.test", "demo-client"),
			token:    mint(otherIssuer, "demo-client"),
			want:     tokens.ErrTokenBadSignature,
		},
		{
			name:     "wrong audience",
			verifier: tokens.NewVerifier(&key.PublicKey, "https://auth.test", "demo-client"),
			token:    mint(issuer, "other-client"),
			want:     tokens.ErrTokenInvalidAudience,
		},
		{
			name:     "wrong issuer",
			verifier: tokens.NewVerifier(&key.PublicKey, "https://elsewhere.test", "demo-client"),
			token:    mint(issuer, "demo-client"),
			want:     tokens.ErrTokenInvalidIssuer,
		},
		{
			name:     "expired",
			verifier: tokens.NewVerifier(&key.PublicKey, "https://auth.test", "demo-client"),
			token:    mint(past, "demo-client"),
			want:     tokens.ErrTokenExpired,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := tc.verifier.Verify(tc.token)
			if !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestSigningKey_LoadOrCreate(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "keys", "signing.pem")

	// first call generates and saves a key
	created, err := tokens.LoadOrCreateSigningKey(path)
	if err != nil {
		t.Fatalf("LoadOrCreateSigningKey failed: %v", err)
	}

	// second call loads the same key
	loaded, err := tokens.LoadOrCreateSigningKey(path)
	if err != nil {
		t.Fatalf("LoadOrCreateSigningKey failed: %v", err)
	}
	if !created.Equal(loaded) {
		t.Error("loaded key differs from created key")
	}

	// key ids are stable across loads
	a, _ := tokens.DeriveKeyID(created)
	b, _ := tokens.DeriveKeyID(loaded)
	if a == "" || a != b {
		t.Errorf("key ids differ: %q vs %q", a, b)
	}
}

func TestSigningKey_LoadInvalid(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "garbage.pem")
	if err := os.WriteFile(path, []byte("not a key"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := tokens.LoadSigningKey(path)
	if !errors.Is(err, tokens.ErrSigningKey) {
		t.Errorf("expected ErrSigningKey, got %v", err)
	}
}
