package tokens_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"git.sr.ht/~jakintosh/rolepass/pkg/tokens"
)

var (
	sharedTestKey     *ecdsa.PrivateKey
	sharedTestKeyOnce sync.Once
)

// getSharedTestKey returns a shared ECDSA key for tests that don't need isolation.
func getSharedTestKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	sharedTestKeyOnce.Do(func() {
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			panic("failed to generate shared test key: " + err.Error())
		}
		sharedTestKey = key
	})
	return sharedTestKey
}

func newTestIssuer(t *testing.T, issuer string) *tokens.Issuer {
	t.Helper()
	i, err := tokens.NewIssuer(getSharedTestKey(t), issuer)
	if err != nil {
		t.Fatalf("NewIssuer failed: %v", err)
	}
	return i
}

// decodeSegment returns a JSON object from one segment of a compact JWS.
func decodeSegment(t *testing.T, encoded string, index int) map[string]any {
	t.Helper()
	parts := strings.Split(encoded, ".")
	if len(parts) != 3 {
		t.Fatalf("token has %d parts, want 3", len(parts))
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[index])
	if err != nil {
		t.Fatalf("segment %d not base64url: %v", index, err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("segment %d not JSON: %v", index, err)
	}
	return out
}

func TestClaims_NullRoleIsSerialized(t *testing.T) {
	t.Parallel()
	issuer := newTestIssuer(t, "https://auth.test")

	// token without role still carries an explicit null
	token, err := issuer.IssueIDToken(
		tokens.Identity{Subject: "user1", Name: "User One", Email: "user1@test"},
		"demo-client",
		"nonce-1",
		time60s,
	)
	if err != nil {
		t.Fatalf("IssueIDToken failed: %v", err)
	}
	payload := decodeSegment(t, token.Encoded, 1)
	role, present := payload["role"]
	if !present {
		t.Fatal("role claim missing")
	}
	if role != nil {
		t.Errorf("role = %v, want null", role)
	}
	if payload["email_verified"] != true {
		t.Errorf("email_verified = %v, want true", payload["email_verified"])
	}
}

func TestClaims_RoleValue(t *testing.T) {
	t.Parallel()

	// nil role reads as empty
	c := tokens.Claims{}
	if c.RoleValue() != "" {
		t.Errorf("RoleValue() = %q, want empty", c.RoleValue())
	}

	// set role reads back
	c.Role = tokens.StringPtr("admin")
	if c.RoleValue() != "admin" {
		t.Errorf("RoleValue() = %q, want admin", c.RoleValue())
	}
}
