package api_test

import (
	"net/http"
	"net/url"
	"testing"

	"git.sr.ht/~jakintosh/rolepass/internal/service"
	"git.sr.ht/~jakintosh/rolepass/internal/testutil"
)

func TestToken_Success(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnvWithRouter(t)
	env.RegisterTestUser(t, "user1", "password123")
	env.GrantTestRole(t, "user1", testutil.DemoClient, "user")
	pkce := testutil.NewPKCE()
	code := env.LoginTestUser(t, "user1", "password123", pkce, "s")

	// a valid exchange returns both tokens
	var response service.TokenResponse
	result := testutil.PostForm(env.Router, "/token", testutil.TokenForm(code, pkce), &response)
	testutil.ExpectStatus(t, http.StatusOK, result)
	if response.IDToken == "" || response.AccessToken == "" {
		t.Fatalf("missing tokens: %+v", response)
	}
	if result.Headers.Get("Cache-Control") != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", result.Headers.Get("Cache-Control"))
	}

	claims, err := env.Verifier.Verify(response.IDToken)
	if err != nil {
		t.Fatalf("id token does not verify: %v", err)
	}
	if claims.RoleValue() != "user" {
		t.Errorf("role = %q, want user", claims.RoleValue())
	}
}

func TestToken_ReusedCode(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnvWithRouter(t)
	env.RegisterTestUser(t, "user1", "password123")
	env.GrantTestRole(t, "user1", testutil.DemoClient, "user")
	pkce := testutil.NewPKCE()
	code := env.LoginTestUser(t, "user1", "password123", pkce, "s")

	result := testutil.PostForm(env.Router, "/token", testutil.TokenForm(code, pkce), nil)
	testutil.ExpectStatus(t, http.StatusOK, result)

	// second redemption is invalid_grant
	result = testutil.PostForm(env.Router, "/token", testutil.TokenForm(code, pkce), nil)
	testutil.ExpectOAuthError(t, http.StatusBadRequest, "invalid_grant", result)
}

func TestToken_WrongVerifier(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnvWithRouter(t)
	env.RegisterTestUser(t, "user1", "password123")
	env.GrantTestRole(t, "user1", testutil.DemoClient, "user")
	code := env.LoginTestUser(t, "user1", "password123", testutil.NewPKCE(), "s")

	// a verifier from another login does not match the challenge
	result := testutil.PostForm(env.Router, "/token", testutil.TokenForm(code, testutil.NewPKCE()), nil)
	testutil.ExpectOAuthError(t, http.StatusBadRequest, "invalid_grant", result)
}

func TestToken_UnknownClient(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnvWithRouter(t)
	env.RegisterTestUser(t, "user1", "password123")
	env.GrantTestRole(t, "user1", testutil.DemoClient, "user")
	pkce := testutil.NewPKCE()
	code := env.LoginTestUser(t, "user1", "password123", pkce, "s")

	form := testutil.TokenForm(code, pkce)
	form.Set("client_id", "nope")
	result := testutil.PostForm(env.Router, "/token", form, nil)
	testutil.ExpectOAuthError(t, http.StatusUnauthorized, "invalid_client", result)
}

func TestToken_UnsupportedGrantType(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnvWithRouter(t)

	form := url.Values{"grant_type": {"password"}}
	result := testutil.PostForm(env.Router, "/token", form, nil)
	testutil.ExpectOAuthError(t, http.StatusBadRequest, "unsupported_grant_type", result)
}

func TestToken_UnsupportedContentType(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnvWithRouter(t)

	// json bodies are not accepted at the token endpoint
	result := testutil.PostJSON(env.Router, "/token", `{"grant_type":"authorization_code"}`, nil)
	testutil.ExpectStatus(t, http.StatusUnsupportedMediaType, result)
}
