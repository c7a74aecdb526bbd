// Package testutil provides test environment setup and utilities for internal package tests.
package testutil

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"net/http"
	"net/url"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"git.sr.ht/~jakintosh/rolepass/internal/api"
	"git.sr.ht/~jakintosh/rolepass/internal/app"
	"git.sr.ht/~jakintosh/rolepass/internal/database"
	"git.sr.ht/~jakintosh/rolepass/internal/metrics"
	"git.sr.ht/~jakintosh/rolepass/internal/routing"
	"git.sr.ht/~jakintosh/rolepass/internal/service"
	"git.sr.ht/~jakintosh/rolepass/pkg/ephemeral"
	"git.sr.ht/~jakintosh/rolepass/pkg/tokens"
	"golang.org/x/oauth2"
)

const (
	TestIssuer       = "https://auth.test.local"
	DemoClient       = "demo-client"
	DemoRedirect     = "http://localhost:9100/callback"
	BillingClient    = "billing"
	BillingRedirect  = "http://localhost:9200/callback"
	DefaultTestNonce = "test-nonce"
)

var (
	sharedSigningKey     *ecdsa.PrivateKey
	sharedSigningKeyOnce sync.Once
)

// getSharedSigningKey returns a cached ECDSA signing key for tests.
// This avoids the overhead of generating a new key for each test.
func getSharedSigningKey() *ecdsa.PrivateKey {
	sharedSigningKeyOnce.Do(func() {
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			panic("failed to generate shared signing key: " + err.Error())
		}
		sharedSigningKey = key
	})
	return sharedSigningKey
}

// TestEnv provides all dependencies needed for testing
type TestEnv struct {
	DB           *database.SQLiteStore
	Service      *service.Service
	Router       http.Handler
	Issuer       *tokens.Issuer
	Verifier     *tokens.Verifier
	Metrics      *metrics.Metrics
	Interactions *ephemeral.MemoryStore[service.Interaction]
	Codes        *ephemeral.MemoryStore[service.AuthorizationCode]
}

// SetupTestEnv creates an isolated test environment backed by a temporary
// SQLite file and in-memory ephemeral stores.
func SetupTestEnv(
	t *testing.T,
) *TestEnv {
	t.Helper()

	db, err := database.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "rolepass.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	// use cached signing key (generated once across all tests)
	signingKey := getSharedSigningKey()
	issuer, err := tokens.NewIssuer(signingKey, TestIssuer)
	if err != nil {
		t.Fatalf("failed to create issuer: %v", err)
	}

	catalog, err := service.NewClientCatalog(getTestDataPath("clients"))
	if err != nil {
		t.Fatalf("failed to load client catalog: %v", err)
	}

	interactions := ephemeral.NewMemoryStore[service.Interaction]("interactions")
	codes := ephemeral.NewMemoryStore[service.AuthorizationCode]("codes")

	svc := service.New(service.Config{
		Identities:   db.IdentityStore(),
		Grants:       db.GrantStore(),
		Roles:        db.RoleResolver(),
		Catalog:      catalog,
		Issuer:       issuer,
		Interactions: interactions,
		Codes:        codes,
		PasswordMode: service.PasswordModeTesting,
	})

	// setup cleanup
	t.Cleanup(func() {
		catalog.Close()
		_ = db.Close()
	})

	return &TestEnv{
		DB:           db,
		Service:      svc,
		Issuer:       issuer,
		Verifier:     tokens.NewVerifier(&signingKey.PublicKey, TestIssuer, ""),
		Metrics:      metrics.New(),
		Interactions: interactions,
		Codes:        codes,
	}
}

// SetupTestEnvWithRouter creates TestEnv and configures the full router
func SetupTestEnvWithRouter(
	t *testing.T,
) *TestEnv {
	t.Helper()
	env := SetupTestEnv(t)
	pages, err := app.LoadPages("")
	if err != nil {
		t.Fatalf("failed to load pages: %v", err)
	}
	env.Router = routing.BuildRouter(
		app.New(env.Service, pages, env.Metrics),
		api.New(env.Service, env.Issuer, env.Metrics),
		env.Metrics,
	)
	return env
}

// getTestDataPath returns the path to a subdirectory in testdata
func getTestDataPath(
	subdir string,
) string {
	_, filename, _, _ := runtime.Caller(0)
	// Go up from internal/testutil to repo root, then into testdata
	return filepath.Join(filepath.Dir(filename), "..", "..", "testdata", subdir)
}

// RegisterTestUser creates a test user in the database
func (env *TestEnv) RegisterTestUser(
	t *testing.T,
	handle string,
	password string,
) {
	t.Helper()
	account := service.Account{
		Handle: handle,
		Name:   handle + " name",
		Email:  handle + "@test.local",
	}
	if err := env.Service.Register(context.Background(), account, password); err != nil {
		t.Fatalf("failed to register test user: %v", err)
	}
}

// GrantTestRole maps handle to role for clientID
func (env *TestEnv) GrantTestRole(
	t *testing.T,
	handle string,
	clientID string,
	role string,
) {
	t.Helper()
	if err := env.DB.SetRole(context.Background(), handle, clientID, role); err != nil {
		t.Fatalf("failed to set role: %v", err)
	}
}

// PKCE is a verifier and its S256 challenge
type PKCE struct {
	Verifier  string
	Challenge string
}

func NewPKCE() PKCE {
	verifier := oauth2.GenerateVerifier()
	return PKCE{
		Verifier:  verifier,
		Challenge: oauth2.S256ChallengeFromVerifier(verifier),
	}
}

// AuthorizationRequest builds a valid request for the demo client
func AuthorizationRequest(
	pkce PKCE,
	state string,
) service.AuthorizationRequest {
	return service.AuthorizationRequest{
		ResponseType:        service.ResponseTypeCode,
		ClientID:            DemoClient,
		RedirectURI:         DemoRedirect,
		Scope:               "openid profile email",
		State:               state,
		Nonce:               DefaultTestNonce,
		CodeChallenge:       pkce.Challenge,
		CodeChallengeMethod: service.PKCEChallengeMethodS256,
	}
}

// AuthorizeQuery encodes req as the query string of an authorize call
func AuthorizeQuery(
	req service.AuthorizationRequest,
) string {
	q := url.Values{}
	q.Set("response_type", req.ResponseType)
	q.Set("client_id", req.ClientID)
	q.Set("redirect_uri", req.RedirectURI)
	q.Set("scope", req.Scope)
	q.Set("state", req.State)
	q.Set("nonce", req.Nonce)
	q.Set("code_challenge", req.CodeChallenge)
	q.Set("code_challenge_method", req.CodeChallengeMethod)
	return q.Encode()
}

// BeginTestInteraction starts an interaction for the demo client
func (env *TestEnv) BeginTestInteraction(
	t *testing.T,
	pkce PKCE,
	state string,
) *service.Interaction {
	t.Helper()
	interaction, err := env.Service.BeginInteraction(context.Background(), AuthorizationRequest(pkce, state))
	if err != nil {
		t.Fatalf("failed to begin interaction: %v", err)
	}
	return interaction
}

// LoginTestUser runs a full successful login and returns the issued code
func (env *TestEnv) LoginTestUser(
	t *testing.T,
	handle string,
	password string,
	pkce PKCE,
	state string,
) string {
	t.Helper()
	interaction := env.BeginTestInteraction(t, pkce, state)
	attempt, err := env.Service.Authorize(context.Background(), interaction.ID, handle, password)
	if err != nil {
		t.Fatalf("failed to authorize: %v", err)
	}
	code := attempt.Redirect.Query().Get("code")
	if code == "" {
		t.Fatalf("redirect missing code: %s", attempt.Redirect)
	}
	return code
}
