package authoritytest

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"git.sr.ht/~jakintosh/rolepass/internal/api"
	"git.sr.ht/~jakintosh/rolepass/internal/app"
	"git.sr.ht/~jakintosh/rolepass/internal/database"
	"git.sr.ht/~jakintosh/rolepass/internal/metrics"
	"git.sr.ht/~jakintosh/rolepass/internal/routing"
	"git.sr.ht/~jakintosh/rolepass/internal/service"
	"git.sr.ht/~jakintosh/rolepass/pkg/client"
	"git.sr.ht/~jakintosh/rolepass/pkg/resource"
	"git.sr.ht/~jakintosh/rolepass/pkg/tokens"
)

// Client is an application registered with the test authority.
type Client struct {
	ID           string
	Display      string
	RedirectURIs []string
}

// User is an account created before the authority starts. Roles maps a
// client id to the user's role in that client.
type User struct {
	Handle   string
	Password string
	Name     string
	Email    string
	Roles    map[string]string
}

type Options struct {
	Clients []Client
	Users   []User

	// Key defaults to SharedKey.
	Key           *ecdsa.PrivateKey
	TokenLifetime time.Duration
}

// Authority is a complete rolepass authority served by httptest.
type Authority struct {
	Server  *httptest.Server
	URL     string
	Issuer  *tokens.Issuer
	Service *service.Service
	Metrics *metrics.Metrics
	DB      *database.SQLiteStore

	browser *http.Client
}

// Start builds and serves an authority for the duration of the test.
func Start(
	t testing.TB,
	opts Options,
) *Authority {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	server := httptest.NewUnstartedServer(nil)
	baseURL := "http://" + server.Listener.Addr().String()

	key := opts.Key
	if key == nil {
		key = SharedKey()
	}
	issuer, err := tokens.NewIssuer(key, baseURL)
	if err != nil {
		t.Fatalf("failed to create issuer: %v", err)
	}

	clientsDir := filepath.Join(dir, "clients")
	if err := os.MkdirAll(clientsDir, 0o755); err != nil {
		t.Fatalf("failed to create clients dir: %v", err)
	}
	for _, c := range opts.Clients {
		writeClient(t, clientsDir, c)
	}
	catalog, err := service.NewClientCatalog(clientsDir)
	if err != nil {
		t.Fatalf("failed to load clients: %v", err)
	}

	db, err := database.NewSQLiteStore(ctx, filepath.Join(dir, "rolepass.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	svc := service.New(service.Config{
		Identities:    db.IdentityStore(),
		Grants:        db.GrantStore(),
		Roles:         db.RoleResolver(),
		Catalog:       catalog,
		Issuer:        issuer,
		PasswordMode:  service.PasswordModeTesting,
		TokenLifetime: opts.TokenLifetime,
	})
	for _, u := range opts.Users {
		seedUser(t, svc, db, u)
	}

	pages, err := app.LoadPages("")
	if err != nil {
		t.Fatalf("failed to load pages: %v", err)
	}
	m := metrics.New()
	server.Config.Handler = routing.BuildRouter(
		app.New(svc, pages, m),
		api.New(svc, issuer, m),
		m,
	)
	server.Start()

	t.Cleanup(func() {
		server.Close()
		catalog.Close()
		_ = db.Close()
	})

	// the browser stops at every redirect so callers see where it points
	browser := &http.Client{
		Transport: server.Client().Transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &Authority{
		Server:  server,
		URL:     baseURL,
		Issuer:  issuer,
		Service: svc,
		Metrics: m,
		DB:      db,
		browser: browser,
	}
}

func writeClient(
	t testing.TB,
	dir string,
	c Client,
) {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"display":       c.Display,
		"redirect_uris": c.RedirectURIs,
	})
	if err != nil {
		t.Fatalf("failed to encode client %s: %v", c.ID, err)
	}
	if err := os.WriteFile(filepath.Join(dir, c.ID+".json"), data, 0o644); err != nil {
		t.Fatalf("failed to write client %s: %v", c.ID, err)
	}
}

func seedUser(
	t testing.TB,
	svc *service.Service,
	db *database.SQLiteStore,
	u User,
) {
	t.Helper()
	ctx := context.Background()
	account := service.Account{Handle: u.Handle, Name: u.Name, Email: u.Email}
	if account.Name == "" {
		account.Name = u.Handle
	}
	if account.Email == "" {
		account.Email = u.Handle + "@test.local"
	}
	if err := svc.Register(ctx, account, u.Password); err != nil {
		t.Fatalf("failed to register %s: %v", u.Handle, err)
	}
	for clientID, role := range u.Roles {
		if err := db.SetRole(ctx, u.Handle, clientID, role); err != nil {
			t.Fatalf("failed to set role for %s: %v", u.Handle, err)
		}
	}
}

// LoginResult is where the authority sent the browser after the credential
// form was submitted.
type LoginResult struct {
	Status   int
	Location *url.URL
}

// Login plays the browser through the authority's login for an authorize
// URL, as produced by client.Gateway.Begin. Redirects are not followed past
// the authority, so Location is the client's callback on success.
func (a *Authority) Login(
	t testing.TB,
	authorizeURL *url.URL,
	handle string,
	password string,
) LoginResult {
	t.Helper()

	res, err := a.browser.Get(authorizeURL.String())
	if err != nil {
		t.Fatalf("authorize request failed: %v", err)
	}
	_ = res.Body.Close()
	if res.StatusCode != http.StatusSeeOther {
		return LoginResult{Status: res.StatusCode, Location: location(t, authorizeURL, res)}
	}
	loginPage := location(t, authorizeURL, res)
	interactionID := loginPage.Query().Get("interaction")
	if interactionID == "" {
		// the authority bounced the request straight back to the client
		return LoginResult{Status: res.StatusCode, Location: loginPage}
	}

	form := url.Values{}
	form.Set("interaction", interactionID)
	form.Set("handle", handle)
	form.Set("secret", password)
	res, err = a.browser.Post(
		a.URL+"/login",
		"application/x-www-form-urlencoded",
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		t.Fatalf("login request failed: %v", err)
	}
	_ = res.Body.Close()
	return LoginResult{Status: res.StatusCode, Location: location(t, authorizeURL, res)}
}

// Exchanger redeems codes at this authority.
func (a *Authority) Exchanger() *client.AuthorityExchanger {
	return client.NewAuthorityExchanger(a.URL, a.Server.Client(), 0)
}

// Validator trusts this authority's tokens for audience, fetching keys the
// way a deployed service would.
func (a *Authority) Validator(
	t testing.TB,
	audience string,
	policy resource.ReplayPolicy,
) *resource.Validator {
	t.Helper()
	keys, err := resource.NewJWKSKeySource(context.Background(), a.URL, a.Server.Client(), 0)
	if err != nil {
		t.Fatalf("failed to discover keys: %v", err)
	}
	t.Cleanup(func() { _ = keys.Close(context.Background()) })

	validator, err := resource.NewValidator(resource.Config{
		Issuer:   a.URL,
		Audience: audience,
		Keys:     keys,
		Replay:   resource.NewReplayGuard(nil, policy),
	})
	if err != nil {
		t.Fatalf("failed to create validator: %v", err)
	}
	return validator
}

func location(
	t testing.TB,
	base *url.URL,
	res *http.Response,
) *url.URL {
	t.Helper()
	raw := res.Header.Get("Location")
	if raw == "" {
		return nil
	}
	loc, err := res.Request.URL.Parse(raw)
	if err != nil {
		t.Fatalf("bad location %q from %s: %v", raw, base, err)
	}
	return loc
}
