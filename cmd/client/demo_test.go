package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"git.sr.ht/~jakintosh/rolepass/pkg/authoritytest"
	"git.sr.ht/~jakintosh/rolepass/pkg/client"
)

func newTestRouter(
	t *testing.T,
	gatewayURL string,
) (
	http.Handler,
	*authoritytest.Env,
) {
	t.Helper()
	env := authoritytest.NewEnv("https://auth.test.local", "demo-client")
	d := newDemo(gatewayURL, "demo-client", http.DefaultClient)
	return buildRouter(d, env.Validator(t), nil), env
}

func TestAPI_RoleGate(t *testing.T) {
	t.Parallel()
	router, env := newTestRouter(t, "http://gateway.test.local")

	// any valid token reaches /api/me
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, env.AuthenticatedRequest(t, http.MethodGet, "/api/me", "bob", "user"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var identity struct {
		Subject string  `json:"sub"`
		Role    *string `json:"role"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&identity); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if identity.Subject != "bob" || identity.Role == nil || *identity.Role != "user" {
		t.Errorf("unexpected identity: %+v", identity)
	}

	// only admins reach /api/admin
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, env.AuthenticatedRequest(t, http.MethodGet, "/api/admin", "bob", "user"))
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, env.AuthenticatedRequest(t, http.MethodGet, "/api/admin", "alice", "admin"))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	// no token at all
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/me", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestAPI_CookieBearer(t *testing.T) {
	t.Parallel()
	router, env := newTestRouter(t, "http://gateway.test.local")

	req := httptest.NewRequest(http.MethodGet, "/api/admin", nil)
	req.AddCookie(&http.Cookie{Name: tokenCookie, Value: env.Mint(t, "alice", "admin")})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestWelcome_TokenMode(t *testing.T) {
	t.Parallel()
	router, _ := newTestRouter(t, "http://gateway.test.local")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/welcome?token=abc", nil))
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/" {
		t.Fatalf("expected redirect home, got %d %s", rec.Code, rec.Header().Get("Location"))
	}
	cookie := findCookie(rec, tokenCookie)
	if cookie == nil || cookie.Value != "abc" || !cookie.HttpOnly {
		t.Errorf("unexpected cookie: %+v", cookie)
	}
}

func TestWelcome_SessionMode(t *testing.T) {
	t.Parallel()

	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/session" || r.URL.Query().Get("session") != "s-1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(client.TokenSet{
			IDToken:   "id-token",
			ExpiresAt: time.Now().Add(time.Hour),
		})
	}))
	t.Cleanup(gateway.Close)
	router, _ := newTestRouter(t, gateway.URL)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/welcome?session=s-1", nil))
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", rec.Code)
	}
	cookie := findCookie(rec, tokenCookie)
	if cookie == nil || cookie.Value != "id-token" || cookie.MaxAge <= 0 {
		t.Errorf("unexpected cookie: %+v", cookie)
	}

	// an unknown session sends the user back to sign in
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/welcome?session=gone", nil))
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); !strings.HasPrefix(loc, gateway.URL+"/login?client_id=demo-client") {
		t.Errorf("expected login redirect, got %s", loc)
	}
	if findCookie(rec, tokenCookie) != nil {
		t.Error("no cookie expected for a failed redeem")
	}
}

func TestHome(t *testing.T) {
	t.Parallel()
	router, _ := newTestRouter(t, "http://gateway.test.local")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if !strings.Contains(rec.Body.String(), "http://gateway.test.local/login?client_id=demo-client") {
		t.Errorf("expected sign-in link, got %s", rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: tokenCookie, Value: "x"})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if !strings.Contains(rec.Body.String(), "/api/admin") {
		t.Errorf("expected signed-in page, got %s", rec.Body.String())
	}
}

func findCookie(
	rec *httptest.ResponseRecorder,
	name string,
) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
