package client_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"git.sr.ht/~jakintosh/rolepass/pkg/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(
	handler http.Handler,
	method string,
	target string,
) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRouter_Login(t *testing.T) {
	t.Parallel()
	router := newTestGateway(t, client.RedirectModeSession, newFakeExchanger()).Router()

	// known client redirects to the authority
	rec := serve(router, http.MethodGet, "/login?client_id=billing")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/authorize", location.Path)
	assert.Equal(t, billingClient, location.Query().Get("client_id"))

	// no client id falls back to the default
	rec = serve(router, http.MethodGet, "/login")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	location, err = url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, demoClient, location.Query().Get("client_id"))

	// unknown client gets an error page
	rec = serve(router, http.MethodGet, "/login?client_id=nope")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown_application")
}

func TestRouter_CallbackSuccess(t *testing.T) {
	t.Parallel()
	exchanger := newFakeExchanger()
	gateway := newTestGateway(t, client.RedirectModeSession, exchanger)
	router := gateway.Router()
	state, nonce := beginLogin(t, gateway, demoClient)
	exchanger.expect("code-1", nonce)

	rec := serve(router, http.MethodGet, "/callback?"+callbackQuery(state, "code-1").Encode())
	require.Equal(t, http.StatusSeeOther, rec.Code)
	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	sessionID := location.Query().Get("session")
	require.NotEmpty(t, sessionID)

	// session is readable more than once
	for range 2 {
		rec = serve(router, http.MethodGet, "/session?session="+sessionID)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
		var tokenSet client.TokenSet
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tokenSet))
		assert.Equal(t, "id-token-for-user1", tokenSet.IDToken)
		assert.Equal(t, "user", tokenSet.Claims.RoleValue())
	}

	// logout, twice
	rec = serve(router, http.MethodPost, "/logout?session="+sessionID)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = serve(router, http.MethodPost, "/logout?session="+sessionID)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = serve(router, http.MethodGet, "/session?session="+sessionID)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"session_not_found"}`, rec.Body.String())
}

func TestRouter_CallbackErrorPage(t *testing.T) {
	t.Parallel()
	gateway := newTestGateway(t, client.RedirectModeSession, newFakeExchanger())
	router := gateway.Router()
	state, _ := beginLogin(t, gateway, billingClient)

	q := callbackQuery(state, "")
	q.Set("error", "access_denied")
	q.Set("error_description", "account has no role for this application")
	rec := serve(router, http.MethodGet, "/callback?"+q.Encode())

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "authority_error")
	assert.Contains(t, body, "account has no role for this application")
	assert.Contains(t, body, `href="/login?client_id=billing"`)

	// replaying the callback names no application, so the link uses the default
	rec = serve(router, http.MethodGet, "/callback?"+q.Encode())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown_or_expired_state")
	assert.Contains(t, rec.Body.String(), `href="/login?client_id=demo-client"`)
}

func TestRouter_Methods(t *testing.T) {
	t.Parallel()
	router := newTestGateway(t, client.RedirectModeSession, newFakeExchanger()).Router()

	rec := serve(router, http.MethodGet, "/logout?session=x")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = serve(router, http.MethodPost, "/callback")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
