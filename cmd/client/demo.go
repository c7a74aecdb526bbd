package main

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strings"
	"time"

	"git.sr.ht/~jakintosh/rolepass/pkg/client"
	"git.sr.ht/~jakintosh/rolepass/pkg/resource"
	log "github.com/sirupsen/logrus"
)

const tokenCookie = "rolepass_token"

var homePage = template.Must(template.New("home").Parse(`<!DOCTYPE html>
<html>
<body>
{{if .SignedIn}}
<p>Signed in.</p>
<ul>
	<li><a href="/api/me">Who am I?</a></li>
	<li><a href="/api/admin">Admin area</a></li>
</ul>
<form method="post" action="/logout"><button type="submit">Sign out</button></form>
{{else}}
<a href="{{.LoginURL}}">Sign in</a>
{{end}}
</body>
</html>`))

type demo struct {
	gatewayURL string
	clientID   string
	httpClient *http.Client
}

func newDemo(
	gatewayURL string,
	clientID string,
	httpClient *http.Client,
) *demo {
	return &demo{
		gatewayURL: strings.TrimSuffix(gatewayURL, "/"),
		clientID:   clientID,
		httpClient: httpClient,
	}
}

func (d *demo) loginURL() string {
	return d.gatewayURL + "/login?client_id=" + url.QueryEscape(d.clientID)
}

func (d *demo) home(w http.ResponseWriter, r *http.Request) {
	_, cookieErr := r.Cookie(tokenCookie)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := homePage.Execute(w, struct {
		SignedIn bool
		LoginURL string
	}{
		SignedIn: cookieErr == nil,
		LoginURL: d.loginURL(),
	}); err != nil {
		log.WithError(err).Warn("failed to render home page")
	}
}

// welcome is the post-login target. The gateway sends either a session to
// redeem or the token itself, depending on its redirect mode.
func (d *demo) welcome(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	token, expires := q.Get("token"), time.Time{}
	if token == "" {
		tokenSet, err := d.redeemSession(r, q.Get("session"))
		if err != nil {
			log.WithError(err).Warn("failed to redeem session")
			http.Redirect(w, r, d.loginURL(), http.StatusSeeOther)
			return
		}
		token, expires = tokenSet.IDToken, tokenSet.ExpiresAt
	}

	cookie := &http.Cookie{
		Name:     tokenCookie,
		Path:     "/",
		Value:    token,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
		HttpOnly: true,
	}
	if !expires.IsZero() {
		cookie.MaxAge = int(time.Until(expires).Seconds())
	}
	http.SetCookie(w, cookie)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (d *demo) redeemSession(
	r *http.Request,
	session string,
) (
	*client.TokenSet,
	error,
) {
	if session == "" {
		return nil, fmt.Errorf("no session or token in redirect")
	}
	req, err := http.NewRequestWithContext(
		r.Context(),
		http.MethodGet,
		d.gatewayURL+"/session?session="+url.QueryEscape(session),
		nil,
	)
	if err != nil {
		return nil, err
	}
	res, err := d.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway answered %s", res.Status)
	}
	var tokenSet client.TokenSet
	if err := json.NewDecoder(res.Body).Decode(&tokenSet); err != nil {
		return nil, fmt.Errorf("bad session response: %w", err)
	}
	return &tokenSet, nil
}

func (d *demo) logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookie,
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (d *demo) me(w http.ResponseWriter, r *http.Request) {
	identity, _ := resource.IdentityFromContext(r.Context())
	returnJson(identity, w)
}

func (d *demo) admin(w http.ResponseWriter, r *http.Request) {
	identity, _ := resource.IdentityFromContext(r.Context())
	returnJson(map[string]string{
		"message": "welcome to the admin area, " + identity.Subject,
	}, w)
}

// bearerFromCookie lets browsers reach the API with the cookie set by
// welcome. An explicit Authorization header wins.
func bearerFromCookie(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			if c, err := r.Cookie(tokenCookie); err == nil && c.Value != "" {
				r.Header.Set("Authorization", "Bearer "+c.Value)
			}
		}
		next.ServeHTTP(w, r)
	})
}

func returnJson(data any, w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.WithError(err).Warn("failed to encode response")
	}
}
