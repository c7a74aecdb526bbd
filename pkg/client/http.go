package client

import (
	"encoding/json"
	"errors"
	"html/template"
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

var errorPage = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
  <main>
    <h1>{{.Title}}</h1>
    <p>{{.Message}}</p>
    <p><small>Error code: <code>{{.Code}}</code></small></p>
    <p><a href="{{.TryAgain}}">Try again</a></p>
  </main>
</body>
</html>
`))

type errorPageModel struct {
	Title    string
	Message  string
	Code     string
	TryAgain string
}

// Router serves the gateway's endpoints.
func (g *Gateway) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/login", g.LoginHandler()).Methods(http.MethodGet)
	r.HandleFunc("/callback", g.CallbackHandler()).Methods(http.MethodGet)
	r.HandleFunc("/session", g.SessionHandler()).Methods(http.MethodGet)
	r.HandleFunc("/logout", g.LogoutHandler()).Methods(http.MethodPost)
	return r
}

func (g *Gateway) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientID := r.URL.Query().Get("client_id")
		if clientID == "" {
			clientID = g.defaultClientID
		}
		redirect, err := g.Begin(r.Context(), clientID)
		if errors.Is(err, ErrUnknownApplication) {
			writePage(w, http.StatusBadRequest, errorPageModel{
				Title:    "Unknown application",
				Message:  "There is no application registered under that name.",
				Code:     "unknown_application",
				TryAgain: g.TryAgainURL(""),
			})
			return
		}
		if err != nil {
			log.WithError(err).Error("failed to start login")
			writePage(w, http.StatusInternalServerError, errorPageModel{
				Title:    "Something went wrong",
				Message:  "The gateway could not start a sign-in.",
				Code:     "internal_error",
				TryAgain: g.TryAgainURL(clientID),
			})
			return
		}
		http.Redirect(w, r, redirect.String(), http.StatusSeeOther)
	}
}

func (g *Gateway) CallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target, err := g.HandleCallback(r.Context(), r.URL.Query())
		if err != nil {
			var cbErr *CallbackError
			if !errors.As(err, &cbErr) {
				cbErr = newCallbackError(CallbackInternal, "", err)
			}
			writePage(w, cbErr.Status(), errorPageModel{
				Title:    cbErr.title(),
				Message:  cbErr.message(),
				Code:     cbErr.Kind.Code(),
				TryAgain: g.TryAgainURL(cbErr.ClientID),
			})
			return
		}
		http.Redirect(w, r, target.String(), http.StatusSeeOther)
	}
}

func (g *Gateway) SessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenSet, ok, err := g.Session(r.Context(), r.URL.Query().Get("session"))
		if err != nil {
			log.WithError(err).Error("session lookup failed")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
			return
		}
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "session_not_found"})
			return
		}
		writeJSON(w, http.StatusOK, tokenSet)
	}
}

func (g *Gateway) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := g.EndSession(r.Context(), r.URL.Query().Get("session")); err != nil {
			log.WithError(err).Error("session delete failed")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func writePage(w http.ResponseWriter, status int, model errorPageModel) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := errorPage.Execute(w, model); err != nil {
		log.WithError(err).Error("failed to render error page")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.WithError(err).Warn("failed to encode response")
	}
}
