// Package routing assembles the authority's HTTP surface.
package routing

import (
	"mime"
	"net/http"
	"time"

	"git.sr.ht/~jakintosh/rolepass/internal/api"
	"git.sr.ht/~jakintosh/rolepass/internal/app"
	"git.sr.ht/~jakintosh/rolepass/internal/metrics"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

const (
	contentTypeForm = "application/x-www-form-urlencoded"
	contentTypeJSON = "application/json"
)

func BuildRouter(
	pages *app.App,
	endpoints *api.API,
	m *metrics.Metrics,
) *mux.Router {
	r := mux.NewRouter()
	r.Use(logRequests)

	// browser flow
	r.HandleFunc("/authorize", pages.Authorize()).Methods(http.MethodGet)
	r.HandleFunc("/login", pages.LoginPage()).Methods(http.MethodGet)
	r.Handle("/login", requireContentType(contentTypeForm, pages.Login())).Methods(http.MethodPost)

	// oauth endpoints
	r.Handle("/token", requireContentType(contentTypeForm, endpoints.Token())).Methods(http.MethodPost)
	r.HandleFunc("/.well-known/jwks.json", endpoints.JWKS()).Methods(http.MethodGet)
	r.HandleFunc("/.well-known/openid-configuration", endpoints.Discovery()).Methods(http.MethodGet)

	// account management
	s := r.PathPrefix("/api/").Subrouter()
	s.Handle("/register", requireContentType(contentTypeJSON, endpoints.Register())).Methods(http.MethodPost)

	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	return r
}

func requireContentType(
	want string,
	next http.Handler,
) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || got != want {
			w.WriteHeader(http.StatusUnsupportedMediaType)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start),
		}).Debug("request")
	})
}
