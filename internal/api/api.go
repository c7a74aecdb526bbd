// Package api serves the authority's machine-facing endpoints: the token
// endpoint, key discovery and account registration.
package api

import (
	"encoding/json"
	"net/http"

	"git.sr.ht/~jakintosh/rolepass/internal/metrics"
	"git.sr.ht/~jakintosh/rolepass/internal/service"
	"github.com/go-jose/go-jose/v4"
	log "github.com/sirupsen/logrus"
)

// KeySetProvider publishes the public keys tokens are signed with.
type KeySetProvider interface {
	KeySet() jose.JSONWebKeySet
	Issuer() string
}

type API struct {
	service *service.Service
	keys    KeySetProvider
	metrics *metrics.Metrics
}

func New(
	svc *service.Service,
	keys KeySetProvider,
	m *metrics.Metrics,
) *API {
	return &API{
		service: svc,
		keys:    keys,
		metrics: m,
	}
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func decodeRequest[T any](req *T, w http.ResponseWriter, r *http.Request) bool {
	err := json.NewDecoder(r.Body).Decode(req)
	if err != nil {
		logApiErr(r, "bad json request")
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed json body")
		return false
	}
	return true
}

func returnJson(data any, w http.ResponseWriter) {
	returnJsonStatus(data, http.StatusOK, w)
}

func returnJsonStatus(data any, status int, w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Warnf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code string, description string) {
	w.Header().Set("Cache-Control", "no-store")
	returnJsonStatus(errorResponse{Error: code, ErrorDescription: description}, status, w)
}

func logApiErr(r *http.Request, msg string) {
	log.WithFields(log.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
	}).Warn(msg)
}
