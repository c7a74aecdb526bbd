package resource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"

	log "github.com/sirupsen/logrus"
)

type identityKey struct{}

func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*Identity)
	return identity, ok
}

func ContextWithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

type errorResponse struct {
	Error          string `json:"error"`
	Description    string `json:"error_description,omitempty"`
	Reauthenticate bool   `json:"reauthenticate"`
}

// Middleware validates the Authorization header of every request and passes
// the caller's Identity down in the request context.
func (v *Validator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := v.Validate(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			var rejection *Rejection
			if !errors.As(err, &rejection) {
				log.WithError(err).Error("token validation failed")
				writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "server_error"})
				return
			}
			log.WithFields(log.Fields{
				"path":   r.URL.Path,
				"reason": rejection.Code(),
			}).Debug("token rejected")
			w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer error="%s"`, rejection.Code()))
			writeJSON(w, http.StatusUnauthorized, errorResponse{
				Error:          rejection.Code(),
				Description:    rejection.Kind.description(),
				Reauthenticate: rejection.Reauthenticate(),
			})
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
	})
}

// RequireRole admits callers whose role is one of roles. It must run after
// Middleware.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer error="unauthorized"`)
				writeJSON(w, http.StatusUnauthorized, errorResponse{
					Error:          RejectUnauthorized.Code(),
					Description:    RejectUnauthorized.description(),
					Reauthenticate: true,
				})
				return
			}
			if identity.Role == nil || !slices.Contains(roles, *identity.Role) {
				writeJSON(w, http.StatusForbidden, errorResponse{
					Error:       "insufficient_role",
					Description: "this endpoint needs a different role",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Warn("failed to encode response")
	}
}
